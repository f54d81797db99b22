package tensor

import (
	"fmt"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// CheckIndices validates a neighbor-index matrix against a row count n.
// Every row must have the same length k and every value must lie in [0, n).
// It returns k.
func CheckIndices(op string, idx [][]int, n int) (int, error) {
	if len(idx) == 0 {
		return 0, scigoErrors.Wrapf(scigoErrors.ErrEmptyData, "%s: neighbor indices", op)
	}
	k := len(idx[0])
	if k == 0 {
		return 0, scigoErrors.NewValueError(op, "neighbor index rows are empty")
	}
	for b, row := range idx {
		if len(row) != k {
			return 0, scigoErrors.NewDimensionError(op, k, len(row), 1)
		}
		for _, v := range row {
			if v < 0 || v >= n {
				return 0, scigoErrors.NewValueError(op,
					fmt.Sprintf("neighbor index %d in row %d out of range [0, %d)", v, b, n))
			}
		}
	}
	return k, nil
}

// CheckIndexVector validates query indices against a row count n.
func CheckIndexVector(op string, idx []int, n int) error {
	for i, v := range idx {
		if v < 0 || v >= n {
			return scigoErrors.NewValueError(op,
				fmt.Sprintf("index %d at position %d out of range [0, %d)", v, i, n))
		}
	}
	return nil
}
