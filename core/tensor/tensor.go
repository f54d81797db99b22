// Package tensor provides a minimal row-major N-dimensional float64 array used
// for batched neighborhood tensors such as (B,k,k,D) pairwise differences.
//
// Two-dimensional tensors convert to and from gonum mat.Dense without copying
// the backing slice.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Dense is a row-major tensor. The zero value is not usable; build one with
// New, Zeros or FromMatrix.
type Dense struct {
	shape   []int
	strides []int
	data    []float64
}

// New wraps data with the given shape. The slice is used directly.
func New(shape []int, data []float64) (*Dense, error) {
	n, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, scigoErrors.NewValueError("tensor.New",
			fmt.Sprintf("shape %v needs %d elements, got %d", shape, n, len(data)))
	}
	sh := append([]int(nil), shape...)
	return &Dense{shape: sh, strides: stridesOf(sh), data: data}, nil
}

// Zeros allocates a zero tensor. It panics on negative dimensions, as
// mat.NewDense does.
func Zeros(shape ...int) *Dense {
	n, err := volume(shape)
	if err != nil {
		panic(err)
	}
	sh := append([]int(nil), shape...)
	return &Dense{shape: sh, strides: stridesOf(sh), data: make([]float64, n)}
}

// Full allocates a tensor filled with v.
func Full(v float64, shape ...int) *Dense {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func volume(shape []int) (int, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return 0, scigoErrors.NewValueError("tensor", fmt.Sprintf("negative dimension in shape %v", shape))
		}
		n *= s
	}
	return n, nil
}

func stridesOf(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// Shape returns a copy of the tensor's shape.
func (t *Dense) Shape() []int { return append([]int(nil), t.shape...) }

// NDim returns the number of axes.
func (t *Dense) NDim() int { return len(t.shape) }

// Dim returns the size of axis i.
func (t *Dense) Dim(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Dense) Len() int { return len(t.data) }

// Data returns the backing slice. Writes through it are visible to t.
func (t *Dense) Data() []float64 { return t.data }

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d-d tensor", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range on axis %d (size %d)", v, i, t.shape[i]))
		}
		off += v * t.strides[i]
	}
	return off
}

// At returns the element at idx.
func (t *Dense) At(idx ...int) float64 { return t.data[t.offset(idx)] }

// Set stores v at idx.
func (t *Dense) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{
		shape:   append([]int(nil), t.shape...),
		strides: append([]int(nil), t.strides...),
		data:    append([]float64(nil), t.data...),
	}
}

// Reshape returns a view with a new shape over the same data.
func (t *Dense) Reshape(shape ...int) (*Dense, error) {
	n, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.data) {
		return nil, scigoErrors.NewInputShapeError("tensor.Reshape", shape, t.shape)
	}
	sh := append([]int(nil), shape...)
	return &Dense{shape: sh, strides: stridesOf(sh), data: t.data}, nil
}

// Index returns a view of the sub-tensor at position i of the leading axis.
func (t *Dense) Index(i int) *Dense {
	if len(t.shape) == 0 || i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("tensor: leading index %d out of range for shape %v", i, t.shape))
	}
	step := t.strides[0]
	sh := append([]int(nil), t.shape[1:]...)
	return &Dense{shape: sh, strides: stridesOf(sh), data: t.data[i*step : (i+1)*step]}
}

// FromMatrix copies a gonum matrix into a 2-d tensor.
func FromMatrix(m mat.Matrix) *Dense {
	r, c := m.Dims()
	t := Zeros(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

// FromRows builds a 2-d tensor from equal-length rows.
func FromRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 {
		return Zeros(0, 0), nil
	}
	c := len(rows[0])
	t := Zeros(len(rows), c)
	for i, row := range rows {
		if len(row) != c {
			return nil, scigoErrors.NewDimensionError("tensor.FromRows", c, len(row), 1)
		}
		copy(t.data[i*c:], row)
	}
	return t, nil
}

// Matrix returns a mat.Dense sharing t's data. t must be 2-d.
func (t *Dense) Matrix() (*mat.Dense, error) {
	if len(t.shape) != 2 {
		return nil, scigoErrors.NewInputShapeError("tensor.Matrix", []int{-1, -1}, t.shape)
	}
	if t.shape[0] == 0 || t.shape[1] == 0 {
		return nil, scigoErrors.ErrEmptyData
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data), nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Dense) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether a and b have the same shape and every element
// differs by at most tol. NaNs never compare close.
func AllClose(a, b *Dense, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if !(math.Abs(a.data[i]-b.data[i]) <= tol) {
			return false
		}
	}
	return true
}

// CheckShape fails with an InputShapeError unless t has the wanted shape.
// A negative entry in want matches any size on that axis.
func CheckShape(op, name string, t *Dense, want ...int) error {
	if t == nil {
		return scigoErrors.NewNamedInputShapeError(op, name, want, nil)
	}
	ok := len(t.shape) == len(want)
	for i := 0; ok && i < len(want); i++ {
		if want[i] >= 0 && want[i] != t.shape[i] {
			ok = false
		}
	}
	if !ok {
		return scigoErrors.NewNamedInputShapeError(op, name, want, t.Shape())
	}
	return nil
}
