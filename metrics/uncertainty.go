package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func checkVariance(op string, yTrue, variance mat.Matrix) error {
	if variance == nil {
		return scigoErrors.NewValueError(op, "variance is required")
	}
	n, R := yTrue.Dims()
	vn, vR := variance.Dims()
	if vn != n {
		return scigoErrors.NewDimensionError(op, n, vn, 0)
	}
	if vR != R {
		return scigoErrors.NewDimensionError(op, R, vR, 1)
	}
	return nil
}

// Coverage returns the fraction of responses inside mean ± z·σ, where σ² is
// the posterior variance. For a calibrated model and z = 1.96 it is close to
// 0.95.
func Coverage(yTrue, mean, variance mat.Matrix, z float64) (float64, error) {
	const op = "Coverage"
	n, R, err := checkPair(op, yTrue, mean)
	if err != nil {
		return 0, err
	}
	if err := checkVariance(op, yTrue, variance); err != nil {
		return 0, err
	}
	if z <= 0 {
		return 0, scigoErrors.NewValidationError("z", "must be positive", z)
	}
	inside := 0
	for i := 0; i < n; i++ {
		for r := 0; r < R; r++ {
			v := variance.At(i, r)
			if v < 0 {
				return 0, scigoErrors.NewValidationError("variance", "must be non-negative", v)
			}
			if math.Abs(yTrue.At(i, r)-mean.At(i, r)) <= z*math.Sqrt(v) {
				inside++
			}
		}
	}
	return float64(inside) / float64(n*R), nil
}

// MeanNLPD returns the mean Gaussian negative log predictive density
// ½log(2πσ²) + (y−μ)²/(2σ²) over all responses.
func MeanNLPD(yTrue, mean, variance mat.Matrix) (float64, error) {
	const op = "MeanNLPD"
	n, R, err := checkPair(op, yTrue, mean)
	if err != nil {
		return 0, err
	}
	if err := checkVariance(op, yTrue, variance); err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < n; i++ {
		for r := 0; r < R; r++ {
			v := variance.At(i, r)
			if v <= 0 {
				return 0, scigoErrors.NewValidationError("variance", "must be positive", v)
			}
			d := yTrue.At(i, r) - mean.At(i, r)
			total += 0.5*math.Log(2*math.Pi*v) + d*d/(2*v)
		}
	}
	return total / float64(n*R), nil
}

// Accuracy は一致したラベルの割合を返す
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) == 0 {
		return 0, scigoErrors.Wrap(scigoErrors.ErrEmptyData, "Accuracy")
	}
	if len(yPred) != len(yTrue) {
		return 0, scigoErrors.NewDimensionError("Accuracy", len(yTrue), len(yPred), 0)
	}
	hits := 0
	for i, l := range yTrue {
		if yPred[i] == l {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue)), nil
}
