// Package loss provides the loss functionals used by the leave-one-out
// objective and the builders that pair a loss with the posterior functions
// it needs.
//
// Raw losses compare posterior means with held-out targets. Variance-aware
// losses additionally weight residuals by the σ²-scaled posterior variance.
// Every loss returns a value to be minimized.
package loss

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/noise"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

const (
	// DefaultPseudoHuberBoundary is δ of PseudoHuber when none is given.
	DefaultPseudoHuberBoundary = 1.5
	// DefaultLOOPHBoundary is δ of LOOPH when none is given.
	DefaultLOOPHBoundary = 3.0
	// CrossEntropyClip bounds softmax probabilities away from 0 and 1.
	CrossEntropyClip = 1e-15
)

// Kind tells the objective builder which posterior quantities a loss needs.
type Kind int

const (
	// Raw losses need only the posterior mean.
	Raw Kind = iota
	// Variance losses also need the diagonal variance and σ².
	Variance
)

func (k Kind) String() string {
	if k == Variance {
		return "variance"
	}
	return "raw"
}

// Func evaluates a loss. predictions and targets are (B,R). variances is the
// unscaled (B) diagonal variance and sigmaSq has R entries; both are nil for
// Raw losses.
type Func func(predictions, targets, variances *tensor.Dense, sigmaSq []float64) (float64, error)

// LossFn is a named loss together with the quantities it consumes.
type LossFn struct {
	Name string
	Kind Kind
	// Boundary is δ for the Huber-type losses and zero otherwise.
	Boundary float64
	fn       Func
}

// Eval checks shapes and evaluates the loss. A NaN or infinite result fails
// with a NumericalInstabilityError.
func (l LossFn) Eval(predictions, targets, variances *tensor.Dense, sigmaSq []float64) (float64, error) {
	op := "loss." + l.Name
	if l.fn == nil {
		return 0, scigoErrors.NewValueError(op, "zero LossFn")
	}
	if err := tensor.CheckShape(op, "predictions", predictions, -1, -1); err != nil {
		return 0, err
	}
	if err := tensor.CheckShape(op, "targets", targets, predictions.Shape()...); err != nil {
		return 0, err
	}
	if predictions.Len() == 0 {
		return 0, scigoErrors.NewModelError(op, "empty batch", scigoErrors.ErrEmptyData)
	}
	if l.Kind == Variance {
		if variances == nil || sigmaSq == nil {
			return 0, scigoErrors.NewValueError(op, "variance loss requires variances and sigma_sq")
		}
		if err := tensor.CheckShape(op, "variances", variances, predictions.Dim(0)); err != nil {
			return 0, err
		}
		if len(sigmaSq) != predictions.Dim(1) {
			return 0, scigoErrors.NewDimensionError(op, predictions.Dim(1), len(sigmaSq), 0)
		}
	}
	v, err := l.fn(predictions, targets, variances, sigmaSq)
	if err != nil {
		return 0, err
	}
	if err := scigoErrors.CheckScalar(op, v, 0); err != nil {
		return 0, err
	}
	return v, nil
}

// MSE is the mean squared error over every batch element and response.
var MSE = LossFn{Name: "mse", Kind: Raw, fn: mse}

// CrossEntropy treats predictions as logits over classes. Targets greater
// than zero mark the true class.
var CrossEntropy = LossFn{Name: "cross_entropy", Kind: Raw, fn: crossEntropy}

// LOOL is the leave-one-out likelihood loss Σ (p−t)²/(vσ²) + log(vσ²).
var LOOL = LossFn{Name: "lool", Kind: Variance, fn: lool}

// PseudoHuber returns the smooth Huber loss with boundary δ.
func PseudoHuber(boundary float64) LossFn {
	return LossFn{Name: "pseudo_huber", Kind: Raw, Boundary: boundary, fn: func(p, t, _ *tensor.Dense, _ []float64) (float64, error) {
		return pseudoHuber(p, t, boundary)
	}}
}

// LOOPH returns the variance-scaled pseudo-Huber loss with boundary δ.
func LOOPH(boundary float64) LossFn {
	return LossFn{Name: "looph", Kind: Variance, Boundary: boundary, fn: func(p, t, v *tensor.Dense, s []float64) (float64, error) {
		return looph(p, t, v, s, boundary)
	}}
}

// Parse returns the loss called name with default boundaries.
func Parse(name string) (LossFn, error) {
	switch name {
	case "mse":
		return MSE, nil
	case "cross_entropy", "log":
		return CrossEntropy, nil
	case "lool":
		return LOOL, nil
	case "pseudo_huber", "huber":
		return PseudoHuber(DefaultPseudoHuberBoundary), nil
	case "looph":
		return LOOPH(DefaultLOOPHBoundary), nil
	default:
		return LossFn{}, scigoErrors.NewValidationError("loss", "unknown loss function", name)
	}
}

func mse(p, t, _ *tensor.Dense, _ []float64) (float64, error) {
	d := floats.Distance(p.Data(), t.Data(), 2)
	return d * d / float64(p.Len()), nil
}

func crossEntropy(p, t, _ *tensor.Dense, _ []float64) (float64, error) {
	B, C := p.Dim(0), p.Dim(1)
	if C < 2 {
		return 0, scigoErrors.NewValueError("loss.cross_entropy", "need at least two classes")
	}
	pd, td := p.Data(), t.Data()
	probs := make([]float64, C)
	total := 0.0
	for b := 0; b < B; b++ {
		scigoErrors.Softmax(probs, pd[b*C:(b+1)*C])
		// クリップ後に正規化し直す
		for c := range probs {
			probs[c] = scigoErrors.ClipValue(probs[c], CrossEntropyClip, 1-CrossEntropyClip)
		}
		floats.Scale(1/floats.Sum(probs), probs)
		for c := 0; c < C; c++ {
			if td[b*C+c] > 0 {
				total -= math.Log(probs[c])
			}
		}
	}
	return total, nil
}

func lool(p, t, v *tensor.Dense, sigmaSq []float64) (float64, error) {
	R := len(sigmaSq)
	pd, td, vd := p.Data(), t.Data(), v.Data()
	total := 0.0
	for b := range vd {
		for r, s := range sigmaSq {
			scaled := vd[b] * s
			if !(scaled > 0) {
				return 0, scigoErrors.NewConditioningError("loss.lool", b, scaled, "non-positive scaled variance")
			}
			res := pd[b*R+r] - td[b*R+r]
			total += res*res/scaled + math.Log(scaled)
		}
	}
	return total, nil
}

func pseudoHuber(p, t *tensor.Dense, boundary float64) (float64, error) {
	if !(boundary > 0) {
		return 0, scigoErrors.NewValidationError("boundary", "must be positive", boundary)
	}
	pd, td := p.Data(), t.Data()
	d2 := boundary * boundary
	total := 0.0
	for i := range pd {
		z := (td[i] - pd[i]) / boundary
		total += d2 * (math.Sqrt(1+z*z) - 1)
	}
	return total, nil
}

func looph(p, t, v *tensor.Dense, sigmaSq []float64, boundary float64) (float64, error) {
	if !(boundary > 0) {
		return 0, scigoErrors.NewValidationError("boundary", "must be positive", boundary)
	}
	R := len(sigmaSq)
	pd, td, vd := p.Data(), t.Data(), v.Data()
	d2 := boundary * boundary
	total := 0.0
	for b := range vd {
		for r, s := range sigmaSq {
			scaled := vd[b] * s
			if !(scaled > 0) {
				return 0, scigoErrors.NewConditioningError("loss.looph", b, scaled, "non-positive scaled variance")
			}
			res := td[b*R+r] - pd[b*R+r]
			total += 2*d2*(math.Sqrt(1+res*res/(d2*scaled))-1) + math.Log(scaled)
		}
	}
	return total, nil
}

// PredictAndLossFn maps keyword hyperparameters and the tensors of one
// batch to a loss. K is the unperturbed (B,k,k) covariance.
type PredictAndLossFn func(p hyperparameter.Params, K, Kcross, nnTargets, targets *tensor.Dense) (float64, error)

// MakeRawPredictAndLossFn pairs a Raw loss with an optimizable mean function.
func MakeRawPredictAndLossFn(l LossFn, meanFn noise.OptCovFn) PredictAndLossFn {
	return func(p hyperparameter.Params, K, Kcross, nnTargets, targets *tensor.Dense) (float64, error) {
		predictions, err := meanFn(p, K, Kcross, nnTargets)
		if err != nil {
			return 0, err
		}
		return l.Eval(predictions, targets, nil, nil)
	}
}

// MakeVarPredictAndLossFn pairs a Variance loss with optimizable mean,
// variance and σ² functions. σ² is refit for every evaluation.
func MakeVarPredictAndLossFn(l LossFn, meanFn, varFn, sigmaSqFn noise.OptCovFn) PredictAndLossFn {
	return func(p hyperparameter.Params, K, Kcross, nnTargets, targets *tensor.Dense) (float64, error) {
		predictions, err := meanFn(p, K, Kcross, nnTargets)
		if err != nil {
			return 0, err
		}
		sigmaSq, err := sigmaSqFn(p, K, nnTargets)
		if err != nil {
			return 0, err
		}
		variances, err := varFn(p, K, Kcross)
		if err != nil {
			return 0, err
		}
		return l.Eval(predictions, targets, variances, sigmaSq.Data())
	}
}

// PredictAndLossFn picks the builder matching the loss kind.
func (l LossFn) PredictAndLossFn(meanFn, varFn, sigmaSqFn noise.OptCovFn) PredictAndLossFn {
	if l.Kind == Variance {
		return MakeVarPredictAndLossFn(l, meanFn, varFn, sigmaSqFn)
	}
	return MakeRawPredictAndLossFn(l, meanFn)
}
