// Package optimize fits MuyGPS hyperparameters by minimizing a leave-one-out
// cross-validation loss.
//
// The objective is built by composition: the kernel function turns pairwise
// and crosswise differences into K and Kcross, the noise model perturbs K in
// front of the posterior functions, and a loss compares the posterior with the
// held-out batch targets. Each batch point is excluded from its own neighbor
// set, so the loss measures generalization.
package optimize

import (
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/noise"
	"github.com/YuminosukeSato/muygo/gp/tensors"
	"github.com/YuminosukeSato/muygo/optimize/loss"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Objective maps named hyperparameter values to a loss to be minimized.
// Names absent from p keep the model's current values.
type Objective func(p hyperparameter.Params) (float64, error)

// MakeLOOCrossvalFn composes the leave-one-out objective from its parts.
// pairwise is (B,k,k,D), crosswise (B,k,D), nnTargets (B,k,R) and targets
// (B,R).
func MakeLOOCrossvalFn(
	l loss.LossFn,
	kernelFn distortion.DiffFn,
	meanFn, varFn, sigmaSqFn noise.OptCovFn,
	pairwise, crosswise, nnTargets, targets *tensor.Dense,
) Objective {
	predictAndLoss := l.PredictAndLossFn(meanFn, varFn, sigmaSqFn)
	return func(p hyperparameter.Params) (v float64, err error) {
		defer scigoErrors.Recover(&err, "optimize.Objective")
		K, err := kernelFn(pairwise, p)
		if err != nil {
			return 0, err
		}
		Kcross, err := kernelFn(crosswise, p)
		if err != nil {
			return 0, err
		}
		return predictAndLoss(p, K, Kcross, nnTargets, targets)
	}
}

// NewObjective builds the objective of m over a training batch.
func NewObjective(m *gp.MuyGPS, l loss.LossFn, tt *tensors.TrainTensors) (Objective, error) {
	if err := checkTrainTensors("optimize.NewObjective", tt); err != nil {
		return nil, err
	}
	return MakeLOOCrossvalFn(l,
		m.OptKernelFn(), m.OptMeanFn(), m.OptVarFn(), m.OptSigmaSqFn(),
		tt.Pairwise, tt.Crosswise, tt.BatchNNTargets, tt.BatchTargets,
	), nil
}

// NewMultivariateObjective sums the per-response objectives of mm. Parameter
// names carry the "/r" suffix of MultivariateMuyGPS.GetOptParams.
func NewMultivariateObjective(mm *gp.MultivariateMuyGPS, l loss.LossFn, tt *tensors.TrainTensors) (Objective, error) {
	const op = "optimize.NewMultivariateObjective"
	if err := checkTrainTensors(op, tt); err != nil {
		return nil, err
	}
	R := mm.Len()
	if tt.BatchTargets.Dim(1) != R {
		return nil, scigoErrors.NewDimensionError(op, R, tt.BatchTargets.Dim(1), 1)
	}

	parts := make([]Objective, R)
	for r := 0; r < R; r++ {
		m := mm.Model(r)
		parts[r] = MakeLOOCrossvalFn(l,
			m.OptKernelFn(), m.OptMeanFn(), m.OptVarFn(), m.OptSigmaSqFn(),
			tt.Pairwise, tt.Crosswise, responseSlice(tt.BatchNNTargets, r), responseSlice(tt.BatchTargets, r),
		)
	}
	names, _, _ := mm.GetOptParams()
	return func(p hyperparameter.Params) (float64, error) {
		split, err := gp.SplitResponseParams(p, R, names)
		if err != nil {
			return 0, err
		}
		total := 0.0
		for r, obj := range parts {
			v, err := obj(split[r])
			if err != nil {
				return 0, scigoErrors.Wrapf(err, "response %d", r)
			}
			total += v
		}
		return total, nil
	}, nil
}

func checkTrainTensors(op string, tt *tensors.TrainTensors) error {
	if tt == nil || tt.Pairwise == nil || tt.Crosswise == nil || tt.BatchNNTargets == nil || tt.BatchTargets == nil {
		return scigoErrors.NewValueError(op, "incomplete train tensors")
	}
	B := tt.BatchTargets.Dim(0)
	if err := tensor.CheckShape(op, "batch_nn_targets", tt.BatchNNTargets, B, tt.Crosswise.Dim(1), tt.BatchTargets.Dim(1)); err != nil {
		return err
	}
	return nil
}

// responseSlice returns column r of a (B,R) or (B,k,R) tensor, keeping the
// trailing axis with size 1.
func responseSlice(t *tensor.Dense, r int) *tensor.Dense {
	shape := t.Shape()
	R := shape[len(shape)-1]
	shape[len(shape)-1] = 1
	out := tensor.Zeros(shape...)
	src, dst := t.Data(), out.Data()
	for i := range dst {
		dst[i] = src[i*R+r]
	}
	return out
}
