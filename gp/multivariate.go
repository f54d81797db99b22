package gp

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

const multivariateName = "MultivariateMuyGPS"

// MultivariateMuyGPS holds one independent model per response column. The
// models share neighborhoods but not hyperparameters, and there is no
// cross-response covariance.
type MultivariateMuyGPS struct {
	models []*MuyGPS
	be     backend.Backend
	logger log.Logger
	id     string
}

// NewMultivariate combines models, one per response. All models must be
// bound to the same backend.
func NewMultivariate(models ...*MuyGPS) (*MultivariateMuyGPS, error) {
	const op = "gp.NewMultivariate"
	if len(models) == 0 {
		return nil, scigoErrors.NewValueError(op, "at least one model is required")
	}
	be := models[0].be
	for _, m := range models[1:] {
		if m.be.Name() != be.Name() {
			return nil, scigoErrors.NewBackendError(op, be.Name(), m.be.Name())
		}
	}
	mm := &MultivariateMuyGPS{
		models: append([]*MuyGPS(nil), models...),
		be:     be,
		id:     uuid.New().String(),
	}
	mm.logger = log.GetLoggerWithName("gp").With(
		log.ModelNameKey, multivariateName,
		log.EstimatorIDKey, mm.id,
		log.ResponsesKey, len(models),
		log.BackendKey, be.Name(),
	)
	return mm, nil
}

// ID returns the estimator id.
func (mm *MultivariateMuyGPS) ID() string { return mm.id }

// Len returns the number of responses R.
func (mm *MultivariateMuyGPS) Len() int { return len(mm.models) }

// Model returns the model of response r.
func (mm *MultivariateMuyGPS) Model(r int) *MuyGPS { return mm.models[r] }

// GetOptParams concatenates the optimizable hyperparameters of every model,
// each name suffixed with "/r".
func (mm *MultivariateMuyGPS) GetOptParams() ([]string, []float64, []hyperparameter.Bound) {
	var (
		names  []string
		x0     []float64
		bounds []hyperparameter.Bound
	)
	for r, m := range mm.models {
		n, x, b := m.GetOptParams()
		for i := range n {
			names = append(names, responseName(n[i], r))
		}
		x0 = append(x0, x...)
		bounds = append(bounds, b...)
	}
	return names, x0, bounds
}

// SetParams routes "name/r" entries to model r. Names without a valid
// response suffix fail with a HyperparameterNameError. Every model validates
// its entries before any model is changed.
func (mm *MultivariateMuyGPS) SetParams(p hyperparameter.Params) error {
	known, _, _ := mm.GetOptParams()
	split, err := SplitResponseParams(p, len(mm.models), known)
	if err != nil {
		return err
	}

	// 全モデルで検証してから適用する
	for r, sp := range split {
		if len(sp) == 0 {
			continue
		}
		if err := mm.models[r].Hyperparameters().Update(sp); err != nil {
			return err
		}
	}
	for r, sp := range split {
		if len(sp) == 0 {
			continue
		}
		if err := mm.models[r].SetParams(sp); err != nil {
			return err
		}
	}
	return nil
}

// SplitResponseParams routes the "name/r" entries of p into one Params per
// response. known is reported in the HyperparameterNameError raised for names
// without a suffix in [0, R).
func SplitResponseParams(p hyperparameter.Params, R int, known []string) ([]hyperparameter.Params, error) {
	split := make([]hyperparameter.Params, R)
	for r := range split {
		split[r] = hyperparameter.Params{}
	}
	for name, v := range p {
		base, r, ok := splitResponseName(name)
		if !ok || r < 0 || r >= R {
			return nil, scigoErrors.NewHyperparameterNameError("gp.SplitResponseParams", name, known)
		}
		split[r][base] = v
	}
	return split, nil
}

func (mm *MultivariateMuyGPS) checkResponses(op string, nnTargets *tensor.Dense) error {
	if err := tensor.CheckShape(op, "nn_targets", nnTargets, -1, -1, len(mm.models)); err != nil {
		return err
	}
	return nil
}

// PosteriorMean returns the (B,R) mean. Each model evaluates its own kernel
// on the shared pairwise (B,k,k,D) and crosswise (B,k,D) differences.
func (mm *MultivariateMuyGPS) PosteriorMean(pairwise, crosswise, nnTargets *tensor.Dense) (*tensor.Dense, error) {
	const op = "MultivariateMuyGPS.PosteriorMean"
	if err := mm.checkResponses(op, nnTargets); err != nil {
		return nil, err
	}
	cols := make([]*tensor.Dense, len(mm.models))
	for r, m := range mm.models {
		K, err := m.Kernel(pairwise)
		if err != nil {
			return nil, err
		}
		Kcross, err := m.Kernel(crosswise)
		if err != nil {
			return nil, err
		}
		if cols[r], err = m.PosteriorMean(K, Kcross, column(nnTargets, r)); err != nil {
			return nil, err
		}
	}
	mm.logger.Debug("posterior mean",
		log.OperationKey, log.OperationPosteriorMean,
		log.BatchSizeKey, pairwise.Dim(0),
	)
	return joinColumns(cols), nil
}

// DiagonalVariance returns the unscaled (B,R) variance.
func (mm *MultivariateMuyGPS) DiagonalVariance(pairwise, crosswise *tensor.Dense) (*tensor.Dense, error) {
	return mm.variance(pairwise, crosswise, func(m *MuyGPS, K, Kcross *tensor.Dense) (*tensor.Dense, error) {
		return m.DiagonalVariance(K, Kcross)
	})
}

// PosteriorVariance returns the (B,R) variance scaled by each model's σ².
func (mm *MultivariateMuyGPS) PosteriorVariance(pairwise, crosswise *tensor.Dense) (*tensor.Dense, error) {
	return mm.variance(pairwise, crosswise, func(m *MuyGPS, K, Kcross *tensor.Dense) (*tensor.Dense, error) {
		return m.PosteriorVariance(K, Kcross)
	})
}

func (mm *MultivariateMuyGPS) variance(pairwise, crosswise *tensor.Dense, fn func(m *MuyGPS, K, Kcross *tensor.Dense) (*tensor.Dense, error)) (*tensor.Dense, error) {
	cols := make([]*tensor.Dense, len(mm.models))
	for r, m := range mm.models {
		K, err := m.Kernel(pairwise)
		if err != nil {
			return nil, err
		}
		Kcross, err := m.Kernel(crosswise)
		if err != nil {
			return nil, err
		}
		v, err := fn(m, K, Kcross)
		if err != nil {
			return nil, err
		}
		if v.NDim() == 2 {
			// σ²付きの分散は(B,1)
			if v, err = v.Reshape(v.Dim(0)); err != nil {
				return nil, err
			}
		}
		cols[r] = v
	}
	return joinColumns(cols), nil
}

// OptimizeSigmaSq fits σ² for every model from its own kernel and the
// matching target column.
func (mm *MultivariateMuyGPS) OptimizeSigmaSq(pairwise, nnTargets *tensor.Dense) ([]float64, error) {
	const op = "MultivariateMuyGPS.OptimizeSigmaSq"
	if err := mm.checkResponses(op, nnTargets); err != nil {
		return nil, err
	}
	out := make([]float64, len(mm.models))
	for r, m := range mm.models {
		K, err := m.Kernel(pairwise)
		if err != nil {
			return nil, err
		}
		s, err := m.OptimizeSigmaSq(K, column(nnTargets, r))
		if err != nil {
			return nil, err
		}
		out[r] = s[0]
	}
	return out, nil
}

// Predict mirrors MuyGPS.Predict over shared difference tensors.
func (mm *MultivariateMuyGPS) Predict(pairwise, crosswise, nnTargets *tensor.Dense, mode Mode) (*Posterior, error) {
	var out Posterior
	var err error
	if mode != VarianceOnly {
		if out.Mean, err = mm.PosteriorMean(pairwise, crosswise, nnTargets); err != nil {
			return nil, err
		}
	}
	if mode != MeanOnly {
		if out.Variance, err = mm.PosteriorVariance(pairwise, crosswise); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// FastPrecompute returns the (N,k,R) coefficient cache for fast pairwise
// differences and neighbor targets.
func (mm *MultivariateMuyGPS) FastPrecompute(pairwise, nnTargets *tensor.Dense) (*tensor.Dense, error) {
	const op = "MultivariateMuyGPS.FastPrecompute"
	if err := mm.checkResponses(op, nnTargets); err != nil {
		return nil, err
	}
	cols := make([]*tensor.Dense, len(mm.models))
	for r, m := range mm.models {
		c, err := m.fastCoefficients(pairwise, column(nnTargets, r))
		if err != nil {
			return nil, err
		}
		cols[r] = c
	}
	return stackColumns(cols), nil
}

// CrossCovariance evaluates each model's kernel on crosswise differences and
// returns the (B,k,R) stack.
func (mm *MultivariateMuyGPS) CrossCovariance(crosswise *tensor.Dense) (*tensor.Dense, error) {
	return crossCovariance(mm.models, crosswise)
}

// FastPosteriorMean contracts each response slice of a (B,k,R)
// cross-covariance with the matching coefficients.
func (mm *MultivariateMuyGPS) FastPosteriorMean(Kcross, coeffs *tensor.Dense) (*tensor.Dense, error) {
	const op = "MultivariateMuyGPS.FastPosteriorMean"
	if err := backend.Require(op, mm.be); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "Kcross", Kcross, -1, -1, len(mm.models)); err != nil {
		return nil, err
	}
	return MultivariateFastPosteriorMean(mm.be, Kcross, coeffs)
}

// BuildFastPredictor precomputes a cache with one coefficient column per
// model.
func (mm *MultivariateMuyGPS) BuildFastPredictor(nn [][]int, features, responses mat.Matrix) (*FastPredictor, error) {
	f := &FastPredictor{models: mm.models, multi: true, be: mm.be, logger: mm.logger}
	if err := f.Rebuild(nn, features, responses); err != nil {
		return nil, err
	}
	return f, nil
}

// joinColumns joins R tensors of shape (B) or (B,1) into (B,R).
func joinColumns(cols []*tensor.Dense) *tensor.Dense {
	B, R := cols[0].Dim(0), len(cols)
	out := tensor.Zeros(B, R)
	dst := out.Data()
	for r, c := range cols {
		for b, v := range c.Data() {
			dst[b*R+r] = v
		}
	}
	return out
}

func responseName(name string, r int) string {
	return name + "/" + strconv.Itoa(r)
}

func splitResponseName(name string) (string, int, bool) {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return "", 0, false
	}
	r, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return "", 0, false
	}
	return name[:i], r, true
}
