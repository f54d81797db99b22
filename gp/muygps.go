// Package gp implements the local-kernel posterior engine and the MuyGPS
// model built on it.
//
// Every prediction is restricted to a neighborhood of k training points, so
// the linear algebra is a batch of small k×k solves instead of one N×N solve.
// The engine functions (PosteriorMean, DiagonalVariance, SigmaSqOptim,
// FastPrecompute) take an explicit backend.Backend and perturbed covariances.
// MuyGPS wraps them with a kernel and a noise model.
//
// 典型的な使い方:
//
//	ls, _ := hyperparameter.Bounded(1.0, 0.1, 10)
//	kern, _ := kernels.NewMatern(hyperparameter.Fixed(0.5), distortion.NewIsotropic(distortion.L2, ls))
//	eps, _ := noise.NewHomoscedastic(hyperparameter.Fixed(1e-3))
//	m, _ := gp.New(kern, eps)
//	K, _ := m.Kernel(pairwise)
//	Kcross, _ := m.Kernel(crosswise)
//	mean, _ := m.PosteriorMean(K, Kcross, nnTargets)
package gp

import (
	"sync"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/model"
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/kernels"
	"github.com/YuminosukeSato/muygo/gp/noise"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

const modelName = "MuyGPS"

// MuyGPS は局所カーネルによるガウス過程モデル
//
// A model owns one kernel and one noise model. Hyperparameters change only
// through SetParams (which the optimizer uses); σ² changes only through
// OptimizeSigmaSq. Changing hyperparameters clears a fitted σ².
type MuyGPS struct {
	mu      sync.RWMutex
	kernel  kernels.Kernel
	eps     noise.Noise
	sigmaSq []float64
	state   *model.StateManager

	be     backend.Backend
	logger log.Logger
	id     string
}

// Option configures a MuyGPS.
type Option func(*MuyGPS)

// WithBackend binds the model to be instead of the active backend.
func WithBackend(be backend.Backend) Option {
	return func(m *MuyGPS) {
		m.be = be
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *MuyGPS) {
		m.logger = l
	}
}

// WithSigmaSq presets the variance scale, one value per response.
func WithSigmaSq(values ...float64) Option {
	return func(m *MuyGPS) {
		m.sigmaSq = append([]float64(nil), values...)
	}
}

// New は新しいMuyGPSモデルを作成
func New(kernel kernels.Kernel, eps noise.Noise, opts ...Option) (*MuyGPS, error) {
	m := &MuyGPS{
		kernel: kernel.Clone(),
		eps:    eps,
		state:  model.NewStateManager(),
		be:     backend.Active(),
		id:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.kernel = m.kernel.WithBackend(m.be)

	if m.logger == nil {
		m.logger = log.GetLoggerWithName("gp")
	}
	m.logger = m.logger.With(
		log.ModelNameKey, modelName,
		log.EstimatorIDKey, m.id,
		log.KernelKey, m.kernel.Kind().String(),
		log.NoiseKey, m.eps.Kind().String(),
		log.BackendKey, m.be.Name(),
	)

	// カーネルとノイズで名前が衝突していないことを確認
	if _, err := m.hyperparameters(); err != nil {
		return nil, err
	}

	if m.sigmaSq != nil {
		for _, v := range m.sigmaSq {
			if !(v > 0) {
				return nil, scigoErrors.NewValidationError("sigma_sq", "variance scale must be positive", v)
			}
		}
		m.state.SetDimensions(len(m.sigmaSq), 0)
		m.state.SetFitted()
	}
	return m, nil
}

// ID returns the estimator id attached to every log record.
func (m *MuyGPS) ID() string { return m.id }

// Backend returns the backend the model is bound to.
func (m *MuyGPS) Backend() backend.Backend { return m.be }

// KernelModel returns a copy of the kernel.
func (m *MuyGPS) KernelModel() kernels.Kernel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kernel.Clone()
}

// Noise returns the noise model.
func (m *MuyGPS) Noise() noise.Noise {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eps
}

// snapshot returns the components under the read lock.
func (m *MuyGPS) snapshot() (kernels.Kernel, noise.Noise) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kernel.Clone(), m.eps
}

func (m *MuyGPS) hyperparameters() (*hyperparameter.Set, error) {
	kernel, eps := m.snapshot()
	items := append(kernel.Hyperparameters(), eps.Hyperparameters()...)
	return hyperparameter.NewSet(items...)
}

// Hyperparameters returns every named hyperparameter in canonical order:
// nu, length scales, eps.
func (m *MuyGPS) Hyperparameters() *hyperparameter.Set {
	s, err := m.hyperparameters()
	if err != nil {
		// New rejects colliding names, so this cannot happen after construction.
		panic(err)
	}
	return s
}

// GetOptParams returns the names, current values and bounds of the
// optimizable hyperparameters. Fixed ones are excluded.
func (m *MuyGPS) GetOptParams() ([]string, []float64, []hyperparameter.Bound) {
	return m.Hyperparameters().OptParams()
}

// SetParams assigns hyperparameters by name. Either every entry is applied
// or, on error, none is. Unknown names fail with a HyperparameterNameError.
func (m *MuyGPS) SetParams(p hyperparameter.Params) error {
	const op = "MuyGPS.SetParams"

	// 名前と範囲を先に検証する
	staged := m.Hyperparameters()
	if err := staged.Update(p); err != nil {
		return err
	}

	m.mu.Lock()
	kernel := m.kernel.Clone()
	eps := m.eps
	for _, name := range p.Names() {
		var err error
		if name == noise.EpsName && eps.Kind() == noise.Homoscedastic {
			err = eps.Set(name, p[name])
		} else {
			err = kernel.Set(name, p[name])
		}
		if err != nil {
			m.mu.Unlock()
			return scigoErrors.Wrap(err, op)
		}
	}
	m.kernel, m.eps = kernel, eps
	m.sigmaSq = nil
	m.mu.Unlock()

	m.state.Reset()
	m.logger.Debug("hyperparameters updated", log.HyperParamsKey, p)
	return nil
}

// Kernel evaluates the kernel on a difference tensor ((B,k,k,D) pairwise or
// (B,k,D) crosswise) at the current hyperparameters.
func (m *MuyGPS) Kernel(diffs *tensor.Dense) (*tensor.Dense, error) {
	kernel, _ := m.snapshot()
	return kernel.Eval(diffs)
}

// Perturb adds the model's nugget to K.
func (m *MuyGPS) Perturb(K *tensor.Dense) (*tensor.Dense, error) {
	_, eps := m.snapshot()
	return eps.Perturb(K)
}

// PosteriorMean returns the (B,R) posterior mean. K is the unperturbed
// (B,k,k) covariance; the nugget is added here.
func (m *MuyGPS) PosteriorMean(K, Kcross, nnTargets *tensor.Dense) (mean *tensor.Dense, err error) {
	const op = "MuyGPS.PosteriorMean"
	defer scigoErrors.Recover(&err, op)
	if err := backend.Require(op, m.be); err != nil {
		return nil, err
	}
	Kp, err := m.Perturb(K)
	if err != nil {
		return nil, err
	}
	mean, err = PosteriorMean(m.be, Kp, Kcross, nnTargets)
	if err != nil {
		m.logFailure(op, err)
		return nil, err
	}
	m.logger.Debug("posterior mean",
		log.OperationKey, log.OperationPosteriorMean,
		log.BatchSizeKey, K.Dim(0),
		log.NeighborsKey, K.Dim(1),
	)
	return mean, nil
}

// DiagonalVariance returns the unscaled (B) posterior variance.
func (m *MuyGPS) DiagonalVariance(K, Kcross *tensor.Dense) (variance *tensor.Dense, err error) {
	const op = "MuyGPS.DiagonalVariance"
	defer scigoErrors.Recover(&err, op)
	if err := backend.Require(op, m.be); err != nil {
		return nil, err
	}
	Kp, err := m.Perturb(K)
	if err != nil {
		return nil, err
	}
	variance, err = DiagonalVariance(m.be, Kp, Kcross)
	if err != nil {
		m.logFailure(op, err)
		return nil, err
	}
	return variance, nil
}

// PosteriorVariance returns the (B,R) variance scaled by the fitted σ² of
// each response. It fails with a NotFittedError before OptimizeSigmaSq.
func (m *MuyGPS) PosteriorVariance(K, Kcross *tensor.Dense) (*tensor.Dense, error) {
	const op = "MuyGPS.PosteriorVariance"
	sigmaSq, err := m.SigmaSq()
	if err != nil {
		return nil, err
	}
	raw, err := m.DiagonalVariance(K, Kcross)
	if err != nil {
		return nil, err
	}
	B, R := raw.Dim(0), len(sigmaSq)
	out := tensor.Zeros(B, R)
	v, o := raw.Data(), out.Data()
	for b := 0; b < B; b++ {
		for r, s := range sigmaSq {
			o[b*R+r] = v[b] * s
		}
	}
	m.logger.Debug("posterior variance",
		log.OperationKey, log.OperationPosteriorVariance,
		log.BatchSizeKey, B,
		log.ResponsesKey, R,
	)
	return out, nil
}

// OptimizeSigmaSq fits σ² analytically from K and the neighbor targets and
// stores it on the model.
func (m *MuyGPS) OptimizeSigmaSq(K, nnTargets *tensor.Dense) (sigmaSq []float64, err error) {
	const op = "MuyGPS.OptimizeSigmaSq"
	defer scigoErrors.Recover(&err, op)
	if err := backend.Require(op, m.be); err != nil {
		return nil, err
	}
	Kp, err := m.Perturb(K)
	if err != nil {
		return nil, err
	}
	s, err := SigmaSqOptim(m.be, Kp, nnTargets)
	if err != nil {
		m.logFailure(op, err)
		return nil, err
	}
	sigmaSq = append([]float64(nil), s.Data()...)

	m.mu.Lock()
	m.sigmaSq = sigmaSq
	m.mu.Unlock()
	m.state.SetDimensions(len(sigmaSq), K.Dim(0))
	m.state.SetFitted()

	m.logger.Info("sigma_sq fitted",
		log.OperationKey, log.OperationSigmaSq,
		log.BatchSizeKey, K.Dim(0),
		log.SigmaSqKey, sigmaSq,
	)
	return append([]float64(nil), sigmaSq...), nil
}

// SigmaSq returns a copy of the fitted variance scale.
func (m *MuyGPS) SigmaSq() ([]float64, error) {
	if err := m.state.RequireFitted(modelName, "SigmaSq"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.sigmaSq...), nil
}

// Mode selects what Predict computes.
type Mode int

const (
	// MeanOnly computes the posterior mean.
	MeanOnly Mode = iota
	// VarianceOnly computes the σ²-scaled posterior variance.
	VarianceOnly
	// MeanAndVariance computes both.
	MeanAndVariance
)

// Posterior holds the outputs of Predict. Fields not requested are nil.
type Posterior struct {
	Mean     *tensor.Dense // (B,R)
	Variance *tensor.Dense // (B,R)
}

// Predict is the single prediction entry point. nnTargets may be nil for
// VarianceOnly.
func (m *MuyGPS) Predict(K, Kcross, nnTargets *tensor.Dense, mode Mode) (*Posterior, error) {
	var out Posterior
	var err error
	if mode != VarianceOnly {
		if out.Mean, err = m.PosteriorMean(K, Kcross, nnTargets); err != nil {
			return nil, err
		}
	}
	if mode != MeanOnly {
		if out.Variance, err = m.PosteriorVariance(K, Kcross); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// OptKernelFn returns the kernel as a function of differences and keyword
// hyperparameters, for use in objectives.
func (m *MuyGPS) OptKernelFn() distortion.DiffFn {
	kernel, _ := m.snapshot()
	return kernel.OptFn()
}

// OptMeanFn returns PosteriorMean(K, Kcross, nnTargets) as a function of
// keyword hyperparameters with the nugget applied to K. Like the other Opt*Fn
// closures it fails with a BackendError once another backend is active.
func (m *MuyGPS) OptMeanFn() noise.OptCovFn {
	be := m.be
	return m.optCovFn(func(K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error) {
		if len(args) != 2 {
			return nil, scigoErrors.NewValueError("MuyGPS.OptMeanFn", "expected Kcross and nn_targets")
		}
		if err := backend.Require("MuyGPS.OptMeanFn", be); err != nil {
			return nil, err
		}
		return PosteriorMean(be, K, args[0], args[1])
	})
}

// OptVarFn returns the unscaled DiagonalVariance(K, Kcross) as a function of
// keyword hyperparameters with the nugget applied to K.
func (m *MuyGPS) OptVarFn() noise.OptCovFn {
	be := m.be
	return m.optCovFn(func(K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error) {
		if len(args) != 1 {
			return nil, scigoErrors.NewValueError("MuyGPS.OptVarFn", "expected Kcross")
		}
		if err := backend.Require("MuyGPS.OptVarFn", be); err != nil {
			return nil, err
		}
		return DiagonalVariance(be, K, args[0])
	})
}

// OptSigmaSqFn returns SigmaSqOptim(K, nnTargets) as a function of keyword
// hyperparameters with the nugget applied to K.
func (m *MuyGPS) OptSigmaSqFn() noise.OptCovFn {
	be := m.be
	return m.optCovFn(func(K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error) {
		if len(args) != 1 {
			return nil, scigoErrors.NewValueError("MuyGPS.OptSigmaSqFn", "expected nn_targets")
		}
		if err := backend.Require("MuyGPS.OptSigmaSqFn", be); err != nil {
			return nil, err
		}
		return SigmaSqOptim(be, K, args[0])
	})
}

func (m *MuyGPS) optCovFn(fn noise.CovFn) noise.OptCovFn {
	_, eps := m.snapshot()
	return eps.Apply(eps.PerturbFn(fn), noise.EpsName)
}

func (m *MuyGPS) logFailure(op string, err error) {
	code := log.ErrorCode(err)
	if code == "" {
		code = "error"
	}
	m.logger.Error("operation failed", err, log.OperationKey, op, log.ErrorCodeKey, code)
}
