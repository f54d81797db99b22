package optimize

import (
	"math"
	"time"

	gonumopt "gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/muygo/core/model"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

const (
	// DefaultMaxIterations bounds the Nelder–Mead iterations.
	DefaultMaxIterations = 200
	// DefaultTolerance is the absolute change in loss treated as converged.
	DefaultTolerance = 1e-8
	// boundMargin keeps initial values strictly inside their bounds so the
	// logistic transform stays finite.
	boundMargin = 1e-6
)

// Result reports the outcome of Optimize.
type Result struct {
	Params      hyperparameter.Params // best optimizable values, also written to the model
	Loss        float64
	Iterations  int
	Evaluations int
	// Trace holds the best loss after each major iteration.
	Trace     []float64
	Converged bool
	Duration  time.Duration
}

type config struct {
	maxIterations  int
	maxEvaluations int
	tolerance      float64
	logger         log.Logger
}

// Option configures Optimize.
type Option func(*config)

// WithMaxIterations sets the iteration budget.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		c.maxIterations = n
	}
}

// WithMaxEvaluations bounds objective evaluations. Zero means unbounded.
func WithMaxEvaluations(n int) Option {
	return func(c *config) {
		c.maxEvaluations = n
	}
}

// WithTolerance sets the convergence tolerance on the loss.
func WithTolerance(tol float64) Option {
	return func(c *config) {
		c.tolerance = tol
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Optimize minimizes obj over the optimizable hyperparameters of m and writes
// the best values back with SetParams. Bounds are enforced by optimizing
// z = logit((x-lo)/(hi-lo)). Running out of budget is not an error: a
// ConvergenceWarning is raised and the best point found is kept. An objective
// error aborts the run and leaves m unchanged.
func Optimize(m model.Tunable, obj Objective, opts ...Option) (*Result, error) {
	const op = "optimize.Optimize"
	cfg := config{
		maxIterations: DefaultMaxIterations,
		tolerance:     DefaultTolerance,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetLoggerWithName("optimize")
	}
	logger := cfg.logger.With(log.OperationKey, log.OperationOptimize)
	if id, ok := m.(model.Identified); ok {
		logger = logger.With(log.EstimatorIDKey, id.ID())
	}

	names, x0, bounds := m.GetOptParams()
	if len(names) == 0 {
		return nil, scigoErrors.NewValueError(op, "no optimizable hyperparameters")
	}
	tr := newTransform(bounds)
	params := func(z []float64) hyperparameter.Params {
		x := tr.toBounded(z)
		p := make(hyperparameter.Params, len(names))
		for i, n := range names {
			p[n] = x[i]
		}
		return p
	}

	rec := &recorder{}
	problem := gonumopt.Problem{
		Func: func(z []float64) float64 {
			if rec.err != nil {
				return math.Inf(1)
			}
			v, err := obj(params(z))
			if err != nil {
				rec.err = err
				return math.Inf(1)
			}
			return v
		},
	}
	settings := &gonumopt.Settings{
		MajorIterations: cfg.maxIterations,
		FuncEvaluations: cfg.maxEvaluations,
		Converger: &gonumopt.FunctionConverge{
			Absolute:   cfg.tolerance,
			Iterations: 20,
		},
		Recorder: rec,
	}

	start := time.Now()
	res, err := gonumopt.Minimize(problem, tr.toUnbounded(x0), settings, &gonumopt.NelderMead{})
	if rec.err != nil {
		return nil, scigoErrors.Wrap(rec.err, op)
	}

	converged := true
	switch {
	case res == nil:
		return nil, scigoErrors.Wrap(err, op)
	case res.Status == gonumopt.IterationLimit || res.Status == gonumopt.FunctionEvaluationLimit:
		converged = false
		scigoErrors.Warn(scigoErrors.NewConvergenceWarning("nelder-mead", res.Stats.MajorIterations, res.Status.String()))
	case err != nil:
		return nil, scigoErrors.Wrap(err, op)
	}
	if err := scigoErrors.CheckScalar(op, res.F, res.Stats.MajorIterations); err != nil {
		return nil, err
	}

	best := params(res.X)
	if err := m.SetParams(best); err != nil {
		return nil, scigoErrors.Wrap(err, op)
	}

	out := &Result{
		Params:      best,
		Loss:        res.F,
		Iterations:  res.Stats.MajorIterations,
		Evaluations: res.Stats.FuncEvaluations,
		Trace:       rec.trace,
		Converged:   converged,
		Duration:    time.Since(start),
	}
	logger.Info("hyperparameters optimized",
		log.LossKey, out.Loss,
		log.IterationKey, out.Iterations,
		log.EvaluationsKey, out.Evaluations,
		log.HyperParamsKey, best,
		log.DurationMsKey, out.Duration.Milliseconds(),
	)
	return out, nil
}

// recorder keeps the loss trace and stops the run after an objective error.
type recorder struct {
	trace []float64
	err   error
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *gonumopt.Location, op gonumopt.Operation, _ *gonumopt.Stats) error {
	if r.err != nil {
		return r.err
	}
	if op&gonumopt.MajorIteration != 0 {
		r.trace = append(r.trace, loc.F)
	}
	return nil
}

// transform maps between bounded values and the unconstrained space searched
// by Nelder–Mead.
type transform struct {
	bounds []hyperparameter.Bound
}

func newTransform(bounds []hyperparameter.Bound) transform {
	return transform{bounds: bounds}
}

func (t transform) toUnbounded(x []float64) []float64 {
	z := make([]float64, len(x))
	for i, v := range x {
		b := t.bounds[i]
		u := (v - b.Lower) / (b.Upper - b.Lower)
		u = scigoErrors.ClipValue(u, boundMargin, 1-boundMargin)
		z[i] = math.Log(u / (1 - u))
	}
	return z
}

func (t transform) toBounded(z []float64) []float64 {
	x := make([]float64, len(z))
	for i, v := range z {
		b := t.bounds[i]
		x[i] = b.Lower + (b.Upper-b.Lower)/(1+math.Exp(-v))
		// 丸め誤差で範囲外にならないようにする
		x[i] = scigoErrors.ClipValue(x[i], b.Lower, b.Upper)
	}
	return x
}
