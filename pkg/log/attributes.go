// Standard attribute keys for muygo log records.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples",
// "gp.kernel") so records can be filtered by prefix.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model type.
	// Examples: "MuyGPS", "MultivariateMuyGPS", "FastPredictor"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance.
	// Models use UUID strings.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "gp", "optimize", "neighbors"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey indicates the number of training points.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the feature dimension D.
	FeaturesKey = "data.features"

	// ResponsesKey indicates the number of response columns R.
	ResponsesKey = "data.responses"

	// BatchSizeKey indicates the number of queries or batch points B.
	BatchSizeKey = "data.batch_size"

	// ChunkKey identifies a chunk index during chunked prediction.
	ChunkKey = "data.chunk"
)

// Gaussian process context
const (
	// KernelKey records the kernel family ("rbf", "matern").
	KernelKey = "gp.kernel"

	// MetricKey records the distance metric ("F2", "l2").
	MetricKey = "gp.metric"

	// NoiseKey records the noise model ("homoscedastic", "heteroscedastic", "null").
	NoiseKey = "gp.noise"

	// NeighborsKey records the neighbor count k.
	NeighborsKey = "gp.nn_count"

	// BackendKey records the numerical backend name.
	BackendKey = "gp.backend"

	// SigmaSqKey records fitted variance scale values.
	SigmaSqKey = "gp.sigma_sq"
)

// Performance and optimization
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records loss value during optimization or evaluation.
	LossKey = "metrics.loss"

	// IterationKey records the current iteration number.
	IterationKey = "training.iteration"

	// EvaluationsKey records the number of objective evaluations.
	EvaluationsKey = "training.evaluations"

	// HyperParamsKey contains hyperparameter values as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	OperationPosteriorMean     = "posterior_mean"
	OperationPosteriorVariance = "posterior_variance"
	OperationSigmaSq           = "sigma_sq_optim"
	OperationFastPrecompute    = "fast_precompute"
	OperationFastPredict       = "fast_predict"
	OperationRegress           = "regress"
	OperationClassify          = "classify"
	OperationOptimize          = "optimize"
	OperationSample            = "sample_batch"
	OperationNeighbors         = "neighbors"

	PhaseTraining  = "training"
	PhaseInference = "inference"

	ErrorDimensionMismatch     = "DIMENSION_MISMATCH"
	ErrorIllConditioned        = "ILL_CONDITIONED"
	ErrorBackendMismatch       = "BACKEND_MISMATCH"
	ErrorConvergence           = "CONVERGENCE_FAILURE"
	ErrorUnknownHyperparameter = "UNKNOWN_HYPERPARAMETER"
	ErrorPanic                 = "PANIC"
)
