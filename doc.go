// Package muygo implements MuyGPs, a Gaussian-process engine that predicts
// each query from a small conditioning set of its nearest training points
// instead of the full training set.
//
// Every prediction solves an independent k×k system, so cost grows linearly
// with the number of queries and the per-neighborhood solves run in
// parallel. Hyperparameters are tuned by minimizing a leave-one-out
// cross-validation loss over a sampled batch of training points, which never
// requires the full covariance either.
//
// # Quick Start
//
//	lookup, _ := neighbors.NewExact(train, 30)
//	batch, _ := optimize.SampleBatch(lookup, 500, rand.NewPCG(1, 2))
//	tt, _ := batch.TrainTensors(train, targets)
//
//	m, _ := gp.NewFromSpec(spec, rand.NewPCG(3, 4))
//	obj, _ := optimize.NewObjective(m, loss.LOOL, tt)
//	res, _ := optimize.Optimize(m, obj)
//
//	K, _ := m.Kernel(tt.Pairwise)
//	m.OptimizeSigmaSq(K, tt.BatchNNTargets)
//	pred, _ := gp.Regress(m, lookup, test, train, targets, gp.WithMode(gp.MeanAndVariance))
//
// # Packages
//
//   - gp: the MuyGPS model, its batched posterior engine, chunked
//     regression and classification, the fast-prediction cache and the
//     multivariate wrapper
//   - gp/kernels, gp/distortion, gp/noise, gp/hyperparameter: the
//     composable parts of a model
//   - gp/tensors: pairwise and crosswise difference tensors for
//     neighborhoods
//   - neighbors: exact nearest-neighbor lookup
//   - optimize, optimize/loss: batch sampling, the leave-one-out objective
//     and Nelder–Mead hyperparameter search
//   - core/backend: interchangeable linear-algebra backends (gonum, lapack)
//   - core/tensor, core/parallel, core/model: shared building blocks
//   - performance: chunking and memory budgeting for large prediction sets
//   - preprocessing, metrics, diagnostics: data scaling, scores and charts
//   - config: environment settings and YAML model specifications
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Configuration
//
// MUYGO_BACKEND, MUYGO_LOG_LEVEL and MUYGO_MAX_WORKERS select the backend,
// log level and worker cap. config.Load reads them, optionally from a .env
// file, and Config.Apply installs them.
package muygo
