package gp

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/tensors"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

// FastPredictor caches one coefficient block per training point so that a
// query needs a single contraction instead of a solve.
//
// The coefficients describe each training point's own neighborhood, not the
// query's, so they go stale when training data or hyperparameters change.
// Call Rebuild then. Concurrent PosteriorMean calls are safe; Rebuild takes
// the write lock and swaps the cache in one step.
type FastPredictor struct {
	mu     sync.RWMutex
	models []*MuyGPS // one shared model, or one per response column
	multi  bool
	be     backend.Backend
	logger log.Logger

	train  *mat.Dense
	nn     [][]int
	coeffs *tensor.Dense // (N,k,R)
}

// BuildFastPredictor precomputes the cache. nn holds the leave-one-out
// neighbors of every training point, one row per row of features.
func (m *MuyGPS) BuildFastPredictor(nn [][]int, features, responses mat.Matrix) (*FastPredictor, error) {
	f := &FastPredictor{models: []*MuyGPS{m}, be: m.be, logger: m.logger}
	if err := f.Rebuild(nn, features, responses); err != nil {
		return nil, err
	}
	return f, nil
}

// Rebuild recomputes the cache from new training data or after the models'
// hyperparameters changed. On error the previous cache is kept.
func (f *FastPredictor) Rebuild(nn [][]int, features, responses mat.Matrix) (err error) {
	const op = "FastPredictor.Rebuild"
	defer scigoErrors.Recover(&err, op)
	if err := backend.Require(op, f.be); err != nil {
		return err
	}

	ft, err := tensors.MakeFastPredictTensors(nn, features, responses)
	if err != nil {
		return err
	}
	R := ft.NNTargets.Dim(2)
	if f.multi && len(f.models) != R {
		return scigoErrors.NewDimensionError(op, len(f.models), R, 1)
	}

	var coeffs *tensor.Dense
	if !f.multi {
		coeffs, err = f.models[0].fastCoefficients(ft.Pairwise, ft.NNTargets)
	} else {
		cols := make([]*tensor.Dense, R)
		for r, m := range f.models {
			if cols[r], err = m.fastCoefficients(ft.Pairwise, column(ft.NNTargets, r)); err != nil {
				break
			}
		}
		if err == nil {
			coeffs = stackColumns(cols)
		}
	}
	if err != nil {
		return err
	}

	train := mat.DenseCopyOf(features)
	f.mu.Lock()
	f.train, f.nn, f.coeffs = train, ft.NN, coeffs
	f.mu.Unlock()

	f.logger.Debug("fast coefficients rebuilt",
		log.OperationKey, log.OperationFastPrecompute,
		log.SamplesKey, len(ft.NN),
		log.NeighborsKey, ft.Pairwise.Dim(1),
		log.ResponsesKey, R,
	)
	return nil
}

// fastCoefficients evaluates the kernel on the fast pairwise tensor, adds the
// nugget and solves for the coefficients.
func (m *MuyGPS) fastCoefficients(pairwise, nnTargets *tensor.Dense) (*tensor.Dense, error) {
	K, err := m.Kernel(pairwise)
	if err != nil {
		return nil, err
	}
	Kp, err := m.Perturb(K)
	if err != nil {
		return nil, err
	}
	return FastPrecompute(m.be, Kp, nnTargets)
}

// Coefficients returns a copy of the (N,k,R) cache.
func (f *FastPredictor) Coefficients() *tensor.Dense {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.coeffs.Clone()
}

// Neighbors returns the updated neighbor sets the cache was built on.
func (f *FastPredictor) Neighbors() [][]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][]int, len(f.nn))
	for i, row := range f.nn {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// PosteriorMean predicts the (B,R) mean of each query row using the cached
// coefficients of its closest training point closest[b].
func (f *FastPredictor) PosteriorMean(query mat.Matrix, closest []int) (mean *tensor.Dense, err error) {
	const op = "FastPredictor.PosteriorMean"
	defer scigoErrors.Recover(&err, op)
	if err := backend.Require(op, f.be); err != nil {
		return nil, err
	}
	nq, _ := query.Dims()
	if nq != len(closest) {
		return nil, scigoErrors.NewDimensionError(op, nq, len(closest), 0)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := tensor.CheckIndexVector(op, closest, len(f.nn)); err != nil {
		return nil, err
	}

	nn := make([][]int, len(closest))
	queryIdx := make([]int, len(closest))
	for b, c := range closest {
		nn[b] = f.nn[c]
		queryIdx[b] = b
	}
	crosswise, err := tensors.Crosswise(query, f.train, queryIdx, nn)
	if err != nil {
		return nil, err
	}
	coeffs, err := gatherRows(op, f.coeffs, closest)
	if err != nil {
		return nil, err
	}

	var Kcross *tensor.Dense
	if !f.multi {
		if Kcross, err = f.models[0].Kernel(crosswise); err != nil {
			return nil, err
		}
		mean, err = FastPosteriorMean(f.be, Kcross, coeffs)
	} else {
		if Kcross, err = crossCovariance(f.models, crosswise); err != nil {
			return nil, err
		}
		mean, err = MultivariateFastPosteriorMean(f.be, Kcross, coeffs)
	}
	if err != nil {
		return nil, err
	}

	f.logger.Debug("fast posterior mean",
		log.OperationKey, log.OperationFastPredict,
		log.BatchSizeKey, len(closest),
	)
	return mean, nil
}

// column returns t[..., r] of a (B,k,R) tensor as a (B,k,1) copy.
func column(t *tensor.Dense, r int) *tensor.Dense {
	B, k, R := t.Dim(0), t.Dim(1), t.Dim(2)
	out := tensor.Zeros(B, k, 1)
	src, dst := t.Data(), out.Data()
	for i := 0; i < B*k; i++ {
		dst[i] = src[i*R+r]
	}
	return out
}

// stackColumns joins R tensors of shape (B,k,1) or (B,k) into (B,k,R).
func stackColumns(cols []*tensor.Dense) *tensor.Dense {
	B, k, R := cols[0].Dim(0), cols[0].Dim(1), len(cols)
	out := tensor.Zeros(B, k, R)
	dst := out.Data()
	for r, c := range cols {
		for i, v := range c.Data() {
			dst[i*R+r] = v
		}
	}
	return out
}

// crossCovariance evaluates model r's kernel on crosswise and stacks the
// results into a (B,k,R) tensor.
func crossCovariance(models []*MuyGPS, crosswise *tensor.Dense) (*tensor.Dense, error) {
	cols := make([]*tensor.Dense, len(models))
	for r, m := range models {
		Kc, err := m.Kernel(crosswise)
		if err != nil {
			return nil, err
		}
		cols[r] = Kc
	}
	return stackColumns(cols), nil
}
