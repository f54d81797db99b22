// Package neighbors finds the k nearest training points of a query. The
// GP layers only depend on the Lookup interface; Exact is the brute-force
// reference implementation.
package neighbors

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/parallel"
	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

// Lookup returns neighbor index matrices over a fixed training set.
type Lookup interface {
	// Neighbors returns, for each query row, the indices of its k nearest
	// training points in ascending distance and the matching distances.
	Neighbors(queries mat.Matrix) ([][]int, *mat.Dense, error)

	// BatchNeighbors is Neighbors for training points themselves, with each
	// point excluded from its own neighbor set.
	BatchNeighbors(indices []int) ([][]int, *mat.Dense, error)

	// K returns the neighbor count.
	K() int

	// Len returns the number of training points.
	Len() int
}

// parallelThreshold 以下のクエリ数では逐次処理を使用
const parallelThreshold = 256

// Exact is an O(N) per query brute-force lookup under Euclidean distance.
// Ties are broken by training index so results are deterministic.
type Exact struct {
	train  *mat.Dense
	k      int
	logger log.Logger
}

// NewExact indexes train for k-nearest-neighbor queries. train is copied.
func NewExact(train mat.Matrix, k int) (*Exact, error) {
	const op = "neighbors.NewExact"
	n, d := train.Dims()
	if n == 0 || d == 0 {
		return nil, scigoErrors.NewModelError(op, "empty training set", scigoErrors.ErrEmptyData)
	}
	if k < 1 || k > n {
		return nil, scigoErrors.NewValidationError("nn_count", "must be in [1, N]", k)
	}
	e := &Exact{
		train:  mat.DenseCopyOf(train),
		k:      k,
		logger: log.GetLoggerWithName("neighbors"),
	}
	e.logger.Debug("index built",
		log.OperationKey, log.OperationNeighbors,
		log.SamplesKey, n,
		log.FeaturesKey, d,
		log.NeighborsKey, k,
	)
	return e, nil
}

// K implements Lookup.
func (e *Exact) K() int { return e.k }

// Len implements Lookup.
func (e *Exact) Len() int {
	n, _ := e.train.Dims()
	return n
}

// Neighbors implements Lookup.
func (e *Exact) Neighbors(queries mat.Matrix) ([][]int, *mat.Dense, error) {
	const op = "neighbors.Exact.Neighbors"
	nq, d := queries.Dims()
	if _, td := e.train.Dims(); d != td {
		return nil, nil, scigoErrors.NewDimensionError(op, td, d, 1)
	}
	rows := make([][]float64, nq)
	for i := range rows {
		rows[i] = mat.Row(nil, i, queries)
	}
	nn, dist := e.search(rows, nil, e.k)
	return nn, dist, nil
}

// BatchNeighbors implements Lookup. It requires k <= N-1.
func (e *Exact) BatchNeighbors(indices []int) ([][]int, *mat.Dense, error) {
	const op = "neighbors.Exact.BatchNeighbors"
	n := e.Len()
	if e.k > n-1 {
		return nil, nil, scigoErrors.NewValidationError("nn_count", "must be at most N-1 for leave-one-out neighbors", e.k)
	}
	if err := tensor.CheckIndexVector(op, indices, n); err != nil {
		return nil, nil, err
	}
	rows := make([][]float64, len(indices))
	for i, idx := range indices {
		rows[i] = e.train.RawRowView(idx)
	}
	nn, dist := e.search(rows, indices, e.k)
	return nn, dist, nil
}

type candidate struct {
	idx  int
	dist float64
}

// search returns the k nearest training rows for every query. When exclude
// is non-nil, exclude[q] is skipped for query q.
func (e *Exact) search(queries [][]float64, exclude []int, k int) ([][]int, *mat.Dense) {
	n := e.Len()
	nn := make([][]int, len(queries))
	dist := mat.NewDense(max(len(queries), 1), k, nil)

	parallel.ParallelizeWithThreshold(len(queries), parallelThreshold, func(start, end int) {
		cands := make([]candidate, 0, n)
		for q := start; q < end; q++ {
			cands = cands[:0]
			for i := 0; i < n; i++ {
				if exclude != nil && exclude[q] == i {
					continue
				}
				cands = append(cands, candidate{idx: i, dist: floats.Distance(queries[q], e.train.RawRowView(i), 2)})
			}
			sort.Slice(cands, func(a, b int) bool {
				if cands[a].dist != cands[b].dist {
					return cands[a].dist < cands[b].dist
				}
				return cands[a].idx < cands[b].idx
			})
			row := make([]int, k)
			for j := 0; j < k; j++ {
				row[j] = cands[j].idx
				dist.Set(q, j, cands[j].dist)
			}
			nn[q] = row
		}
	})
	if len(queries) == 0 {
		return nn, nil
	}
	return nn, dist
}
