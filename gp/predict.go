package gp

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/tensors"
	"github.com/YuminosukeSato/muygo/neighbors"
	"github.com/YuminosukeSato/muygo/performance"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

// DefaultChunkSize is the number of test points predicted per chunk.
const DefaultChunkSize = 1024

// Prediction is the output of Regress and Classify.
type Prediction struct {
	Mean      *mat.Dense // (M,R)
	Variance  *mat.Dense // (M,R), nil unless variance was requested
	Neighbors [][]int    // (M,k) training indices used per test point
}

type predictConfig struct {
	mode      Mode
	chunkSize int
	parallel  bool
	budgetMB  int64
}

// PredictOption configures Regress and Classify.
type PredictOption func(*predictConfig)

// WithMode selects mean, variance or both. The default is MeanOnly.
func WithMode(mode Mode) PredictOption {
	return func(c *predictConfig) {
		c.mode = mode
	}
}

// WithChunkSize sets how many test points are predicted at once.
func WithChunkSize(n int) PredictOption {
	return func(c *predictConfig) {
		c.chunkSize = n
	}
}

// WithMemoryBudget derives the chunk size from a memory budget in MiB.
// It overrides WithChunkSize.
func WithMemoryBudget(mb int64) PredictOption {
	return func(c *predictConfig) {
		c.budgetMB = mb
	}
}

// WithParallelChunks predicts chunks concurrently. Results are identical to
// the sequential run.
func WithParallelChunks() PredictOption {
	return func(c *predictConfig) {
		c.parallel = true
	}
}

// Regress predicts every row of test from its k nearest training points.
// targets is (N,R) aligned with train.
func Regress(m *MuyGPS, lookup neighbors.Lookup, test, train, targets mat.Matrix, opts ...PredictOption) (pred *Prediction, err error) {
	const op = "gp.Regress"
	defer scigoErrors.Recover(&err, op)

	cfg := predictConfig{mode: MeanOnly, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	nTest, d := test.Dims()
	nTrain, _ := train.Dims()
	nTargets, R := targets.Dims()
	if nTargets != nTrain {
		return nil, scigoErrors.NewDimensionError(op, nTrain, nTargets, 0)
	}
	if lookup.Len() != nTrain {
		return nil, scigoErrors.NewDimensionError(op, nTrain, lookup.Len(), 0)
	}
	if nTest == 0 {
		return nil, scigoErrors.NewModelError(op, "empty test set", scigoErrors.ErrEmptyData)
	}

	if cfg.budgetMB > 0 {
		cfg.chunkSize = performance.NewMemoryEfficientBatch(cfg.budgetMB).ChunkSizeFor(lookup.K(), d, R)
	}

	testDense := mat.DenseCopyOf(test)
	pred = &Prediction{Neighbors: make([][]int, nTest)}
	if cfg.mode != VarianceOnly {
		pred.Mean = mat.NewDense(nTest, R, nil)
	}
	if cfg.mode != MeanOnly {
		pred.Variance = mat.NewDense(nTest, R, nil)
	}

	logger := m.logger.With(log.OperationKey, log.OperationRegress)
	proc := performance.NewChunkedProcessor(cfg.chunkSize, cfg.parallel)
	err = proc.Process(nTest, func(chunk int, r performance.Range) error {
		rows := testDense.Slice(r.Start, r.End, 0, d)
		nn, _, err := lookup.Neighbors(rows)
		if err != nil {
			return err
		}
		idx := make([]int, r.Len())
		for i := range idx {
			idx[i] = r.Start + i
		}
		pt, err := tensors.MakePredictTensors(idx, nn, testDense, train, targets)
		if err != nil {
			return err
		}
		K, err := m.Kernel(pt.Pairwise)
		if err != nil {
			return err
		}
		Kcross, err := m.Kernel(pt.Crosswise)
		if err != nil {
			return err
		}
		post, err := m.Predict(K, Kcross, pt.NNTargets, cfg.mode)
		if err != nil {
			return err
		}

		copy(pred.Neighbors[r.Start:r.End], nn)
		if post.Mean != nil {
			writeRows(pred.Mean, r.Start, post.Mean)
		}
		if post.Variance != nil {
			writeRows(pred.Variance, r.Start, post.Variance)
		}
		logger.Debug("chunk predicted", log.ChunkKey, chunk, log.BatchSizeKey, r.Len())
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("regression finished",
		log.SamplesKey, nTest,
		log.ResponsesKey, R,
		log.NeighborsKey, lookup.K(),
	)
	return pred, nil
}

// Classify predicts class labels as the argmax of the posterior mean over
// encoded training targets, e.g. from OneHot. The encoding is the caller's
// choice; only the argmax is used.
func Classify(m *MuyGPS, lookup neighbors.Lookup, test, train, encoded mat.Matrix, opts ...PredictOption) ([]int, *Prediction, error) {
	pred, err := Regress(m, lookup, test, train, encoded, append(opts, WithMode(MeanOnly))...)
	if err != nil {
		return nil, nil, err
	}
	return Argmax(pred.Mean), pred, nil
}

// FastRegress predicts with a FastPredictor, using each test point's nearest
// training point to select cached coefficients.
func FastRegress(f *FastPredictor, lookup neighbors.Lookup, test mat.Matrix) (*tensor.Dense, error) {
	const op = "gp.FastRegress"
	nn, _, err := lookup.Neighbors(test)
	if err != nil {
		return nil, err
	}
	closest := make([]int, len(nn))
	for i, row := range nn {
		if len(row) == 0 {
			return nil, scigoErrors.NewValueError(op, "lookup returned no neighbors")
		}
		closest[i] = row[0]
	}
	return f.PosteriorMean(test, closest)
}

// OneHot encodes labels in [0, classes) as rows with 1 at the label and 0
// elsewhere.
func OneHot(labels []int, classes int) (*mat.Dense, error) {
	const op = "gp.OneHot"
	if classes < 1 || len(labels) == 0 {
		return nil, scigoErrors.NewValueError(op, "need at least one label and one class")
	}
	if err := tensor.CheckIndexVector(op, labels, classes); err != nil {
		return nil, err
	}
	out := mat.NewDense(len(labels), classes, nil)
	for i, l := range labels {
		out.Set(i, l, 1)
	}
	return out, nil
}

// Argmax returns the column index of each row's maximum. Ties pick the
// lowest column.
func Argmax(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if m.At(i, j) > m.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

func writeRows(dst *mat.Dense, start int, src *tensor.Dense) {
	rows, cols := src.Dim(0), src.Dim(1)
	data := src.Data()
	for i := 0; i < rows; i++ {
		dst.SetRow(start+i, data[i*cols:(i+1)*cols])
	}
}
