package optimize

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/YuminosukeSato/muygo/gp/tensors"
	"github.com/YuminosukeSato/muygo/neighbors"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

// Batch is a set of training points used by the leave-one-out objective,
// together with their neighbors. NN[i] never contains Indices[i].
type Batch struct {
	Indices []int
	NN      [][]int
}

// Len returns the batch size.
func (b *Batch) Len() int { return len(b.Indices) }

// TrainTensors builds the objective's tensors for the batch.
func (b *Batch) TrainTensors(features, responses mat.Matrix) (*tensors.TrainTensors, error) {
	return tensors.MakeTrainTensors(b.Indices, b.NN, features, responses)
}

// SampleBatch draws batchCount training points uniformly without
// replacement. When the training set has at most batchCount points, all of
// them are used. Indices are returned in ascending order.
func SampleBatch(lookup neighbors.Lookup, batchCount int, src rand.Source) (*Batch, error) {
	const op = "optimize.SampleBatch"
	if batchCount < 1 {
		return nil, scigoErrors.NewValidationError("batch_count", "must be positive", batchCount)
	}
	n := lookup.Len()
	var idx []int
	if n <= batchCount {
		idx = arange(n)
	} else {
		if src == nil {
			return nil, scigoErrors.NewValueError(op, "a random source is required to subsample")
		}
		idx = make([]int, batchCount)
		sampleuv.WithoutReplacement(idx, n, src)
		sort.Ints(idx)
	}
	return newBatch(op, lookup, idx)
}

// FullFilteredBatch keeps every training point that has at least one
// neighbor with a different label. Points surrounded by their own class add
// nothing to a classification objective.
func FullFilteredBatch(lookup neighbors.Lookup, labels []int) (*Batch, error) {
	const op = "optimize.FullFilteredBatch"
	if err := checkLabels(op, lookup, labels); err != nil {
		return nil, err
	}
	b, err := newBatch(op, lookup, arange(lookup.Len()))
	if err != nil {
		return nil, err
	}
	return b.filter(labels), nil
}

// SampleBalancedBatch samples up to batchCount/C filtered points from each of
// the C classes, so rare classes are not drowned out.
func SampleBalancedBatch(lookup neighbors.Lookup, labels []int, batchCount int, src rand.Source) (*Batch, error) {
	const op = "optimize.SampleBalancedBatch"
	if batchCount < 1 {
		return nil, scigoErrors.NewValidationError("batch_count", "must be positive", batchCount)
	}
	if src == nil {
		return nil, scigoErrors.NewValueError(op, "a random source is required")
	}
	full, err := FullFilteredBatch(lookup, labels)
	if err != nil {
		return nil, err
	}

	// クラスごとの候補位置（昇順）
	byClass := map[int][]int{}
	var classes []int
	for pos, i := range full.Indices {
		l := labels[i]
		if _, ok := byClass[l]; !ok {
			classes = append(classes, l)
		}
		byClass[l] = append(byClass[l], pos)
	}
	if len(classes) == 0 {
		return full, nil
	}
	sort.Ints(classes)
	per := max(batchCount/len(classes), 1)

	var picked []int
	for _, c := range classes {
		cand := byClass[c]
		if len(cand) <= per {
			picked = append(picked, cand...)
			continue
		}
		sel := make([]int, per)
		sampleuv.WithoutReplacement(sel, len(cand), src)
		for _, s := range sel {
			picked = append(picked, cand[s])
		}
	}
	sort.Ints(picked)

	out := &Batch{Indices: make([]int, len(picked)), NN: make([][]int, len(picked))}
	for i, pos := range picked {
		out.Indices[i] = full.Indices[pos]
		out.NN[i] = full.NN[pos]
	}
	log.GetLoggerWithName("optimize").Debug("balanced batch sampled",
		log.OperationKey, log.OperationSample,
		log.BatchSizeKey, out.Len(),
	)
	return out, nil
}

func newBatch(op string, lookup neighbors.Lookup, idx []int) (*Batch, error) {
	nn, _, err := lookup.BatchNeighbors(idx)
	if err != nil {
		return nil, scigoErrors.Wrap(err, op)
	}
	log.GetLoggerWithName("optimize").Debug("batch sampled",
		log.OperationKey, log.OperationSample,
		log.BatchSizeKey, len(idx),
		log.NeighborsKey, lookup.K(),
	)
	return &Batch{Indices: idx, NN: nn}, nil
}

func (b *Batch) filter(labels []int) *Batch {
	out := &Batch{}
	for i, idx := range b.Indices {
		for _, j := range b.NN[i] {
			if labels[j] != labels[idx] {
				out.Indices = append(out.Indices, idx)
				out.NN = append(out.NN, b.NN[i])
				break
			}
		}
	}
	return out
}

func checkLabels(op string, lookup neighbors.Lookup, labels []int) error {
	if len(labels) != lookup.Len() {
		return scigoErrors.NewDimensionError(op, lookup.Len(), len(labels), 0)
	}
	return nil
}

func arange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
