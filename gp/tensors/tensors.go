// Package tensors builds the neighborhood difference tensors consumed by the
// kernel and posterior layers.
//
// All builders are pure functions of their inputs. Index matrices are
// validated up front; nothing is broadcast implicitly.
package tensors

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Pairwise returns the (B,k,k,D) tensor with entry [b,i,j,:] equal to
// features[nn[b][i]] - features[nn[b][j]].
func Pairwise(features mat.Matrix, nn [][]int) (*tensor.Dense, error) {
	const op = "tensors.Pairwise"
	n, d := features.Dims()
	k, err := tensor.CheckIndices(op, nn, n)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(len(nn), k, k, d)
	data := out.Data()
	for b, row := range nn {
		base := b * k * k * d
		for i, ni := range row {
			for j, nj := range row {
				off := base + (i*k+j)*d
				for c := 0; c < d; c++ {
					data[off+c] = features.At(ni, c) - features.At(nj, c)
				}
			}
		}
	}
	return out, nil
}

// Crosswise returns the (B,k,D) tensor with entry [b,i,:] equal to
// query[queryIdx[b]] - train[nn[b][i]].
func Crosswise(query, train mat.Matrix, queryIdx []int, nn [][]int) (*tensor.Dense, error) {
	const op = "tensors.Crosswise"
	nq, dq := query.Dims()
	nt, d := train.Dims()
	if dq != d {
		return nil, scigoErrors.NewDimensionError(op, d, dq, 1)
	}
	if len(queryIdx) != len(nn) {
		return nil, scigoErrors.NewDimensionError(op, len(nn), len(queryIdx), 0)
	}
	if err := tensor.CheckIndexVector(op, queryIdx, nq); err != nil {
		return nil, err
	}
	k, err := tensor.CheckIndices(op, nn, nt)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(len(nn), k, d)
	data := out.Data()
	for b, row := range nn {
		q := queryIdx[b]
		for i, ni := range row {
			off := (b*k + i) * d
			for c := 0; c < d; c++ {
				data[off+c] = query.At(q, c) - train.At(ni, c)
			}
		}
	}
	return out, nil
}

// gatherRows returns the (B,R) tensor of responses at idx.
func gatherRows(responses mat.Matrix, idx []int) *tensor.Dense {
	_, r := responses.Dims()
	out := tensor.Zeros(len(idx), r)
	data := out.Data()
	for b, i := range idx {
		for c := 0; c < r; c++ {
			data[b*r+c] = responses.At(i, c)
		}
	}
	return out
}

// gatherNeighbors returns the (B,k,R) tensor of responses at nn.
func gatherNeighbors(responses mat.Matrix, nn [][]int) *tensor.Dense {
	_, r := responses.Dims()
	k := len(nn[0])
	out := tensor.Zeros(len(nn), k, r)
	data := out.Data()
	for b, row := range nn {
		for i, ni := range row {
			off := (b*k + i) * r
			for c := 0; c < r; c++ {
				data[off+c] = responses.At(ni, c)
			}
		}
	}
	return out
}

// TrainTensors groups the tensors needed to evaluate a leave-one-out objective.
type TrainTensors struct {
	Crosswise      *tensor.Dense // (B,k,D)
	Pairwise       *tensor.Dense // (B,k,k,D)
	BatchTargets   *tensor.Dense // (B,R)
	BatchNNTargets *tensor.Dense // (B,k,R)
}

// MakeTrainTensors builds crosswise and pairwise differences together with the
// batch targets and their neighbor targets. batchNN must not contain the batch
// point itself for a leave-one-out objective.
func MakeTrainTensors(batchIdx []int, batchNN [][]int, features, responses mat.Matrix) (*TrainTensors, error) {
	const op = "tensors.MakeTrainTensors"
	n, _ := features.Dims()
	if rn, _ := responses.Dims(); rn != n {
		return nil, scigoErrors.NewDimensionError(op, n, rn, 0)
	}
	crosswise, err := Crosswise(features, features, batchIdx, batchNN)
	if err != nil {
		return nil, err
	}
	pairwise, err := Pairwise(features, batchNN)
	if err != nil {
		return nil, err
	}
	return &TrainTensors{
		Crosswise:      crosswise,
		Pairwise:       pairwise,
		BatchTargets:   gatherRows(responses, batchIdx),
		BatchNNTargets: gatherNeighbors(responses, batchNN),
	}, nil
}

// PredictTensors groups the tensors needed to predict at test points.
type PredictTensors struct {
	Crosswise *tensor.Dense // (B,k,D)
	Pairwise  *tensor.Dense // (B,k,k,D)
	NNTargets *tensor.Dense // (B,k,R)
}

// MakePredictTensors builds the tensors for test rows batchIdx whose training
// neighbors are batchNN.
func MakePredictTensors(batchIdx []int, batchNN [][]int, testFeatures, trainFeatures, trainTargets mat.Matrix) (*PredictTensors, error) {
	const op = "tensors.MakePredictTensors"
	n, _ := trainFeatures.Dims()
	if rn, _ := trainTargets.Dims(); rn != n {
		return nil, scigoErrors.NewDimensionError(op, n, rn, 0)
	}
	crosswise, err := Crosswise(testFeatures, trainFeatures, batchIdx, batchNN)
	if err != nil {
		return nil, err
	}
	pairwise, err := Pairwise(trainFeatures, batchNN)
	if err != nil {
		return nil, err
	}
	return &PredictTensors{
		Crosswise: crosswise,
		Pairwise:  pairwise,
		NNTargets: gatherNeighbors(trainTargets, batchNN),
	}, nil
}

// FastNNUpdate rewrites the neighbor list of every training point i as
// [i, nn[i][0], ..., nn[i][k-2]]: the point itself first, the farthest
// neighbor dropped. nn must have one row per training point and must not
// already contain the row's own index.
func FastNNUpdate(nn [][]int) ([][]int, error) {
	const op = "tensors.FastNNUpdate"
	k, err := tensor.CheckIndices(op, nn, len(nn))
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(nn))
	for i, row := range nn {
		updated := make([]int, k)
		updated[0] = i
		copy(updated[1:], row[:k-1])
		out[i] = updated
	}
	return out, nil
}

// FastTensors holds the per-training-point neighborhoods used by the fast
// prediction cache.
type FastTensors struct {
	NN        [][]int       // (N,k), rows from FastNNUpdate
	Pairwise  *tensor.Dense // (N,k,k,D)
	NNTargets *tensor.Dense // (N,k,R)
}

// MakeFastPredictTensors applies FastNNUpdate to nn, the leave-one-out
// neighbors of every training point, and builds the pairwise differences and
// neighbor targets over the updated sets.
func MakeFastPredictTensors(nn [][]int, features, responses mat.Matrix) (*FastTensors, error) {
	const op = "tensors.MakeFastPredictTensors"
	n, _ := features.Dims()
	if rn, _ := responses.Dims(); rn != n {
		return nil, scigoErrors.NewDimensionError(op, n, rn, 0)
	}
	if len(nn) != n {
		return nil, scigoErrors.NewDimensionError(op, n, len(nn), 0)
	}
	updated, err := FastNNUpdate(nn)
	if err != nil {
		return nil, err
	}
	pairwise, err := Pairwise(features, updated)
	if err != nil {
		return nil, err
	}
	return &FastTensors{
		NN:        updated,
		Pairwise:  pairwise,
		NNTargets: gatherNeighbors(responses, updated),
	}, nil
}

// F2 reduces the trailing axis of diffs to squared Euclidean norms.
func F2(diffs *tensor.Dense) *tensor.Dense {
	shape := diffs.Shape()
	d := shape[len(shape)-1]
	out := tensor.Zeros(shape[:len(shape)-1]...)
	src, dst := diffs.Data(), out.Data()
	for i := range dst {
		s := 0.0
		for _, v := range src[i*d : (i+1)*d] {
			s += v * v
		}
		dst[i] = s
	}
	return out
}

// L2 reduces the trailing axis of diffs to Euclidean norms.
func L2(diffs *tensor.Dense) *tensor.Dense {
	out := F2(diffs)
	d := out.Data()
	for i, v := range d {
		d[i] = math.Sqrt(v)
	}
	return out
}
