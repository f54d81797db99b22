package tensors

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func randomMatrix(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func randomNN(rng *rand.Rand, b, k, n int) [][]int {
	nn := make([][]int, b)
	for i := range nn {
		nn[i] = rng.Perm(n)[:k]
	}
	return nn
}

func TestPairwiseAntisymmetric(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	features := randomMatrix(rng, 50, 4)
	nn := randomNN(rng, 12, 6, 50)

	pw, err := Pairwise(features, nn)
	require.NoError(t, err)
	require.Equal(t, []int{12, 6, 6, 4}, pw.Shape())

	for b := 0; b < 12; b++ {
		for i := 0; i < 6; i++ {
			for c := 0; c < 4; c++ {
				assert.Equal(t, 0.0, pw.At(b, i, i, c))
			}
			for j := 0; j < 6; j++ {
				for c := 0; c < 4; c++ {
					assert.Equal(t, -pw.At(b, i, j, c), pw.At(b, j, i, c))
					want := features.At(nn[b][i], c) - features.At(nn[b][j], c)
					assert.Equal(t, want, pw.At(b, i, j, c))
				}
			}
		}
	}
}

func TestCrosswise(t *testing.T) {
	train := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 2})
	query := mat.NewDense(2, 2, []float64{1, 1, 5, 5})

	cw, err := Crosswise(query, train, []int{0, 1}, [][]int{{0, 1}, {2, 0}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, cw.Shape())

	assert.Equal(t, []float64{
		1, 1, 0, 1,
		5, 3, 5, 5,
	}, cw.Data())
}

func TestCrosswiseShapeErrors(t *testing.T) {
	train := mat.NewDense(3, 2, nil)
	query := mat.NewDense(2, 3, nil)

	_, err := Crosswise(query, train, []int{0}, [][]int{{0}})
	var dimErr *scigoErrors.DimensionError
	assert.True(t, scigoErrors.As(err, &dimErr), "feature dimension mismatch: %v", err)

	_, err = Crosswise(train, train, []int{0, 1}, [][]int{{0, 1}})
	assert.True(t, scigoErrors.As(err, &dimErr), "batch length mismatch: %v", err)

	_, err = Crosswise(train, train, []int{0, 1}, [][]int{{0, 1}, {2}})
	assert.True(t, scigoErrors.As(err, &dimErr), "ragged neighbor rows: %v", err)

	_, err = Pairwise(train, [][]int{{0, 3}})
	assert.Error(t, err, "out-of-range neighbor")
}

func TestMakeTrainTensors(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	features := randomMatrix(rng, 30, 3)
	responses := randomMatrix(rng, 30, 2)
	batch := []int{4, 9, 17}
	nn := [][]int{{1, 2, 3}, {8, 10, 11}, {16, 18, 0}}

	tt, err := MakeTrainTensors(batch, nn, features, responses)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 3}, tt.Crosswise.Shape())
	assert.Equal(t, []int{3, 3, 3, 3}, tt.Pairwise.Shape())
	assert.Equal(t, []int{3, 2}, tt.BatchTargets.Shape())
	assert.Equal(t, []int{3, 3, 2}, tt.BatchNNTargets.Shape())

	for b, q := range batch {
		for r := 0; r < 2; r++ {
			assert.Equal(t, responses.At(q, r), tt.BatchTargets.At(b, r))
			for i, ni := range nn[b] {
				assert.Equal(t, responses.At(ni, r), tt.BatchNNTargets.At(b, i, r))
			}
		}
	}

	_, err = MakeTrainTensors(batch, nn, features, randomMatrix(rng, 29, 2))
	var dimErr *scigoErrors.DimensionError
	assert.True(t, scigoErrors.As(err, &dimErr))
}

func TestMakePredictTensors(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	train := randomMatrix(rng, 20, 2)
	test := randomMatrix(rng, 5, 2)
	targets := randomMatrix(rng, 20, 1)
	nn := randomNN(rng, 5, 4, 20)

	pt, err := MakePredictTensors([]int{0, 1, 2, 3, 4}, nn, test, train, targets)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 2}, pt.Crosswise.Shape())
	assert.Equal(t, []int{5, 4, 4, 2}, pt.Pairwise.Shape())
	assert.Equal(t, targets.At(nn[3][2], 0), pt.NNTargets.At(3, 2, 0))
}

func TestFastNNUpdate(t *testing.T) {
	nn := [][]int{
		{1, 2, 3},
		{0, 2, 3},
		{1, 3, 0},
		{2, 1, 0},
	}
	got, err := FastNNUpdate(nn)
	require.NoError(t, err)
	assert.Equal(t, [][]int{
		{0, 1, 2},
		{1, 0, 2},
		{2, 1, 3},
		{3, 2, 1},
	}, got)
	// input is untouched
	assert.Equal(t, []int{1, 2, 3}, nn[0])
}

func TestMakeFastPredictTensors(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	features := randomMatrix(rng, 6, 2)
	responses := randomMatrix(rng, 6, 1)
	nn := make([][]int, 6)
	for i := range nn {
		nn[i] = []int{(i + 1) % 6, (i + 2) % 6, (i + 3) % 6}
	}

	ft, err := MakeFastPredictTensors(nn, features, responses)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3, 3, 2}, ft.Pairwise.Shape())
	assert.Equal(t, []int{6, 3, 1}, ft.NNTargets.Shape())
	for i := range nn {
		assert.Equal(t, i, ft.NN[i][0])
		assert.Equal(t, responses.At(i, 0), ft.NNTargets.At(i, 0, 0))
	}

	_, err = MakeFastPredictTensors(nn[:5], features, responses)
	assert.Error(t, err)
}

func TestF2L2(t *testing.T) {
	pw, err := Pairwise(mat.NewDense(2, 2, []float64{0, 0, 3, 4}), [][]int{{0, 1}})
	require.NoError(t, err)

	f2 := F2(pw)
	l2 := L2(pw)
	assert.Equal(t, []int{1, 2, 2}, f2.Shape())
	assert.Equal(t, []float64{0, 25, 25, 0}, f2.Data())
	assert.Equal(t, []float64{0, 5, 5, 0}, l2.Data())
	for _, v := range l2.Data() {
		assert.False(t, math.Signbit(v))
	}
}
