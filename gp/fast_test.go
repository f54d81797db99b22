package gp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/tensors"
	"github.com/YuminosukeSato/muygo/neighbors"
)

// looNeighbors returns the leave-one-out neighbors of every training point.
func looNeighbors(t *testing.T, X *mat.Dense, k int) [][]int {
	t.Helper()
	n, _ := X.Dims()
	lookup, err := neighbors.NewExact(X, k)
	require.NoError(t, err)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	nn, _, err := lookup.BatchNeighbors(all)
	require.NoError(t, err)
	return nn
}

func TestFastPredictorMatchesDirect(t *testing.T) {
	m := maternModel(t)
	X, y := testData(60, 2)
	nn := looNeighbors(t, X, 8)

	f, err := m.BuildFastPredictor(nn, X, y)
	require.NoError(t, err)
	assert.Equal(t, []int{60, 8, 2}, f.Coefficients().Shape())
	for i, row := range f.Neighbors() {
		assert.Equal(t, i, row[0], "fast neighborhoods start with the point itself")
	}

	// 訓練点そのものをクエリにすると、直接計算と一致する
	closest := []int{3, 17, 42, 59}
	query := mat.NewDense(len(closest), 2, nil)
	for b, c := range closest {
		query.SetRow(b, X.RawRowView(c))
	}
	fast, err := f.PosteriorMean(query, closest)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, fast.Shape())

	ft, err := tensors.MakeFastPredictTensors(nn, X, y)
	require.NoError(t, err)
	sub := make([][]int, len(closest))
	idx := make([]int, len(closest))
	for b, c := range closest {
		sub[b] = ft.NN[c]
		idx[b] = b
	}
	pt, err := tensors.MakePredictTensors(idx, sub, query, X, y)
	require.NoError(t, err)
	K, err := m.Kernel(pt.Pairwise)
	require.NoError(t, err)
	Kcross, err := m.Kernel(pt.Crosswise)
	require.NoError(t, err)
	direct, err := m.PosteriorMean(K, Kcross, pt.NNTargets)
	require.NoError(t, err)

	assert.True(t, tensor.AllClose(direct, fast, 1e-5))
	// 自身を含む近傍なので予測値は訓練値に近い
	for b, c := range closest {
		assert.InDelta(t, y.At(c, 0), fast.At(b, 0), 0.1)
	}
}

func TestFastPredictorValidation(t *testing.T) {
	m := maternModel(t)
	X, y := testData(30, 2)
	nn := looNeighbors(t, X, 5)
	f, err := m.BuildFastPredictor(nn, X, y)
	require.NoError(t, err)

	_, err = f.PosteriorMean(mat.NewDense(2, 2, nil), []int{0})
	assert.Error(t, err, "query and closest lengths differ")
	_, err = f.PosteriorMean(mat.NewDense(1, 2, nil), []int{30})
	assert.Error(t, err, "closest out of range")
	_, err = f.PosteriorMean(mat.NewDense(1, 3, nil), []int{0})
	assert.Error(t, err, "feature dimension mismatch")

	_, err = m.BuildFastPredictor(nn[:10], X, y)
	assert.Error(t, err, "one neighbor row per training point")
}

func TestFastPredictorRebuild(t *testing.T) {
	m := maternModel(t)
	X, y := testData(40, 2)
	nn := looNeighbors(t, X, 6)
	f, err := m.BuildFastPredictor(nn, X, y)
	require.NoError(t, err)
	before := f.Coefficients()

	require.NoError(t, m.SetParams(hyperparameter.Params{"length_scale": 2.5}))
	// 再構築するまではキャッシュは変わらない
	assert.Equal(t, before.Data(), f.Coefficients().Data())

	require.NoError(t, f.Rebuild(nn, X, y))
	assert.False(t, tensor.AllClose(before, f.Coefficients(), 1e-9))

	// 失敗した再構築は以前のキャッシュを残す
	after := f.Coefficients()
	assert.Error(t, f.Rebuild(nn[:5], X, y))
	assert.Equal(t, after.Data(), f.Coefficients().Data())
}

func TestFastPredictorConcurrent(t *testing.T) {
	m := maternModel(t)
	X, y := testData(40, 2)
	nn := looNeighbors(t, X, 6)
	f, err := m.BuildFastPredictor(nn, X, y)
	require.NoError(t, err)

	query := mat.NewDense(2, 2, []float64{1, 1, 2, 3})
	closest := []int{0, 1}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if _, err := f.PosteriorMean(query, closest); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.Rebuild(nn, X, y); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestMultivariateFastPredictor(t *testing.T) {
	m0 := maternModel(t)
	m1 := maternModel(t)
	require.NoError(t, m1.SetParams(hyperparameter.Params{"length_scale": 0.5}))
	mm, err := NewMultivariate(m0, m1)
	require.NoError(t, err)

	X, y := testData(50, 2)
	nn := looNeighbors(t, X, 6)
	f, err := mm.BuildFastPredictor(nn, X, y)
	require.NoError(t, err)

	query := mat.NewDense(3, 2, []float64{0.5, 0.5, 2, 2, 3.5, 1})
	closest := []int{4, 9, 33}
	got, err := f.PosteriorMean(query, closest)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, got.Shape())

	// 各応答は対応するモデル単独の結果と一致する
	for r, m := range []*MuyGPS{m0, m1} {
		col := mat.NewDense(50, 1, nil)
		col.SetCol(0, mat.Col(nil, r, y))
		single, err := m.BuildFastPredictor(nn, X, col)
		require.NoError(t, err)
		want, err := single.PosteriorMean(query, closest)
		require.NoError(t, err)
		for b := 0; b < 3; b++ {
			assert.InDelta(t, want.At(b, 0), got.At(b, r), 1e-12)
		}
	}

	single, err := NewMultivariate(m0)
	require.NoError(t, err)
	_, err = single.BuildFastPredictor(nn, X, y)
	assert.Error(t, err, "one model per response column")
}

func TestMultivariateParams(t *testing.T) {
	mm, err := NewMultivariate(maternModel(t), maternModel(t))
	require.NoError(t, err)

	names, x0, _ := mm.GetOptParams()
	assert.Equal(t, []string{"length_scale/0", "length_scale/1"}, names)
	assert.Equal(t, []float64{1, 1}, x0)

	require.NoError(t, mm.SetParams(hyperparameter.Params{"length_scale/1": 3}))
	assert.Equal(t, 1.0, mm.Model(0).Hyperparameters().Values()["length_scale"])
	assert.Equal(t, 3.0, mm.Model(1).Hyperparameters().Values()["length_scale"])

	for _, bad := range []string{"length_scale", "length_scale/2", "sigma/0"} {
		err := mm.SetParams(hyperparameter.Params{"length_scale/0": 2, bad: 1})
		assert.Error(t, err, bad)
		assert.Equal(t, 1.0, mm.Model(0).Hyperparameters().Values()["length_scale"], bad)
	}
}

func TestMultivariatePredict(t *testing.T) {
	m0, m1 := maternModel(t), maternModel(t)
	mm, err := NewMultivariate(m0, m1)
	require.NoError(t, err)

	X, y := testData(50, 2)
	nn := looNeighbors(t, X, 6)
	batch := []int{1, 2, 3, 4, 5}
	sub := make([][]int, len(batch))
	for i, b := range batch {
		sub[i] = nn[b]
	}
	tt, err := tensors.MakeTrainTensors(batch, sub, X, y)
	require.NoError(t, err)

	sigmaSq, err := mm.OptimizeSigmaSq(tt.Pairwise, tt.BatchNNTargets)
	require.NoError(t, err)
	require.Len(t, sigmaSq, 2)

	post, err := mm.Predict(tt.Pairwise, tt.Crosswise, tt.BatchNNTargets, MeanAndVariance)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2}, post.Mean.Shape())
	assert.Equal(t, []int{5, 2}, post.Variance.Shape())

	// 同じハイパーパラメータなら単変量モデルと同じ平均
	K, err := m0.Kernel(tt.Pairwise)
	require.NoError(t, err)
	Kcross, err := m0.Kernel(tt.Crosswise)
	require.NoError(t, err)
	mean, err := m0.PosteriorMean(K, Kcross, tt.BatchNNTargets)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(mean, post.Mean, 1e-12))

	_, err = mm.PosteriorMean(tt.Pairwise, tt.Crosswise, column(tt.BatchNNTargets, 0))
	assert.Error(t, err, "response count must match the number of models")
}
