package optimize

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/kernels"
	"github.com/YuminosukeSato/muygo/gp/noise"
	"github.com/YuminosukeSato/muygo/neighbors"
	"github.com/YuminosukeSato/muygo/optimize/loss"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}

// sineData samples y = sin(2x₀) + 0.5·x₁ on [0, 3)².
func sineData(n int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(3, 5))
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 3*rng.Float64())
		X.Set(i, 1, 3*rng.Float64())
		y.Set(i, 0, math.Sin(2*X.At(i, 0))+0.5*X.At(i, 1))
	}
	return X, y
}

func newModel(t *testing.T, opts ...gp.Option) *gp.MuyGPS {
	t.Helper()
	kern, err := kernels.NewMatern(
		hyperparameter.Fixed(1.5),
		distortion.NewIsotropic(distortion.L2, hyperparameter.MustBounded(3.0, 0.05, 10)),
	)
	require.NoError(t, err)
	eps, err := noise.NewHomoscedastic(hyperparameter.Fixed(1e-4))
	require.NoError(t, err)
	m, err := gp.New(kern, eps, append([]gp.Option{gp.WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestTransformRoundTrip(t *testing.T) {
	tr := newTransform([]hyperparameter.Bound{{Lower: 0.1, Upper: 10}, {Lower: -1, Upper: 1}})
	x := []float64{2.5, -0.3}
	back := tr.toBounded(tr.toUnbounded(x))
	assert.InDeltaSlice(t, x, back, 1e-12)

	// 極端な値でも範囲内に収まる
	inside := tr.toBounded([]float64{1e6, -1e6})
	assert.Equal(t, []float64{10, -1}, inside)
	for _, z := range tr.toUnbounded([]float64{0.1, 1}) {
		assert.False(t, math.IsInf(z, 0))
	}
}

func TestMakeLOOCrossvalFnMatchesManual(t *testing.T) {
	m := newModel(t)
	X, y := sineData(100)
	lookup, err := neighbors.NewExact(X, 10)
	require.NoError(t, err)
	batch, err := SampleBatch(lookup, 30, rand.NewPCG(1, 1))
	require.NoError(t, err)
	tt, err := batch.TrainTensors(X, y)
	require.NoError(t, err)

	obj, err := NewObjective(m, loss.MSE, tt)
	require.NoError(t, err)
	p := hyperparameter.Params{"length_scale": 0.7}
	got, err := obj(p)
	require.NoError(t, err)

	require.NoError(t, m.SetParams(p))
	K, err := m.Kernel(tt.Pairwise)
	require.NoError(t, err)
	Kcross, err := m.Kernel(tt.Crosswise)
	require.NoError(t, err)
	mean, err := m.PosteriorMean(K, Kcross, tt.BatchNNTargets)
	require.NoError(t, err)
	want, err := loss.MSE.Eval(mean, tt.BatchTargets, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	// 分散を使う損失も評価できる
	lool, err := NewObjective(m, loss.LOOL, tt)
	require.NoError(t, err)
	v, err := lool(p)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))

	_, err = NewObjective(m, loss.MSE, nil)
	assert.Error(t, err)
}

func TestOptimizeImprovesLoss(t *testing.T) {
	m := newModel(t)
	X, y := sineData(150)
	lookup, err := neighbors.NewExact(X, 12)
	require.NoError(t, err)
	batch, err := SampleBatch(lookup, 60, rand.NewPCG(2, 2))
	require.NoError(t, err)
	tt, err := batch.TrainTensors(X, y)
	require.NoError(t, err)
	obj, err := NewObjective(m, loss.MSE, tt)
	require.NoError(t, err)

	initial, err := obj(nil)
	require.NoError(t, err)

	res, err := Optimize(m, obj, WithMaxIterations(100), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Loss, initial+1e-12)
	assert.NotEmpty(t, res.Trace)
	assert.Positive(t, res.Evaluations)

	ls := res.Params["length_scale"]
	assert.GreaterOrEqual(t, ls, 0.05)
	assert.LessOrEqual(t, ls, 10.0)
	assert.Equal(t, ls, m.Hyperparameters().Values()["length_scale"])

	// 目的関数は作成時のハイパーパラメータを保持するので作り直す
	fresh, err := NewObjective(m, loss.MSE, tt)
	require.NoError(t, err)
	again, err := fresh(nil)
	require.NoError(t, err)
	assert.InDelta(t, res.Loss, again, 1e-12)
}

func TestOptimizeObjectiveErrorLeavesModel(t *testing.T) {
	m := newModel(t)
	boom := scigoErrors.NewConditioningError("test", 0, math.Inf(1), "singular")
	calls := 0
	obj := func(hyperparameter.Params) (float64, error) {
		calls++
		if calls > 3 {
			return 0, boom
		}
		return float64(calls), nil
	}
	_, err := Optimize(m, obj, WithLogger(quietLogger()))
	var condErr *scigoErrors.ConditioningError
	require.True(t, scigoErrors.As(err, &condErr), "expected ConditioningError, got %v", err)
	assert.Equal(t, 3.0, m.Hyperparameters().Values()["length_scale"])
}

func TestObjectiveBackendMismatch(t *testing.T) {
	lapack, err := backend.Get(backend.LapackName)
	require.NoError(t, err)
	require.Equal(t, backend.GonumName, backend.Active().Name())

	m := newModel(t, gp.WithBackend(lapack))
	X, y := sineData(60)
	lookup, err := neighbors.NewExact(X, 8)
	require.NoError(t, err)
	batch, err := SampleBatch(lookup, 20, rand.NewPCG(5, 5))
	require.NoError(t, err)
	tt, err := batch.TrainTensors(X, y)
	require.NoError(t, err)

	for _, l := range []loss.LossFn{loss.MSE, loss.LOOL} {
		obj, err := NewObjective(m, l, tt)
		require.NoError(t, err)
		_, err = obj(hyperparameter.Params{"length_scale": 1})
		var backendErr *scigoErrors.BackendError
		require.True(t, scigoErrors.As(err, &backendErr), "expected BackendError, got %v", err)
		assert.Equal(t, backend.LapackName, backendErr.Want)
		assert.Equal(t, backend.GonumName, backendErr.Active)
	}

	obj, err := NewObjective(m, loss.MSE, tt)
	require.NoError(t, err)
	res, err := Optimize(m, obj, WithLogger(quietLogger()))
	assert.Nil(t, res)
	var backendErr *scigoErrors.BackendError
	require.True(t, scigoErrors.As(err, &backendErr), "expected BackendError, got %v", err)
	assert.Equal(t, 3.0, m.Hyperparameters().Values()["length_scale"])
}

// TestLOOReproducible evaluates the posterior mean and the leave-one-out MSE
// on 1000 points in 10 dimensions with k=40 and an exponential Matérn kernel.
// Repeated evaluations must agree bit for bit on every backend.
func TestLOOReproducible(t *testing.T) {
	rng := rand.New(rand.NewPCG(10, 40))
	X := mat.NewDense(1000, 10, nil)
	y := mat.NewDense(1000, 1, nil)
	for i := 0; i < 1000; i++ {
		s := 0.0
		for j := 0; j < 10; j++ {
			v := rng.Float64()
			X.Set(i, j, v)
			s += math.Sin(3 * v)
		}
		y.Set(i, 0, s/10)
	}
	lookup, err := neighbors.NewExact(X, 40)
	require.NoError(t, err)
	batch, err := SampleBatch(lookup, 200, rand.NewPCG(7, 7))
	require.NoError(t, err)
	tt, err := batch.TrainTensors(X, y)
	require.NoError(t, err)

	defer func() { require.NoError(t, backend.Use(backend.GonumName)) }()
	for _, name := range []string{backend.GonumName, backend.LapackName} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Use(name))
			m, err := gp.NewFromParams(kernels.Matern,
				hyperparameter.Params{"nu": 0.5, "length_scale": 1, "eps": 1e-3},
				gp.WithLogger(quietLogger()))
			require.NoError(t, err)
			obj, err := NewObjective(m, loss.MSE, tt)
			require.NoError(t, err)

			var firstMean []float64
			var firstLoss float64
			for rep := 0; rep < 3; rep++ {
				K, err := m.Kernel(tt.Pairwise)
				require.NoError(t, err)
				Kcross, err := m.Kernel(tt.Crosswise)
				require.NoError(t, err)
				mean, err := m.PosteriorMean(K, Kcross, tt.BatchNNTargets)
				require.NoError(t, err)
				v, err := obj(nil)
				require.NoError(t, err)
				require.False(t, math.IsNaN(v))
				if rep == 0 {
					firstMean, firstLoss = mean.Data(), v
					continue
				}
				assert.Equal(t, firstMean, mean.Data(), "repetition %d", rep)
				assert.Equal(t, firstLoss, v, "repetition %d", rep)
			}
		})
	}
}

func TestOptimizeWarnsOnBudget(t *testing.T) {
	provider, _ := log.NewTestLoggerProvider(log.LevelDebug)
	prev := log.GetProvider()
	log.SetProvider(provider)
	defer log.SetProvider(prev)

	m := newModel(t)
	obj := func(p hyperparameter.Params) (float64, error) {
		d := p["length_scale"] - 1
		return d * d, nil
	}
	res, err := Optimize(m, obj, WithMaxIterations(1), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.True(t, provider.Logger().ContainsMessage("failed to converge"))
}

func TestOptimizeFindsQuadraticMinimum(t *testing.T) {
	m := newModel(t)
	obj := func(p hyperparameter.Params) (float64, error) {
		d := p["length_scale"] - 1.7
		return d * d, nil
	}
	res, err := Optimize(m, obj, WithMaxIterations(500), WithTolerance(1e-14), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.InDelta(t, 1.7, res.Params["length_scale"], 1e-3)
}

func TestOptimizeNothingToTune(t *testing.T) {
	m, err := gp.NewFromParams(kernels.RBF, hyperparameter.Params{"length_scale": 1}, gp.WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = Optimize(m, func(hyperparameter.Params) (float64, error) { return 0, nil })
	assert.Error(t, err)
}

func TestMultivariateObjective(t *testing.T) {
	X, y1 := sineData(80)
	y := mat.NewDense(80, 2, nil)
	for i := 0; i < 80; i++ {
		y.Set(i, 0, y1.At(i, 0))
		y.Set(i, 1, -y1.At(i, 0))
	}
	m0, m1 := newModel(t), newModel(t)
	mm, err := gp.NewMultivariate(m0, m1)
	require.NoError(t, err)

	lookup, err := neighbors.NewExact(X, 8)
	require.NoError(t, err)
	batch, err := SampleBatch(lookup, 20, rand.NewPCG(9, 9))
	require.NoError(t, err)
	tt, err := batch.TrainTensors(X, y)
	require.NoError(t, err)

	obj, err := NewMultivariateObjective(mm, loss.MSE, tt)
	require.NoError(t, err)
	got, err := obj(hyperparameter.Params{"length_scale/0": 1, "length_scale/1": 1})
	require.NoError(t, err)

	// 第2応答は符号反転なので各応答の損失は等しい
	single, err := NewObjective(m0, loss.MSE, tt)
	require.NoError(t, err)
	both, err := single(hyperparameter.Params{"length_scale": 1})
	require.NoError(t, err)
	assert.InDelta(t, 2*both, got, 1e-10)

	_, err = obj(hyperparameter.Params{"length_scale": 1})
	var nameErr *scigoErrors.HyperparameterNameError
	assert.True(t, scigoErrors.As(err, &nameErr))

	res, err := Optimize(mm, obj, WithMaxIterations(30), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Len(t, res.Params, 2)
}

func TestResponseSlice(t *testing.T) {
	src, err := tensor.New([]int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	col := responseSlice(src, 1)
	assert.Equal(t, []int{2, 1}, col.Shape())
	assert.Equal(t, []float64{1, 4}, col.Data())
}
