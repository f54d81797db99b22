package backend

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// randomSPD returns B matrices M Mᵀ + k·I of size k×k.
func randomSPD(rng *rand.Rand, B, k int) *tensor.Dense {
	out := tensor.Zeros(B, k, k)
	m := make([]float64, k*k)
	for b := 0; b < B; b++ {
		for i := range m {
			m[i] = rng.NormFloat64()
		}
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				s := 0.0
				for l := 0; l < k; l++ {
					s += m[i*k+l] * m[j*k+l]
				}
				if i == j {
					s += float64(k)
				}
				out.Set(s, b, i, j)
			}
		}
	}
	return out
}

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for i := range t.Data() {
		t.Data()[i] = rng.NormFloat64()
	}
	return t
}

func allBackends() []Backend {
	return []Backend{NewGonum(), NewLapack(WithParallelThreshold(2))}
}

func TestSolveResidual(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := randomSPD(rng, 20, 6)
	rhs := randomTensor(rng, 20, 6, 3)

	for _, be := range allBackends() {
		t.Run(be.Name(), func(t *testing.T) {
			x, err := be.Solve(a, rhs)
			require.NoError(t, err)
			require.Equal(t, []int{20, 6, 3}, x.Shape())

			for b := 0; b < 20; b++ {
				for i := 0; i < 6; i++ {
					for r := 0; r < 3; r++ {
						s := 0.0
						for j := 0; j < 6; j++ {
							s += a.At(b, i, j) * x.At(b, j, r)
						}
						assert.InDelta(t, rhs.At(b, i, r), s, 1e-10)
					}
				}
			}
		})
	}
}

func TestBackendsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := randomSPD(rng, 100, 8)
	rhs := randomTensor(rng, 100, 8, 2)
	vec := randomTensor(rng, 100, 8)

	g, l := NewGonum(), NewLapack(WithParallelThreshold(4))

	xg, err := g.Solve(a, rhs)
	require.NoError(t, err)
	xl, err := l.Solve(a, rhs)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(xg, xl, 1e-8))

	cg, err := g.Contract(vec, rhs)
	require.NoError(t, err)
	cl, err := l.Contract(vec, rhs)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(cg, cl, 1e-10))

	assert.InDelta(t, g.Dot(vec.Data(), vec.Data()), l.Dot(vec.Data(), vec.Data()), 1e-9)

	mg := g.Map(vec, math.Exp)
	ml := l.Map(vec, math.Exp)
	assert.True(t, tensor.AllClose(mg, ml, 0))
}

func TestSolveDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	a := randomSPD(rng, 300, 5)
	rhs := randomTensor(rng, 300, 5, 1)

	for _, be := range allBackends() {
		first, err := be.Solve(a, rhs)
		require.NoError(t, err)
		for run := 0; run < 3; run++ {
			again, err := be.Solve(a, rhs)
			require.NoError(t, err)
			assert.Equal(t, first.Data(), again.Data(), "%s must be bit-reproducible", be.Name())
		}
	}
}

func TestSolveSingular(t *testing.T) {
	a := tensor.Zeros(3, 2, 2)
	for b := 0; b < 3; b++ {
		a.Set(1, b, 0, 0)
		a.Set(1, b, 1, 1)
	}
	// batch 1 is rank one
	a.Set(1, 1, 0, 1)
	a.Set(1, 1, 1, 0)
	rhs := tensor.Full(1, 3, 2, 1)

	for _, be := range []Backend{NewGonum(), NewLapack(WithParallelThreshold(0))} {
		t.Run(be.Name(), func(t *testing.T) {
			_, err := be.Solve(a, rhs)
			require.Error(t, err)

			var condErr *scigoErrors.ConditioningError
			require.True(t, scigoErrors.As(err, &condErr), "got %v", err)
			assert.Equal(t, 1, condErr.Batch)

			var shapeErr *scigoErrors.InputShapeError
			assert.False(t, scigoErrors.As(err, &shapeErr))
		})
	}
}

func TestSolveShapeMismatch(t *testing.T) {
	a := tensor.Full(1, 2, 3, 3)
	for _, be := range allBackends() {
		_, err := be.Solve(a, tensor.Zeros(2, 4, 1))
		var shapeErr *scigoErrors.InputShapeError
		assert.True(t, scigoErrors.As(err, &shapeErr), "%s: got %v", be.Name(), err)

		_, err = be.Contract(tensor.Zeros(2, 3), tensor.Zeros(3, 3, 1))
		assert.True(t, scigoErrors.As(err, &shapeErr), "%s: got %v", be.Name(), err)
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, GonumName, Active().Name())
	assert.Contains(t, Names(), LapackName)

	require.Error(t, Use("cuda"))

	g, err := Get(GonumName)
	require.NoError(t, err)
	require.NoError(t, Require("op", g))

	require.NoError(t, Use(LapackName))
	defer func() { require.NoError(t, Use(GonumName)) }()

	err = Require("FastPredict", g)
	var backendErr *scigoErrors.BackendError
	require.True(t, scigoErrors.As(err, &backendErr))
	assert.Equal(t, GonumName, backendErr.Want)
	assert.Equal(t, LapackName, backendErr.Active)
}
