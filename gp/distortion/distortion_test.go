package distortion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// diffs returns a (1,2,2) difference tensor: rows (3,4) and (1,0).
func diffs(t *testing.T) *tensor.Dense {
	t.Helper()
	x, err := tensor.New([]int{1, 2, 2}, []float64{3, 4, 1, 0})
	require.NoError(t, err)
	return x
}

func TestIsotropicReduce(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		scale  float64
		want   []float64
	}{
		{"F2 unit", F2, 1, []float64{25, 1}},
		{"l2 unit", L2, 1, []float64{5, 1}},
		{"F2 scaled", F2, 2, []float64{6.25, 0.25}},
		{"l2 scaled", L2, 0.5, []float64{10, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewIsotropic(tt.metric, hyperparameter.Fixed(tt.scale))
			got, err := d.Reduce(diffs(t), nil)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2}, got.Shape())
			assert.InDeltaSlice(t, tt.want, got.Data(), 1e-12)
		})
	}
}

func TestParamsOverrideScale(t *testing.T) {
	d := NewIsotropic(L2, hyperparameter.MustBounded(1, 0.1, 10))
	got, err := d.Reduce(diffs(t), hyperparameter.Params{LengthScaleName: 5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0.2}, got.Data(), 1e-12)
}

func TestAnisotropic(t *testing.T) {
	d, err := NewAnisotropic(F2, hyperparameter.Fixed(1), hyperparameter.Fixed(2))
	require.NoError(t, err)

	got, err := d.Reduce(diffs(t), nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{9 + 4, 1}, got.Data(), 1e-12)

	names := []string{}
	for _, h := range d.Hyperparameters() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"length_scale0", "length_scale1"}, names)

	// equal scales reproduce the isotropic distance
	same, err := NewAnisotropic(L2, hyperparameter.Fixed(1.5), hyperparameter.Fixed(1.5))
	require.NoError(t, err)
	iso := NewIsotropic(L2, hyperparameter.Fixed(1.5))
	a, err := same.Reduce(diffs(t), nil)
	require.NoError(t, err)
	b, err := iso.Reduce(diffs(t), nil)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(a, b, 1e-14))
}

func TestAnisotropicDimensionMismatch(t *testing.T) {
	d, err := NewAnisotropic(F2, hyperparameter.Fixed(1), hyperparameter.Fixed(1), hyperparameter.Fixed(1))
	require.NoError(t, err)

	_, err = d.Reduce(diffs(t), nil)
	var dimErr *scigoErrors.DimensionError
	assert.True(t, scigoErrors.As(err, &dimErr), "got %v", err)
}

func TestDistancesNonNegative(t *testing.T) {
	x, err := tensor.New([]int{2, 3}, []float64{-1, -2, 0.5, 0, 0, 0})
	require.NoError(t, err)
	for _, m := range []Metric{F2, L2} {
		got, err := NewIsotropic(m, hyperparameter.Fixed(0.7)).Reduce(x, nil)
		require.NoError(t, err)
		assert.Greater(t, got.At(0), 0.0)
		assert.Equal(t, 0.0, got.At(1))
	}
}

func TestApplyForwardsParams(t *testing.T) {
	d := NewIsotropic(F2, hyperparameter.Fixed(1))
	var seen hyperparameter.Params
	fn := d.Apply(func(dists *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error) {
		seen = p
		out := dists.Clone()
		for i, v := range out.Data() {
			out.Data()[i] = math.Exp(-v / 2)
		}
		return out, nil
	})

	got, err := fn(diffs(t), hyperparameter.Params{"nu": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1.5, seen["nu"])
	assert.InDelta(t, math.Exp(-12.5), got.At(0, 0), 1e-15)
}

func TestSetOwnedNames(t *testing.T) {
	d := NewIsotropic(L2, hyperparameter.MustBounded(1, 0.1, 10))
	require.NoError(t, d.Set(LengthScaleName, 2))
	assert.Equal(t, 2.0, d.Hyperparameters()[0].Scalar.Value())

	err := d.Set("length_scale0", 2)
	var nameErr *scigoErrors.HyperparameterNameError
	assert.True(t, scigoErrors.As(err, &nameErr))
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, L2, m)
	m, err = ParseMetric("F2")
	require.NoError(t, err)
	assert.Equal(t, F2, m)
	_, err = ParseMetric("cosine")
	assert.Error(t, err)
}
