package optimize

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/neighbors"
)

// twoClasses places n points per class on a line: class 0 at -1, -2, ...
// and class 1 at 1.1, 2.1, ... The offset avoids distance ties.
func twoClasses(n int) (*mat.Dense, []int) {
	X := mat.NewDense(2*n, 1, nil)
	labels := make([]int, 2*n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, -float64(i+1))
		X.Set(n+i, 0, float64(i+1)+0.1)
		labels[n+i] = 1
	}
	return X, labels
}

func TestSampleBatch(t *testing.T) {
	X, _ := sineData(50)
	lookup, err := neighbors.NewExact(X, 5)
	require.NoError(t, err)

	b, err := SampleBatch(lookup, 20, rand.NewPCG(4, 4))
	require.NoError(t, err)
	assert.Equal(t, 20, b.Len())
	assert.True(t, sort.IntsAreSorted(b.Indices))
	seen := map[int]bool{}
	for i, idx := range b.Indices {
		assert.False(t, seen[idx], "sampled without replacement")
		seen[idx] = true
		assert.NotContains(t, b.NN[i], idx, "leave-one-out neighbors")
		assert.Len(t, b.NN[i], 5)
	}

	again, err := SampleBatch(lookup, 20, rand.NewPCG(4, 4))
	require.NoError(t, err)
	assert.Equal(t, b.Indices, again.Indices, "same seed, same batch")

	all, err := SampleBatch(lookup, 80, nil)
	require.NoError(t, err)
	assert.Equal(t, arange(50), all.Indices)

	_, err = SampleBatch(lookup, 10, nil)
	assert.Error(t, err, "subsampling needs a source")
	_, err = SampleBatch(lookup, 0, rand.NewPCG(1, 1))
	assert.Error(t, err)
}

func TestFullFilteredBatch(t *testing.T) {
	X, labels := twoClasses(6)
	lookup, err := neighbors.NewExact(X, 3)
	require.NoError(t, err)

	b, err := FullFilteredBatch(lookup, labels)
	require.NoError(t, err)
	// 境界に最も近い -1 と 1.1 だけが異なるラベルの近傍を持つ
	assert.Equal(t, []int{0, 6}, b.Indices)
	assert.Equal(t, []int{1, 2, 6}, b.NN[0])

	_, err = FullFilteredBatch(lookup, labels[:3])
	assert.Error(t, err)
}

func TestSampleBalancedBatch(t *testing.T) {
	X, labels := twoClasses(10)
	lookup, err := neighbors.NewExact(X, 6)
	require.NoError(t, err)

	full, err := FullFilteredBatch(lookup, labels)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 10, 11}, full.Indices)

	b, err := SampleBalancedBatch(lookup, labels, 2, rand.NewPCG(6, 6))
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	counts := map[int]int{}
	for _, idx := range b.Indices {
		counts[labels[idx]]++
	}
	assert.Equal(t, map[int]int{0: 1, 1: 1}, counts)
	assert.True(t, sort.IntsAreSorted(b.Indices))

	// 要求数が候補より多ければ全候補
	b, err = SampleBalancedBatch(lookup, labels, 100, rand.NewPCG(6, 6))
	require.NoError(t, err)
	assert.Equal(t, full.Indices, b.Indices)

	_, err = SampleBalancedBatch(lookup, labels, 4, nil)
	assert.Error(t, err)
}
