package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmpty(t *testing.T) {
	idx, err := Build(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	for _, k := range []int{0, 1, 10} {
		hits, err := idx.Search([]float32{1, 2, 3}, k)
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	_, err := Build(2, [][]float32{{1, 2}, {1, 2, 3}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchOrdersByDistance(t *testing.T) {
	idx, err := Build(2, [][]float32{
		{10, 10},
		{1, 1},
		{0, 0},
		{3, 4},
	})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, Hit{Position: 2, Distance: 0}, hits[0])
	assert.Equal(t, Hit{Position: 1, Distance: 2}, hits[1])
	assert.Equal(t, Hit{Position: 3, Distance: 25}, hits[2])
}

func TestSearchKLargerThanIndexReturnsAll(t *testing.T) {
	idx, err := Build(1, [][]float32{{3}, {1}, {2}})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0}, 50)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{1, 2, 0}, positions(hits))
}

func TestSearchTiesPreferSmallerPosition(t *testing.T) {
	idx, err := Build(2, [][]float32{
		{1, 0},
		{0, 1},
		{-1, 0},
		{0, -1},
	})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Position)

	hits, err = idx.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, positions(hits))

	hits, err = idx.Search([]float32{0, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, positions(hits))
}

func TestSearchNonPositiveK(t *testing.T) {
	idx, err := Build(1, [][]float32{{1}})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search([]float32{1}, -3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx, err := Build(2, [][]float32{{1, 1}})
	require.NoError(t, err)

	_, err = idx.Search([]float32{1}, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHeapPathMatchesFullSort(t *testing.T) {
	vectors := make([][]float32, 0, 64)
	for i := 0; i < 64; i++ {
		vectors = append(vectors, []float32{float32((i * 37) % 11), float32(i % 5)})
	}
	idx, err := Build(2, vectors)
	require.NoError(t, err)

	query := []float32{4, 2}
	all, err := idx.Search(query, len(vectors))
	require.NoError(t, err)

	for _, k := range []int{1, 3, 7, 20} {
		top, err := idx.Search(query, k)
		require.NoError(t, err)
		assert.Equal(t, all[:k], top, "k=%d", k)
	}
}

func TestVectorAccessor(t *testing.T) {
	idx, err := Build(3, [][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	assert.Equal(t, []float32{4, 5, 6}, idx.Vector(1))
	assert.Nil(t, idx.Vector(2))
	assert.Nil(t, idx.Vector(-1))
	assert.Equal(t, 3, idx.Dimension())
}

func positions(hits []Hit) []int {
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.Position
	}
	return out
}
