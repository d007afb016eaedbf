package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedIsDeterministic(t *testing.T) {
	e := NewEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "trip | Paris in June")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "trip | Paris in June")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestEmbedIsNormalized(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())

	v, err := e.Embed(context.Background(), "pasta with basil and tomatoes")
	require.NoError(t, err)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	e := NewEmbedder(32)

	v, err := e.Embed(context.Background(), "the and of, to!")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbedCaseInsensitive(t *testing.T) {
	e := NewEmbedder(32)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Paris")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedSharedTermsAreCloser(t *testing.T) {
	e := NewEmbedder(DefaultDimension)
	ctx := context.Background()

	q, err := e.Embed(ctx, "trip")
	require.NoError(t, err)
	trip, err := e.Embed(ctx, "trip | Paris in June")
	require.NoError(t, err)
	recipe, err := e.Embed(ctx, "recipe | pasta with basil")
	require.NoError(t, err)

	assert.Less(t, sqDist(q, trip), sqDist(q, recipe))
}

func TestEmbedHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEmbedder(8).Embed(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)
}

func sqDist(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
