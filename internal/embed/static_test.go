package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "land speed records for automobiles")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "land speed records for automobiles")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticEmbedder_NormalizedOutput(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "refund policy for enterprise customers")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-5)
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	base, err := e.Embed(ctx, "the rocket engine reached record velocity")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "rocket engine velocity record")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "quarterly invoice billing address")
	require.NoError(t, err)

	assert.Greater(t, Cosine(base, near), Cosine(base, far))
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	e := NewStaticEmbedder()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestStaticEmbedder_ClosedRejectsEmbed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestCosine_Properties(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine(nil, []float32{1}))
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1}))
}
