package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

func fastOllamaRetry() pipeerrors.RetryConfig {
	return pipeerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func ollamaResponse(t *testing.T, w http.ResponseWriter, n int) {
	t.Helper()
	embeddings := make([][]float64, n)
	for i := range embeddings {
		embeddings[i] = []float64{0.1, 0.2, 0.3}
	}
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings}))
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ollamaResponse(t, w, 1)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 3, Retry: fastOllamaRetry()})
	defer e.Close()

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 3, Retry: fastOllamaRetry()})
	defer e.Close()

	_, err := e.Embed(context.Background(), "bad request")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeEmbeddingFailed, pipeerrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_ExhaustedRetriesSurfaceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 3, Retry: fastOllamaRetry()})
	defer e.Close()

	_, err := e.Embed(context.Background(), "always down")
	require.Error(t, err)
}

func TestOllamaEmbedder_TimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		ollamaResponse(t, w, 1)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{
		Host:       srv.URL,
		Dimensions: 3,
		Timeout:    20 * time.Millisecond,
		Retry:      pipeerrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	defer e.Close()

	_, err := e.Embed(context.Background(), "slow backend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), pipeerrors.ErrCodeNetworkTimeout)
}

func TestOllamaEmbedder_BatchRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		items, ok := req.Input.([]any)
		require.True(t, ok, "batch input should be an array")
		ollamaResponse(t, w, len(items))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 3, Retry: fastOllamaRetry()})
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
}
