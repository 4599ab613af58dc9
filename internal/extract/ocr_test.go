package extract

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

func TestHTTPOCRClientRecognizesImage(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ocr", r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "Invoice total: 42 EUR"}`))
	}))
	defer srv.Close()

	client := NewHTTPOCRClient(HTTPOCRConfig{Host: srv.URL})
	defer client.Close()

	text, err := client.RecognizeImage(context.Background(), bytes.NewReader([]byte("fake-image-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "Invoice total: 42 EUR", text)
	assert.Equal(t, []byte("fake-image-bytes"), gotBody)
}

func TestHTTPOCRClientServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPOCRClient(HTTPOCRConfig{Host: srv.URL})
	defer client.Close()

	_, err := client.RecognizeImage(context.Background(), bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeBackendUnreachable, pipeerrors.GetCode(err))
	assert.True(t, pipeerrors.IsRetryable(err))
}

func TestHTTPOCRClientBadRequestFailsExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported image format", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPOCRClient(HTTPOCRConfig{Host: srv.URL})
	defer client.Close()

	_, err := client.RecognizeImage(context.Background(), bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeExtractionFailed, pipeerrors.GetCode(err))
	assert.False(t, pipeerrors.IsRetryable(err))
}
