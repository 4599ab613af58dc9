package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("connection refused")

	pipeErr := BackendUnreachable("embedding service down", originalErr)

	require.NotNil(t, pipeErr)
	assert.Equal(t, originalErr, errors.Unwrap(pipeErr))
	assert.True(t, errors.Is(pipeErr, originalErr))
}

func TestPipeError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "unsupported format",
			code:     ErrCodeUnsupportedFormat,
			message:  "mime type image/gif not accepted",
			expected: "[ERR_401_UNSUPPORTED_FORMAT] mime type image/gif not accepted",
		},
		{
			name:     "extraction failed",
			code:     ErrCodeExtractionFailed,
			message:  "parse error on page 3",
			expected: "[ERR_402_EXTRACTION_FAILED] parse error on page 3",
		},
		{
			name:     "backend unreachable",
			code:     ErrCodeBackendUnreachable,
			message:  "vector index unavailable",
			expected: "[ERR_301_BACKEND_UNREACHABLE] vector index unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestPipeError_Is_MatchesByCode(t *testing.T) {
	a := New(ErrCodeIndexingFailed, "batch 2 upsert failed", nil)
	b := New(ErrCodeIndexingFailed, "different message", nil)
	c := New(ErrCodeChunkingFailed, "other code", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestPipeError_CategoryDerivedFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeBlobNotFound, CategoryIO},
		{ErrCodeBackendUnreachable, CategoryNetwork},
		{ErrCodeRetrievalFailed, CategoryStage},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		err := New(tt.code, "msg", nil)
		assert.Equal(t, tt.category, err.Category, tt.code)
	}
}

func TestPipeError_RetryableFlag(t *testing.T) {
	assert.True(t, IsRetryable(BackendUnreachable("down", nil)))
	// Stage failures are retried by the coordinator's persisted track, not
	// by the in-call retry helper.
	assert.False(t, IsRetryable(ExtractionFailed("bad pdf", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestPipeError_WithDetail(t *testing.T) {
	err := ExtractionFailed("parse error", nil).
		WithDetail("tenant", "t1").
		WithDetail("filename", "manual.pdf")

	assert.Equal(t, "t1", err.Details["tenant"])
	assert.Equal(t, "manual.pdf", err.Details["filename"])
}
