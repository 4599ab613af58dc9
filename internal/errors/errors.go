package errors

import (
	"fmt"
)

// PipeError is the structured error type used across the pipeline.
// It carries enough context for stage/retry bookkeeping and logging.
type PipeError struct {
	// Code is the unique error code (e.g., "ERR_402_EXTRACTION_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, Stage, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs
	// (tenant, filename, stage, ...).
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried in-call.
	Retryable bool
}

// Error implements the error interface.
func (e *PipeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipeError) Unwrap() error {
	return e.Cause
}

// Is matches PipeErrors by code, enabling errors.Is against sentinel
// instances created with New.
func (e *PipeError) Is(target error) bool {
	if t, ok := target.(*PipeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// chaining.
func (e *PipeError) WithDetail(key, value string) *PipeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipeError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *PipeError {
	return &PipeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PipeError from an existing error, reusing its message.
func Wrap(code string, err error) *PipeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// UnsupportedFormat creates an error for a rejected content type.
func UnsupportedFormat(message string) *PipeError {
	return New(ErrCodeUnsupportedFormat, message, nil)
}

// ExtractionFailed creates an extraction stage error.
func ExtractionFailed(message string, cause error) *PipeError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// ChunkingFailed creates a chunking stage error.
func ChunkingFailed(message string, cause error) *PipeError {
	return New(ErrCodeChunkingFailed, message, cause)
}

// IndexingFailed creates an indexing stage error.
func IndexingFailed(message string, cause error) *PipeError {
	return New(ErrCodeIndexingFailed, message, cause)
}

// RetrievalFailed creates a retrieval error. Unlike stage errors this
// propagates to the query caller.
func RetrievalFailed(message string, cause error) *PipeError {
	return New(ErrCodeRetrievalFailed, message, cause)
}

// BackendUnreachable creates a collaborator I/O error. These are retryable.
func BackendUnreachable(message string, cause error) *PipeError {
	return New(ErrCodeBackendUnreachable, message, cause)
}

// IsRetryable reports whether err is a PipeError with the retryable flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipeError); ok {
		return pe.Retryable
	}
	return false
}

// GetCode extracts the error code from a PipeError, or "" otherwise.
func GetCode(err error) string {
	if pe, ok := err.(*PipeError); ok {
		return pe.Code
	}
	return ""
}
