// Package errors provides structured error handling for the document
// pipeline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (blob storage, disk)
//   - 3XX: Network errors (collaborator backends)
//   - 4XX: Pipeline stage errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates blob storage and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates collaborator network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryStage indicates ingestion/retrieval stage failures.
	CategoryStage Category = "STAGE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeBlobNotFound  = "ERR_201_BLOB_NOT_FOUND"
	ErrCodeBlobWrite     = "ERR_202_BLOB_WRITE"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeMetadataStore = "ERR_204_METADATA_STORE"

	// Network errors (300-399)
	ErrCodeBackendUnreachable = "ERR_301_BACKEND_UNREACHABLE"
	ErrCodeNetworkTimeout     = "ERR_302_NETWORK_TIMEOUT"

	// Stage errors (400-499)
	ErrCodeUnsupportedFormat = "ERR_401_UNSUPPORTED_FORMAT"
	ErrCodeExtractionFailed  = "ERR_402_EXTRACTION_FAILED"
	ErrCodeChunkingFailed    = "ERR_403_CHUNKING_FAILED"
	ErrCodeIndexingFailed    = "ERR_404_INDEXING_FAILED"
	ErrCodeRetrievalFailed   = "ERR_405_RETRIEVAL_FAILED"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeTenantMismatch  = "ERR_503_TENANT_MISMATCH"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryStage
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on the error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeTenantMismatch:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Stage errors are retried by the coordinator's own bounded retry track,
// not by the in-call retry helper, so they are not marked retryable here.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnreachable, ErrCodeNetworkTimeout:
		return true
	default:
		return false
	}
}
