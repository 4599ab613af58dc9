// Package store persists per-document pipeline state in SQLite. It is the
// single source of truth for "current stage": the coordinator only acts on
// what ListPending returns, and every stage or retry-count update is a
// single-row transactional write.
package store

import (
	"context"
	"time"
)

// Stage is the ingestion state of a document.
type Stage string

const (
	StageTodo      Stage = "todo"
	StageExtracted Stage = "extracted"
	StageChunked   Stage = "chunked"
	StageCompleted Stage = "completed"

	StageExtractError   Stage = "extract_error"
	StageChunkError     Stage = "chunk_error"
	StageVectorizeError Stage = "vectorize_error"
)

// IsError reports whether the stage is one of the error loopback states.
func (s Stage) IsError() bool {
	switch s {
	case StageExtractError, StageChunkError, StageVectorizeError:
		return true
	}
	return false
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageTodo, StageExtracted, StageChunked, StageCompleted,
		StageExtractError, StageChunkError, StageVectorizeError:
		return true
	}
	return false
}

// DeleteStatus is the deletion track state of a document.
type DeleteStatus string

const (
	DeleteStatusNone       DeleteStatus = "none"
	DeleteStatusTodo       DeleteStatus = "todo"
	DeleteStatusInProgress DeleteStatus = "in_progress"
	DeleteStatusCompleted  DeleteStatus = "completed"
	DeleteStatusFailed     DeleteStatus = "failed"
)

// Document is one tracked upload, identified by (tenant, filename).
// The ingestion track (Stage/RetryCount) and the deletion track
// (DeleteStatus/DeleteRetryCount) are mutually exclusive: once
// DeleteRequested is set the coordinator never advances ingestion stages.
type Document struct {
	TenantID string
	Filename string
	FileID   string

	Stage      Stage
	RetryCount int
	LastError  string

	DeleteRequested  bool
	DeleteStatus     DeleteStatus
	DeleteRetryCount int

	// Pending marks membership in the pending-work set. Cleared when the
	// document completes, terminally fails, or deletion finalizes.
	Pending bool

	// Failed marks terminal failure (retry bound exhausted).
	Failed bool

	// ClaimedUntil is the lease expiry for a row handed out by ListPending.
	// Zero means unclaimed.
	ClaimedUntil time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetadataStore is the durable table of per-document stage/retry state.
// All methods are atomic per call.
type MetadataStore interface {
	// Enqueue registers an uploaded file for ingestion. Re-enqueueing an
	// existing document resets its ingestion track (re-upload), unless the
	// document is pending deletion.
	Enqueue(ctx context.Context, tenantID, filename, fileID string) error

	// ListPending returns up to limit eligible documents, claiming each one
	// with a lease in the same transaction. Rows with an unexpired claim are
	// skipped. Deletions and error-recovery sort before fresh uploads,
	// oldest first within each class.
	ListPending(ctx context.Context, limit int) ([]*Document, error)

	// GetStage returns the current stage and retry count.
	GetStage(ctx context.Context, tenantID, filename string) (Stage, int, error)

	// SetStage records a stage transition. errMsg is empty on success.
	SetStage(ctx context.Context, tenantID, filename string, stage Stage, errMsg string, retryCount int) error

	// IsDeleteRequested reports whether deletion has been requested.
	IsDeleteRequested(ctx context.Context, tenantID, filename string) (bool, error)

	// RequestDeletion switches the document to the deletion track and puts
	// it back in the pending set.
	RequestDeletion(ctx context.Context, tenantID, filename string) error

	// SetDeleteState records a deletion attempt outcome that is not yet
	// final (status in_progress, bumped retry count).
	SetDeleteState(ctx context.Context, tenantID, filename string, status DeleteStatus, retryCount int) error

	// FinalizeDeletion marks the deletion track complete (or failed after
	// exhausting retries) and removes the document from the pending set.
	FinalizeDeletion(ctx context.Context, tenantID, fileID string, failed bool) error

	// RemoveFromPending evicts a document from the pending-work set, either
	// because it completed or because it terminally failed. It is a no-op
	// when the document is delete-requested: the deletion track owns it.
	RemoveFromPending(ctx context.Context, tenantID, filename string, failed bool) error

	// ReleaseClaim clears the lease on a document after its task finishes.
	ReleaseClaim(ctx context.Context, tenantID, filename string) error

	// GetDocument returns the full record, or ErrNotFound.
	GetDocument(ctx context.Context, tenantID, filename string) (*Document, error)

	// GetState / SetState are a small key-value table for runtime state.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}
