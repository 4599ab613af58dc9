package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueAndGetStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-1"))

	stage, retries, err := s.GetStage(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, StageTodo, stage)
	assert.Equal(t, 0, retries)

	doc, err := s.GetDocument(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file-1", doc.FileID)
	assert.True(t, doc.Pending)
	assert.False(t, doc.DeleteRequested)
}

func TestStoreDatabaseUsesWAL(t *testing.T) {
	s := newTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestGetStageNotFound(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.GetStage(context.Background(), "acme", "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetDocument(context.Background(), "acme", "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReEnqueueResetsIngestionTrack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-1"))
	require.NoError(t, s.SetStage(ctx, "acme", "report.pdf", StageExtractError, "boom", 3))
	require.NoError(t, s.RemoveFromPending(ctx, "acme", "report.pdf", true))

	// Re-upload starts over with a fresh file id.
	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-2"))

	doc, err := s.GetDocument(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file-2", doc.FileID)
	assert.Equal(t, StageTodo, doc.Stage)
	assert.Equal(t, 0, doc.RetryCount)
	assert.Empty(t, doc.LastError)
	assert.True(t, doc.Pending)
	assert.False(t, doc.Failed)
}

func TestEnqueueRejectedDuringDeletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-1"))
	require.NoError(t, s.RequestDeletion(ctx, "acme", "report.pdf"))

	err := s.Enqueue(ctx, "acme", "report.pdf", "file-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending deletion")
}

func TestSetStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-1"))
	require.NoError(t, s.SetStage(ctx, "acme", "report.pdf", StageExtracted, "", 0))

	stage, _, err := s.GetStage(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, StageExtracted, stage)

	require.NoError(t, s.SetStage(ctx, "acme", "report.pdf", StageChunkError, "segmenter failed", 2))
	doc, err := s.GetDocument(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, StageChunkError, doc.Stage)
	assert.Equal(t, 2, doc.RetryCount)
	assert.Equal(t, "segmenter failed", doc.LastError)
}

func TestSetStageRejectsUnknownStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "report.pdf", "file-1"))
	err := s.SetStage(ctx, "acme", "report.pdf", Stage("halfway"), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestListPendingClaimsRows(t *testing.T) {
	s := newTestStore(t, WithLease(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "a.pdf", "file-a"))
	require.NoError(t, s.Enqueue(ctx, "acme", "b.pdf", "file-b"))

	first, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Both rows are leased, a second poll within the lease sees nothing.
	second, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)

	// After the lease expires they become eligible again.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	third, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestListPendingOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.Enqueue(ctx, "acme", "fresh-old.pdf", "f1"))

	s.now = func() time.Time { return base.Add(time.Second) }
	require.NoError(t, s.Enqueue(ctx, "acme", "errored.pdf", "f2"))
	require.NoError(t, s.SetStage(ctx, "acme", "errored.pdf", StageExtractError, "boom", 1))

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	require.NoError(t, s.Enqueue(ctx, "acme", "doomed.pdf", "f3"))
	require.NoError(t, s.RequestDeletion(ctx, "acme", "doomed.pdf"))

	s.now = func() time.Time { return base.Add(3 * time.Second) }
	docs, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	// Deletions first, then error recovery, then fresh uploads.
	assert.Equal(t, "doomed.pdf", docs[0].Filename)
	assert.Equal(t, "errored.pdf", docs[1].Filename)
	assert.Equal(t, "fresh-old.pdf", docs[2].Filename)
}

func TestListPendingRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, s.Enqueue(ctx, "acme", name, "file-"+name))
	}

	docs, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestReleaseClaim(t *testing.T) {
	s := newTestStore(t, WithLease(time.Hour))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "a.pdf", "file-a"))

	docs, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, s.ReleaseClaim(ctx, "acme", "a.pdf"))

	again, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestRemoveFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "done.pdf", "file-1"))
	require.NoError(t, s.RemoveFromPending(ctx, "acme", "done.pdf", false))

	doc, err := s.GetDocument(ctx, "acme", "done.pdf")
	require.NoError(t, err)
	assert.False(t, doc.Pending)
	assert.False(t, doc.Failed)

	docs, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRemoveFromPendingIsNoopDuringDeletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "a.pdf", "file-1"))
	require.NoError(t, s.RequestDeletion(ctx, "acme", "a.pdf"))

	// The deletion track owns the document now.
	require.NoError(t, s.RemoveFromPending(ctx, "acme", "a.pdf", false))

	doc, err := s.GetDocument(ctx, "acme", "a.pdf")
	require.NoError(t, err)
	assert.True(t, doc.Pending)
	assert.True(t, doc.DeleteRequested)
}

func TestDeletionTrack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "a.pdf", "file-1"))
	require.NoError(t, s.RequestDeletion(ctx, "acme", "a.pdf"))

	requested, err := s.IsDeleteRequested(ctx, "acme", "a.pdf")
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, s.SetDeleteState(ctx, "acme", "a.pdf", DeleteStatusInProgress, 2))
	doc, err := s.GetDocument(ctx, "acme", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, DeleteStatusInProgress, doc.DeleteStatus)
	assert.Equal(t, 2, doc.DeleteRetryCount)

	// Finalization is keyed by file id, not filename.
	require.NoError(t, s.FinalizeDeletion(ctx, "acme", "file-1", false))
	doc, err = s.GetDocument(ctx, "acme", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, DeleteStatusCompleted, doc.DeleteStatus)
	assert.False(t, doc.Pending)
	assert.False(t, doc.Failed)
}

func TestFinalizeDeletionFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "a.pdf", "file-1"))
	require.NoError(t, s.RequestDeletion(ctx, "acme", "a.pdf"))
	require.NoError(t, s.FinalizeDeletion(ctx, "acme", "file-1", true))

	doc, err := s.GetDocument(ctx, "acme", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, DeleteStatusFailed, doc.DeleteStatus)
	assert.True(t, doc.Failed)
	assert.False(t, doc.Pending)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "acme", "shared.pdf", "file-acme"))
	require.NoError(t, s.Enqueue(ctx, "globex", "shared.pdf", "file-globex"))

	require.NoError(t, s.SetStage(ctx, "acme", "shared.pdf", StageCompleted, "", 0))

	stage, _, err := s.GetStage(ctx, "globex", "shared.pdf")
	require.NoError(t, err)
	assert.Equal(t, StageTodo, stage)
}

func TestStateTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetState(ctx, "last_poll", "12345"))
	require.NoError(t, s.SetState(ctx, "last_poll", "67890"))

	val, err = s.GetState(ctx, "last_poll")
	require.NoError(t, err)
	assert.Equal(t, "67890", val)
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Enqueue(context.Background(), "acme", "a.pdf", "file-1"))
	stage, _, err := s.GetStage(context.Background(), "acme", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, StageTodo, stage)
}
