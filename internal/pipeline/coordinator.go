// Package pipeline drives documents through extraction, chunking, and
// indexing. A single polling scheduler claims pending documents from the
// metadata store and hands them to a fixed worker pool; every task performs
// exactly one stage transition and reports the outcome back to the store,
// which remains the only source of truth for progress.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/tendocs/tendocs/internal/blob"
	"github.com/tendocs/tendocs/internal/chunk"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
	"github.com/tendocs/tendocs/internal/extract"
	"github.com/tendocs/tendocs/internal/index"
	"github.com/tendocs/tendocs/internal/store"
)

// Config holds coordinator settings.
type Config struct {
	// Workers is the worker pool size and also the poll batch limit.
	Workers int

	// PollInterval is the fixed scheduler interval, used both when idle
	// and after a busy batch.
	PollInterval time.Duration

	// MaxRetries bounds consecutive failures per track before a document
	// is finalized as a terminal failure.
	MaxRetries int

	// TaskTimeout bounds one stage transition, so a hung collaborator
	// cannot pin a worker slot forever.
	TaskTimeout time.Duration

	// LockPath, when set, is a file lock guarding against a second
	// coordinator process claiming the same metadata store.
	LockPath string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 7
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
}

// Coordinator owns the scheduling loop and the worker pool.
type Coordinator struct {
	cfg Config

	meta      store.MetadataStore
	blobs     blob.Store
	extractor *extract.Extractor
	chunker   *chunk.Chunker
	indexer   *Indexer
	index     *index.Manager
	logger    *slog.Logger

	pool     *ants.Pool
	fileLock *flock.Flock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	tasks   sync.WaitGroup
}

// NewCoordinator wires the pipeline together. Start must be called before
// the coordinator processes anything; Enqueue and RequestDeletion work
// either way.
func NewCoordinator(cfg Config, meta store.MetadataStore, blobs blob.Store,
	extractor *extract.Extractor, chunker *chunk.Chunker, indexer *Indexer,
	idx *index.Manager, logger *slog.Logger) (*Coordinator, error) {

	cfg.applyDefaults()

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeInternal, "creating worker pool", err)
	}

	return &Coordinator{
		cfg:       cfg,
		meta:      meta,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		indexer:   indexer,
		index:     idx,
		logger:    logger,
		pool:      pool,
	}, nil
}

// Start acquires the instance lock and launches the polling loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return pipeerrors.New(pipeerrors.ErrCodeInternal, "coordinator already started", nil)
	}

	if c.cfg.LockPath != "" {
		fl := flock.New(c.cfg.LockPath)
		locked, err := fl.TryLock()
		if err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeInternal, "acquiring instance lock", err)
		}
		if !locked {
			return pipeerrors.New(pipeerrors.ErrCodeInternal,
				fmt.Sprintf("another coordinator holds %s", c.cfg.LockPath), nil)
		}
		c.fileLock = fl
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.running = true

	go c.run(runCtx)

	c.logger.Info("coordinator_started",
		slog.Int("workers", c.cfg.Workers),
		slog.Duration("poll_interval", c.cfg.PollInterval))
	return nil
}

// Stop halts polling, waits for in-flight tasks, and releases the pool and
// instance lock.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.doneCh
	c.mu.Unlock()

	cancel()
	<-done
	c.tasks.Wait()
	c.pool.Release()

	if c.fileLock != nil {
		if err := c.fileLock.Unlock(); err != nil {
			c.logger.Warn("instance_lock_release_failed", slog.String("error", err.Error()))
		}
	}
	c.logger.Info("coordinator_stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)

	// First poll fires immediately, then on the fixed interval.
	c.poll(ctx)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll claims one batch of eligible documents and submits each to the
// pool. Claimed rows will not be handed out again until their lease
// expires, so a slow task cannot be double-dispatched.
func (c *Coordinator) poll(ctx context.Context) {
	docs, err := c.meta.ListPending(ctx, c.cfg.Workers)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("poll_failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, doc := range docs {
		doc := doc
		c.tasks.Add(1)
		if err := c.pool.Submit(func() {
			defer c.tasks.Done()
			c.runTask(doc)
		}); err != nil {
			c.tasks.Done()
			c.logger.Error("task_submit_failed",
				slog.String("tenant", doc.TenantID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
		}
	}
}

// runTask executes exactly one transition for one document.
func (c *Coordinator) runTask(doc *store.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		// The task context may already be dead (timeout); the claim must
		// still be released or the row stays locked until lease expiry.
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer releaseCancel()
		if err := c.meta.ReleaseClaim(releaseCtx, doc.TenantID, doc.Filename); err != nil {
			c.logger.Warn("claim_release_failed",
				slog.String("tenant", doc.TenantID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
		}
	}()

	if doc.DeleteRequested {
		c.processDeletion(ctx, doc)
		return
	}
	c.processStage(ctx, doc)
}

func (c *Coordinator) processStage(ctx context.Context, doc *store.Document) {
	switch doc.Stage {
	case store.StageTodo, store.StageExtractError:
		if _, err := c.extractor.Extract(ctx, doc.TenantID, doc.Filename); err != nil {
			c.failStage(ctx, doc, store.StageExtractError, err)
			return
		}
		c.advance(ctx, doc, store.StageExtracted)

	case store.StageExtracted, store.StageChunkError:
		if err := c.runChunk(ctx, doc); err != nil {
			c.failStage(ctx, doc, store.StageChunkError, err)
			return
		}
		c.advance(ctx, doc, store.StageChunked)

	case store.StageChunked, store.StageVectorizeError:
		if err := c.runIndex(ctx, doc); err != nil {
			c.failStage(ctx, doc, store.StageVectorizeError, err)
			return
		}
		c.advance(ctx, doc, store.StageCompleted)
		if err := c.meta.RemoveFromPending(ctx, doc.TenantID, doc.Filename, false); err != nil {
			c.logger.Error("pending_removal_failed",
				slog.String("tenant", doc.TenantID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
		}

	case store.StageCompleted:
		// Shouldn't be pending; clean up quietly.
		_ = c.meta.RemoveFromPending(ctx, doc.TenantID, doc.Filename, false)

	default:
		c.logger.Error("unknown_stage",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("stage", string(doc.Stage)))
	}
}

func (c *Coordinator) runChunk(ctx context.Context, doc *store.Document) error {
	pages, err := c.extractor.LoadPages(ctx, doc.TenantID, doc.Filename)
	if err != nil {
		return err
	}
	chunks, err := c.chunker.Split(ctx, doc.TenantID, doc.Filename, pages)
	if err != nil {
		return err
	}
	data, err := encodeChunks(chunks)
	if err != nil {
		return err
	}
	if err := c.blobs.Put(ctx, doc.TenantID, chunksArtifactName(doc.Filename), bytes.NewReader(data)); err != nil {
		return pipeerrors.ChunkingFailed("storing chunk records", err)
	}
	return nil
}

func (c *Coordinator) runIndex(ctx context.Context, doc *store.Document) error {
	rc, err := c.blobs.Get(ctx, doc.TenantID, chunksArtifactName(doc.Filename))
	if err != nil {
		return pipeerrors.IndexingFailed("fetching chunk records", err)
	}
	data, readErr := io.ReadAll(rc)
	rc.Close()
	if readErr != nil {
		return pipeerrors.IndexingFailed("reading chunk records", readErr)
	}
	chunks, err := decodeChunks(data)
	if err != nil {
		return err
	}
	return c.indexer.Index(ctx, doc.TenantID, doc.Filename, doc.FileID, chunks)
}

// advance records a successful transition. The retry counter resets and
// the last error clears.
func (c *Coordinator) advance(ctx context.Context, doc *store.Document, next store.Stage) {
	if err := c.meta.SetStage(ctx, doc.TenantID, doc.Filename, next, "", 0); err != nil {
		c.logger.Error("stage_update_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("stage", string(next)),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("stage_advanced",
		slog.String("tenant", doc.TenantID),
		slog.String("filename", doc.Filename),
		slog.String("stage", string(next)))
}

// failStage moves the document to the stage's error state. After
// MaxRetries consecutive failures it is evicted from the pending set as a
// terminal failure, unless a deletion request has since taken ownership.
func (c *Coordinator) failStage(ctx context.Context, doc *store.Document, errStage store.Stage, cause error) {
	retries := doc.RetryCount + 1

	c.logger.Warn("stage_failed",
		slog.String("tenant", doc.TenantID),
		slog.String("filename", doc.Filename),
		slog.String("stage", string(errStage)),
		slog.Int("retry_count", retries),
		slog.String("error", cause.Error()))

	if err := c.meta.SetStage(ctx, doc.TenantID, doc.Filename, errStage, cause.Error(), retries); err != nil {
		c.logger.Error("stage_update_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
		return
	}
	if retries < c.cfg.MaxRetries {
		return
	}

	deleteRequested, err := c.meta.IsDeleteRequested(ctx, doc.TenantID, doc.Filename)
	if err != nil {
		c.logger.Error("delete_flag_check_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
		return
	}
	if deleteRequested {
		// Deletion track owns the document now; do not evict it.
		return
	}

	if err := c.meta.RemoveFromPending(ctx, doc.TenantID, doc.Filename, true); err != nil {
		c.logger.Error("pending_removal_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Error("document_failed_terminally",
		slog.String("tenant", doc.TenantID),
		slog.String("filename", doc.Filename),
		slog.String("stage", string(errStage)),
		slog.Int("retry_count", retries))
}

// processDeletion removes the document's fragments and stored blobs. Both
// halves must succeed before the deletion finalizes; a failure of either
// leaves the track in progress for the next poll.
func (c *Coordinator) processDeletion(ctx context.Context, doc *store.Document) {
	if err := c.meta.SetDeleteState(ctx, doc.TenantID, doc.Filename, store.DeleteStatusInProgress, doc.DeleteRetryCount); err != nil {
		c.logger.Error("delete_state_update_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
		return
	}

	err := c.deleteEverywhere(ctx, doc)
	if err == nil {
		if err := c.meta.FinalizeDeletion(ctx, doc.TenantID, doc.FileID, false); err != nil {
			c.logger.Error("deletion_finalize_failed",
				slog.String("tenant", doc.TenantID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
			return
		}
		c.logger.Info("document_deleted",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename))
		return
	}

	retries := doc.DeleteRetryCount + 1
	c.logger.Warn("deletion_failed",
		slog.String("tenant", doc.TenantID),
		slog.String("filename", doc.Filename),
		slog.Int("retry_count", retries),
		slog.String("error", err.Error()))

	if retries >= c.cfg.MaxRetries {
		// Surfaced as a failed deletion, not silently dropped.
		if err := c.meta.FinalizeDeletion(ctx, doc.TenantID, doc.FileID, true); err != nil {
			c.logger.Error("deletion_finalize_failed",
				slog.String("tenant", doc.TenantID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
		}
		return
	}
	if err := c.meta.SetDeleteState(ctx, doc.TenantID, doc.Filename, store.DeleteStatusInProgress, retries); err != nil {
		c.logger.Error("delete_state_update_failed",
			slog.String("tenant", doc.TenantID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
	}
}

func (c *Coordinator) deleteEverywhere(ctx context.Context, doc *store.Document) error {
	partition, err := c.index.Partition(doc.TenantID)
	if err != nil {
		return err
	}
	if err := partition.DeleteDocument(ctx, doc.Filename); err != nil {
		return err
	}

	for _, name := range []string{
		doc.Filename,
		extract.PagesArtifactName(doc.Filename),
		chunksArtifactName(doc.Filename),
	} {
		if err := c.blobs.Delete(ctx, doc.TenantID, name); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue stores an uploaded file and registers it for ingestion. The
// returned file id identifies this upload generation.
func (c *Coordinator) Enqueue(ctx context.Context, tenantID, filename string, r io.Reader) (string, error) {
	if err := c.blobs.Put(ctx, tenantID, filename, r); err != nil {
		return "", err
	}
	fileID := uuid.NewString()
	if err := c.meta.Enqueue(ctx, tenantID, filename, fileID); err != nil {
		return "", err
	}
	c.logger.Info("document_enqueued",
		slog.String("tenant", tenantID),
		slog.String("filename", filename),
		slog.String("file_id", fileID))
	return fileID, nil
}

// RequestDeletion switches a document to the deletion track. The next poll
// picks it up.
func (c *Coordinator) RequestDeletion(ctx context.Context, tenantID, filename string) error {
	if err := c.meta.RequestDeletion(ctx, tenantID, filename); err != nil {
		return err
	}
	c.logger.Info("deletion_requested",
		slog.String("tenant", tenantID),
		slog.String("filename", filename))
	return nil
}

// Status returns the full tracking record for a document.
func (c *Coordinator) Status(ctx context.Context, tenantID, filename string) (*store.Document, error) {
	return c.meta.GetDocument(ctx, tenantID, filename)
}

// chunksArtifactName derives the document-store name of a file's chunk
// records.
func chunksArtifactName(filename string) string {
	return filename + ".chunks.json"
}

func encodeChunks(chunks []chunk.Chunk) ([]byte, error) {
	data, err := json.Marshal(chunks)
	if err != nil {
		return nil, pipeerrors.ChunkingFailed("encoding chunk records", err)
	}
	return data, nil
}

func decodeChunks(data []byte) ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, pipeerrors.IndexingFailed("decoding chunk records", err)
	}
	return chunks, nil
}
