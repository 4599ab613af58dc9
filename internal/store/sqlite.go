package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// ErrNotFound is returned when no document matches (tenant, filename).
var ErrNotFound = errors.New("document not found")

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    tenant_id          TEXT NOT NULL,
    filename           TEXT NOT NULL,
    file_id            TEXT NOT NULL,
    stage              TEXT NOT NULL DEFAULT 'todo',
    retry_count        INTEGER NOT NULL DEFAULT 0,
    last_error         TEXT NOT NULL DEFAULT '',
    delete_requested   INTEGER NOT NULL DEFAULT 0,
    delete_status      TEXT NOT NULL DEFAULT 'none',
    delete_retry_count INTEGER NOT NULL DEFAULT 0,
    pending            INTEGER NOT NULL DEFAULT 1,
    failed             INTEGER NOT NULL DEFAULT 0,
    claimed_until      INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_documents_pending
    ON documents (pending, claimed_until, created_at);

CREATE TABLE IF NOT EXISTS state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLiteStore implements MetadataStore on a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	lease time.Duration

	// now is swapped in tests to control lease expiry.
	now func() time.Time
}

var _ MetadataStore = (*SQLiteStore)(nil)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLease sets the claim lease duration handed out by ListPending.
func WithLease(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.lease = d }
}

// NewSQLiteStore opens (creating if needed) the metadata database at path.
// An empty path opens an in-memory database.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "creating metadata directory", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "opening metadata database", err)
	}

	// modernc SQLite is happiest with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// DSN params may be ignored by modernc.org/sqlite; WAL and busy_timeout
	// must be set via explicit pragmas, or a second process (ingest racing
	// serve) hits SQLITE_BUSY immediately.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "setting pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "applying schema", err)
	}

	s := &SQLiteStore{
		db:    db,
		lease: 5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.SetState(context.Background(), "schema_version", fmt.Sprintf("%d", schemaVersion)); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, tenantID, filename, fileID string) error {
	now := s.now().Unix()
	// Re-upload resets the ingestion track unless a deletion is in flight.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (tenant_id, filename, file_id, stage, created_at, updated_at)
		VALUES (?, ?, ?, 'todo', ?, ?)
		ON CONFLICT (tenant_id, filename) DO UPDATE SET
			file_id = excluded.file_id,
			stage = 'todo',
			retry_count = 0,
			last_error = '',
			pending = 1,
			failed = 0,
			claimed_until = 0,
			updated_at = excluded.updated_at
		WHERE documents.delete_requested = 0`,
		tenantID, filename, fileID, now, now)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "enqueueing document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore,
			fmt.Sprintf("document %s/%s is pending deletion", tenantID, filename), nil)
	}
	return nil
}

// ListPending selects eligible rows and stamps each with a lease in the same
// transaction, so concurrent pollers never hand out the same document twice.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "beginning claim transaction", err)
	}
	defer tx.Rollback()

	now := s.now()
	rows, err := tx.QueryContext(ctx, `
		SELECT tenant_id, filename, file_id, stage, retry_count, last_error,
		       delete_requested, delete_status, delete_retry_count,
		       pending, failed, claimed_until, created_at, updated_at
		FROM documents
		WHERE pending = 1 AND claimed_until < ?
		ORDER BY delete_requested DESC,
		         CASE WHEN stage IN ('extract_error', 'chunk_error', 'vectorize_error') THEN 0 ELSE 1 END,
		         created_at ASC, filename ASC
		LIMIT ?`,
		now.Unix(), limit)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "listing pending documents", err)
	}

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "scanning pending documents", err)
	}
	rows.Close()

	expiry := now.Add(s.lease)
	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET claimed_until = ? WHERE tenant_id = ? AND filename = ?`,
			expiry.Unix(), doc.TenantID, doc.Filename); err != nil {
			return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "claiming document", err)
		}
		doc.ClaimedUntil = expiry
	}

	if err := tx.Commit(); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "committing claims", err)
	}
	return docs, nil
}

func (s *SQLiteStore) GetStage(ctx context.Context, tenantID, filename string) (Stage, int, error) {
	var stage string
	var retries int
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, retry_count FROM documents WHERE tenant_id = ? AND filename = ?`,
		tenantID, filename).Scan(&stage, &retries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "reading stage", err)
	}
	return Stage(stage), retries, nil
}

func (s *SQLiteStore) SetStage(ctx context.Context, tenantID, filename string, stage Stage, errMsg string, retryCount int) error {
	if !stage.Valid() {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, fmt.Sprintf("unknown stage %q", stage), nil)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET stage = ?, last_error = ?, retry_count = ?, updated_at = ?
		WHERE tenant_id = ? AND filename = ?`,
		string(stage), errMsg, retryCount, s.now().Unix(), tenantID, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "updating stage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IsDeleteRequested(ctx context.Context, tenantID, filename string) (bool, error) {
	var requested int
	err := s.db.QueryRowContext(ctx,
		`SELECT delete_requested FROM documents WHERE tenant_id = ? AND filename = ?`,
		tenantID, filename).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "reading delete flag", err)
	}
	return requested != 0, nil
}

func (s *SQLiteStore) RequestDeletion(ctx context.Context, tenantID, filename string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET delete_requested = 1, delete_status = 'todo', delete_retry_count = 0,
		    pending = 1, claimed_until = 0, updated_at = ?
		WHERE tenant_id = ? AND filename = ?`,
		s.now().Unix(), tenantID, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "requesting deletion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetDeleteState(ctx context.Context, tenantID, filename string, status DeleteStatus, retryCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET delete_status = ?, delete_retry_count = ?, updated_at = ?
		WHERE tenant_id = ? AND filename = ?`,
		string(status), retryCount, s.now().Unix(), tenantID, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "updating deletion state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FinalizeDeletion(ctx context.Context, tenantID, fileID string, failed bool) error {
	status := DeleteStatusCompleted
	failedFlag := 0
	if failed {
		status = DeleteStatusFailed
		failedFlag = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET delete_status = ?, pending = 0, failed = ?, claimed_until = 0, updated_at = ?
		WHERE tenant_id = ? AND file_id = ?`,
		string(status), failedFlag, s.now().Unix(), tenantID, fileID)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "finalizing deletion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RemoveFromPending(ctx context.Context, tenantID, filename string, failed bool) error {
	failedFlag := 0
	if failed {
		failedFlag = 1
	}
	// A delete-requested document stays pending: the deletion track owns it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET pending = 0, failed = ?, claimed_until = 0, updated_at = ?
		WHERE tenant_id = ? AND filename = ? AND delete_requested = 0`,
		failedFlag, s.now().Unix(), tenantID, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "removing from pending", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or delete-requested. Distinguish for the caller.
		if _, getErr := s.GetDocument(ctx, tenantID, filename); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, tenantID, filename string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET claimed_until = 0 WHERE tenant_id = ? AND filename = ?`,
		tenantID, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "releasing claim", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, tenantID, filename string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, filename, file_id, stage, retry_count, last_error,
		       delete_requested, delete_status, delete_retry_count,
		       pending, failed, claimed_until, created_at, updated_at
		FROM documents WHERE tenant_id = ? AND filename = ?`,
		tenantID, filename)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "reading state", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "writing state", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc              Document
		stage, delStatus string
		delReq           int
		pending, failed  int
		claimed          int64
		created, updated int64
	)
	err := row.Scan(&doc.TenantID, &doc.Filename, &doc.FileID, &stage, &doc.RetryCount, &doc.LastError,
		&delReq, &delStatus, &doc.DeleteRetryCount,
		&pending, &failed, &claimed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMetadataStore, "scanning document row", err)
	}
	doc.Stage = Stage(stage)
	doc.DeleteStatus = DeleteStatus(delStatus)
	doc.DeleteRequested = delReq != 0
	doc.Pending = pending != 0
	doc.Failed = failed != 0
	if claimed > 0 {
		doc.ClaimedUntil = time.Unix(claimed, 0)
	}
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	return &doc, nil
}
