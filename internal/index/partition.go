package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// Partition is one tenant's slice of the index. Fragment payloads live in a
// SQLite table, vectors in an HNSW graph persisted alongside, and lexical
// scoring in the configured backend.
type Partition struct {
	tenantID string
	dir      string

	mu      sync.Mutex
	db      *sql.DB
	vectors *vectorStore
	lexical lexicalIndex
}

const fragmentSchema = `
CREATE TABLE IF NOT EXISTS fragments (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    filename     TEXT NOT NULL,
    file_id      TEXT NOT NULL,
    chunk_number INTEGER NOT NULL,
    text         TEXT NOT NULL,
    pages        TEXT NOT NULL,
    max_page     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fragments_filename ON fragments (filename);
`

func openPartition(tenantID, dir string, cfg Config) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "creating partition directory", err)
	}

	dsn := filepath.Join(dir, "fragments.db") + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "opening fragment database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// DSN params may be ignored by modernc.org/sqlite; WAL and busy_timeout
	// must be set via explicit pragmas.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "setting pragma", err)
		}
	}

	if _, err := db.Exec(fragmentSchema); err != nil {
		db.Close()
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "applying fragment schema", err)
	}

	var lexical lexicalIndex
	switch cfg.Backend {
	case BackendBleve:
		lexical, err = newBleveLexical(filepath.Join(dir, "lexical.bleve"))
	case BackendSQLite, "":
		lexical, err = newSQLiteLexical(db)
	default:
		err = fmt.Errorf("unknown lexical backend %q", cfg.Backend)
	}
	if err != nil {
		db.Close()
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "opening lexical backend", err)
	}

	vectors := newVectorStore(cfg.Dimensions, cfg.M, cfg.EfSearch)
	if err := vectors.load(filepath.Join(dir, "vectors.hnsw")); err != nil {
		lexical.Close()
		db.Close()
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "loading vector graph", err)
	}

	return &Partition{
		tenantID: tenantID,
		dir:      dir,
		db:       db,
		vectors:  vectors,
		lexical:  lexical,
	}, nil
}

// UpsertDocument replaces all fragments of the document named by the batch.
// Existing fragments for the same filename are removed first, so re-running
// the operation converges on the same index state.
func (p *Partition) UpsertDocument(ctx context.Context, fragments []*Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	filename := fragments[0].Filename
	for _, f := range fragments {
		if f.Filename != filename {
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed,
				"upsert batch spans multiple documents", nil)
		}
		if f.TenantID != p.tenantID {
			return pipeerrors.New(pipeerrors.ErrCodeTenantMismatch,
				fmt.Sprintf("fragment %s belongs to tenant %q, partition is %q",
					f.ID(), f.TenantID, p.tenantID), nil)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.deleteDocumentLocked(ctx, filename); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "beginning upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (id, tenant_id, filename, file_id, chunk_number, text, pages, max_page)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "preparing insert", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		pages, err := json.Marshal(f.Pages)
		if err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "encoding pages", err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID(), f.TenantID, f.Filename, f.FileID,
			f.ChunkNumber, f.Text, string(pages), f.MaxPage); err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "inserting fragment", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "committing fragments", err)
	}

	for _, f := range fragments {
		if err := p.vectors.add(f.ID(), f.Vector); err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "adding vector", err)
		}
		if err := p.lexical.Index(ctx, f.ID(), f.Text); err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "indexing text", err)
		}
	}

	return p.saveVectorsLocked()
}

// DeleteDocument removes every fragment of a document. Deleting a document
// that was never indexed is not an error.
func (p *Partition) DeleteDocument(ctx context.Context, filename string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.deleteDocumentLocked(ctx, filename); err != nil {
		return err
	}
	return p.saveVectorsLocked()
}

func (p *Partition) deleteDocumentLocked(ctx context.Context, filename string) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM fragments WHERE filename = ?`, filename)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "listing fragments", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "scanning fragment id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "iterating fragment ids", err)
	}
	if len(ids) == 0 {
		return nil
	}

	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM fragments WHERE filename = ?`, filename); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "deleting fragments", err)
	}
	p.vectors.remove(ids)
	if err := p.lexical.Delete(ctx, ids); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexingFailed, "deleting lexical entries", err)
	}
	return nil
}

// HybridQuery blends vector and lexical relevance:
//
//	score = alpha*vector + (1-alpha)*lexical
//
// Lexical scores are normalized by the best match so both signals live in
// [0, 1]. A fragment matching only one signal scores zero on the other.
func (p *Partition) HybridQuery(ctx context.Context, queryText string, queryVec []float32, alpha float64, limit int) ([]*Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if alpha < 0 || alpha > 1 {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed,
			fmt.Sprintf("alpha %v out of range [0, 1]", alpha), nil)
	}

	vecMatches, err := p.vectors.search(queryVec, limit)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed, "vector search", err)
	}
	lexMatches, err := p.lexical.Search(ctx, queryText, limit)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed, "lexical search", err)
	}

	var maxLex float64
	for _, m := range lexMatches {
		if m.Score > maxLex {
			maxLex = m.Score
		}
	}

	type blended struct {
		vec, lex float64
	}
	scores := make(map[string]*blended)
	for _, m := range vecMatches {
		scores[m.ID] = &blended{vec: m.Score}
	}
	for _, m := range lexMatches {
		lex := m.Score
		if maxLex > 0 {
			lex /= maxLex
		}
		if b, ok := scores[m.ID]; ok {
			b.lex = lex
		} else {
			scores[m.ID] = &blended{lex: lex}
		}
	}

	hits := make([]*Hit, 0, len(scores))
	for id, b := range scores {
		frag, err := p.getFragment(ctx, id)
		if err != nil {
			return nil, err
		}
		if frag == nil {
			continue
		}
		hits = append(hits, &Hit{
			Fragment:     frag,
			Score:        alpha*b.vec + (1-alpha)*b.lex,
			VectorScore:  b.vec,
			LexicalScore: b.lex,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Fragment.ID() < hits[j].Fragment.ID()
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// FragmentsByPages returns the fragments of a document that touch any of
// the given pages, ordered by lowest page then chunk number.
func (p *Partition) FragmentsByPages(ctx context.Context, filename string, pages []int) ([]*Fragment, error) {
	wanted := make(map[int]bool, len(pages))
	for _, pg := range pages {
		wanted[pg] = true
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, filename, file_id, chunk_number, text, pages, max_page
		FROM fragments WHERE filename = ?`, filename)
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed, "listing document fragments", err)
	}
	defer rows.Close()

	var frags []*Fragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		for _, pg := range frag.Pages {
			if wanted[pg] {
				frags = append(frags, frag)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed, "iterating document fragments", err)
	}

	sort.Slice(frags, func(i, j int) bool {
		mi, mj := minPage(frags[i].Pages), minPage(frags[j].Pages)
		if mi != mj {
			return mi < mj
		}
		return frags[i].ChunkNumber < frags[j].ChunkNumber
	})
	return frags, nil
}

// Count returns the number of indexed fragments.
func (p *Partition) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments`).Scan(&n); err != nil {
		return 0, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "counting fragments", err)
	}
	return n, nil
}

func (p *Partition) getFragment(ctx context.Context, id string) (*Fragment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, filename, file_id, chunk_number, text, pages, max_page
		FROM fragments WHERE id = ?`, id)
	frag, err := scanFragment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return frag, err
}

func (p *Partition) saveVectorsLocked() error {
	if err := p.vectors.save(filepath.Join(p.dir, "vectors.hnsw")); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "persisting vector graph", err)
	}
	return nil
}

// Close persists the vector graph and releases the partition's resources.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	saveErr := p.saveVectorsLocked()
	if err := p.lexical.Close(); err != nil && saveErr == nil {
		saveErr = err
	}
	if err := p.db.Close(); err != nil && saveErr == nil {
		saveErr = err
	}
	return saveErr
}

type fragmentScanner interface {
	Scan(dest ...any) error
}

// scanFragment returns the fragment exactly as stored. TenantID comes from
// the row, never from the partition, so a mis-filed record is visible to
// the retriever's ownership check.
func scanFragment(row fragmentScanner) (*Fragment, error) {
	var frag Fragment
	var id, pagesJSON string
	err := row.Scan(&id, &frag.TenantID, &frag.Filename, &frag.FileID,
		&frag.ChunkNumber, &frag.Text, &pagesJSON, &frag.MaxPage)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRetrievalFailed, "scanning fragment", err)
	}
	if err := json.Unmarshal([]byte(pagesJSON), &frag.Pages); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "decoding fragment pages", err)
	}
	return &frag, nil
}

func minPage(pages []int) int {
	if len(pages) == 0 {
		return 0
	}
	min := pages[0]
	for _, p := range pages[1:] {
		if p < min {
			min = p
		}
	}
	return min
}
