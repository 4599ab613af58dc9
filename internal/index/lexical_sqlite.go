package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// sqliteLexical scores fragments with SQLite FTS5 bm25(). It shares the
// partition's database handle; the virtual table rides in the same file as
// the fragment payloads.
type sqliteLexical struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ lexicalIndex = (*sqliteLexical)(nil)

const lexicalSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS fts_fragments USING fts5(
    fragment_id UNINDEXED,
    content,
    tokenize='unicode61'
);
`

// newSQLiteLexical sets up the FTS5 table on an already-open database.
func newSQLiteLexical(db *sql.DB) (*sqliteLexical, error) {
	if _, err := db.Exec(lexicalSchema); err != nil {
		return nil, fmt.Errorf("creating fts table: %w", err)
	}
	return &sqliteLexical{db: db}, nil
}

func (s *sqliteLexical) Index(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	// FTS5 has no REPLACE, delete first.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fts_fragments WHERE fragment_id = ?`, id); err != nil {
		return fmt.Errorf("clearing fts entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO fts_fragments (fragment_id, content) VALUES (?, ?)`, id, text); err != nil {
		return fmt.Errorf("inserting fts entry: %w", err)
	}
	return nil
}

func (s *sqliteLexical) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM fts_fragments WHERE fragment_id = ?`, id); err != nil {
			return fmt.Errorf("deleting fts entry: %w", err)
		}
	}
	return nil
}

func (s *sqliteLexical) Search(ctx context.Context, query string, limit int) ([]lexResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	// Escape each term as a quoted string so user punctuation cannot break
	// the MATCH syntax. Terms are ANDed, FTS5's default.
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	match := strings.Join(quoted, " OR ")

	// bm25() returns negative values, lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT fragment_id, bm25(fts_fragments) AS score
		FROM fts_fragments
		WHERE fts_fragments MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []lexResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scanning fts result: %w", err)
		}
		results = append(results, lexResult{ID: id, Score: -score})
	}
	return results, rows.Err()
}

// Close marks the index closed. The shared database handle is owned by the
// partition and closed there.
func (s *sqliteLexical) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
