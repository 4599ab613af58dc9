// Package index is the hybrid fragment index. Each tenant gets its own
// partition on disk, combining an HNSW vector graph with a lexical backend
// (SQLite FTS5 by default, Bleve optionally). Queries blend both scores.
package index

import (
	"context"
	"fmt"
)

// Fragment is one indexed chunk of a document.
type Fragment struct {
	TenantID    string
	Filename    string
	FileID      string
	ChunkNumber int

	Text  string
	Pages []int

	// MaxPage is the page count of the whole document, stamped on every
	// fragment so retrieval can expand page neighborhoods without a
	// metadata lookup.
	MaxPage int

	Vector []float32
}

// ID returns the fragment's index key. The tenant is implied by the
// partition, so filename plus chunk number is unique.
func (f *Fragment) ID() string {
	return fmt.Sprintf("%s#%d", f.Filename, f.ChunkNumber)
}

// Hit is one hybrid query result.
type Hit struct {
	Fragment *Fragment

	// Score is the blended hybrid score in [0, 1].
	Score float64

	// VectorScore and LexicalScore are the per-signal components, kept for
	// logging and re-ranking.
	VectorScore  float64
	LexicalScore float64
}

// lexResult is a lexical backend match.
type lexResult struct {
	ID    string
	Score float64
}

// lexicalIndex scores fragments by text relevance. Implementations hold
// only IDs and tokenized text; fragment payloads live in the partition's
// fragment table.
type lexicalIndex interface {
	Index(ctx context.Context, id, text string) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int) ([]lexResult, error)
	Close() error
}

// Backend selects the lexical index implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBleve  Backend = "bleve"
)

// Config holds partition settings shared by all tenants.
type Config struct {
	// Dir is the root index directory. Each tenant gets a subdirectory.
	Dir string

	// Dimensions is the embedding width. All vectors must match.
	Dimensions int

	// Backend is the lexical backend ("sqlite" or "bleve").
	Backend Backend

	// HNSW graph parameters. Zero values use the built-in defaults
	// (M=16, EfSearch=20).
	M        int
	EfSearch int
}
