package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// bleveLexical is the Bleve-backed lexical scorer. Bleve holds an exclusive
// BoltDB lock, so this backend is single-process; the FTS5 backend is the
// default.
type bleveLexical struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ lexicalIndex = (*bleveLexical)(nil)

type bleveFragmentDoc struct {
	Content string `json:"content"`
}

// newBleveLexical opens (or creates) a Bleve index at path. An empty path
// creates an in-memory index.
func newBleveLexical(path string) (*bleveLexical, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening bleve index: %w", err)
	}
	return &bleveLexical{index: idx}, nil
}

func (b *bleveLexical) Index(ctx context.Context, id, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}
	if err := b.index.Index(id, bleveFragmentDoc{Content: text}); err != nil {
		return fmt.Errorf("indexing fragment: %w", err)
	}
	return nil
}

func (b *bleveLexical) Delete(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("deleting fragments: %w", err)
	}
	return nil
}

func (b *bleveLexical) Search(ctx context.Context, query string, limit int) ([]lexResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	matchQuery := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]lexResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, lexResult{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

func (b *bleveLexical) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
