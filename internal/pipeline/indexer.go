package pipeline

import (
	"context"
	"log/slog"

	"github.com/tendocs/tendocs/internal/chunk"
	"github.com/tendocs/tendocs/internal/embed"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
	"github.com/tendocs/tendocs/internal/index"
)

// defaultEmbedBatchSize caps how many fragment texts go to the embedding
// service per call.
const defaultEmbedBatchSize = 32

// Indexer embeds fragments and writes them to the tenant's index
// partition.
type Indexer struct {
	index     *index.Manager
	embedder  embed.Embedder
	logger    *slog.Logger
	batchSize int
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithEmbedBatchSize overrides the embedding batch size.
func WithEmbedBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// NewIndexer creates an Indexer.
func NewIndexer(idx *index.Manager, embedder embed.Embedder, logger *slog.Logger, opts ...IndexerOption) *Indexer {
	ix := &Indexer{index: idx, embedder: embedder, logger: logger, batchSize: defaultEmbedBatchSize}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index replaces the document's fragments in the tenant partition. The
// whole file's max_page is stamped onto every fragment. Re-running the
// operation converges on the same stored set; the partition deletes before
// it inserts.
func (ix *Indexer) Index(ctx context.Context, tenantID, filename, fileID string, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return pipeerrors.IndexingFailed("no fragments to index", nil)
	}

	maxPage := 0
	for _, c := range chunks {
		for _, p := range c.Pages {
			if p > maxPage {
				maxPage = p
			}
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ix.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return pipeerrors.IndexingFailed("embedding fragments", err)
		}
		vectors = append(vectors, batch...)
	}

	fragments := make([]*index.Fragment, len(chunks))
	for i, c := range chunks {
		fragments[i] = &index.Fragment{
			TenantID:    tenantID,
			Filename:    filename,
			FileID:      fileID,
			ChunkNumber: c.Number,
			Text:        c.Text,
			Pages:       c.Pages,
			MaxPage:     maxPage,
			Vector:      vectors[i],
		}
	}

	partition, err := ix.index.Partition(tenantID)
	if err != nil {
		return pipeerrors.IndexingFailed("opening tenant partition", err)
	}
	if err := partition.UpsertDocument(ctx, fragments); err != nil {
		return err
	}

	ix.logger.Info("document_indexed",
		slog.String("tenant", tenantID),
		slog.String("filename", filename),
		slog.Int("fragments", len(fragments)),
		slog.Int("max_page", maxPage))
	return nil
}
