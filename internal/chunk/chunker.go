// Package chunk splits extracted pages into sentence-bounded semantic
// fragments. A fragment grows sentence by sentence until either its word
// budget runs out or the next sentence drifts semantically, measured by
// cosine similarity against the accumulated fragment embedding.
package chunk

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/tendocs/tendocs/internal/embed"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
	"github.com/tendocs/tendocs/internal/extract"
)

// Defaults for the boundary heuristic.
const (
	DefaultMaxTokens           = 300
	DefaultSimilarityThreshold = 0.4
)

// Chunk is one emitted fragment. Pages is the sorted set of distinct page
// numbers its sentences came from.
type Chunk struct {
	Number int
	Text   string
	Pages  []int
}

// Chunker builds fragments from page records.
type Chunker struct {
	embedder  embed.Embedder
	tokenizer *sentences.DefaultSentenceTokenizer
	logger    *slog.Logger

	maxTokens int
	threshold float64
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the per-fragment word budget.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) { c.maxTokens = n }
}

// WithSimilarityThreshold sets the semantic boundary threshold.
func WithSimilarityThreshold(t float64) Option {
	return func(c *Chunker) { c.threshold = t }
}

// New creates a Chunker. The embedder is also used at boundary decisions,
// so a caching wrapper pays off here.
func New(embedder embed.Embedder, logger *slog.Logger, opts ...Option) (*Chunker, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, pipeerrors.ChunkingFailed("loading sentence tokenizer", err)
	}
	c := &Chunker{
		embedder:  embedder,
		tokenizer: tokenizer,
		logger:    logger,
		maxTokens: DefaultMaxTokens,
		threshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// pagedSentence is one sentence with its source page.
type pagedSentence struct {
	text string
	page int
}

// Split flattens the pages into sentences and accumulates them into
// fragments. A new fragment starts when the next sentence would blow the
// word budget, or when its embedding similarity against the accumulated
// fragment falls below the threshold. The similarity check always passes
// for a fragment's first sentence.
func (c *Chunker) Split(ctx context.Context, tenantID, filename string, pages []extract.PageRecord) ([]Chunk, error) {
	var sents []pagedSentence
	for _, page := range pages {
		for _, s := range c.tokenizer.Tokenize(page.Text) {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			sents = append(sents, pagedSentence{text: text, page: page.Page})
		}
	}
	if len(sents) == 0 {
		return nil, pipeerrors.ChunkingFailed("document has no sentences", nil)
	}

	var chunks []Chunk
	var current []pagedSentence
	var currentText string
	currentWords := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Number: len(chunks) + 1,
			Text:   currentText,
			Pages:  distinctPages(current),
		})
		current = nil
		currentText = ""
		currentWords = 0
	}

	for _, sent := range sents {
		words := len(strings.Fields(sent.text))

		if len(current) > 0 {
			if currentWords+words > c.maxTokens {
				emit()
			} else {
				sim, err := c.similarity(ctx, currentText, sent.text)
				if err != nil {
					return nil, err
				}
				if sim < c.threshold {
					emit()
				}
			}
		}

		current = append(current, sent)
		if currentText != "" {
			currentText += " "
		}
		currentText += sent.text
		currentWords += words
	}
	emit()

	c.logger.Debug("document_chunked",
		slog.String("tenant", tenantID),
		slog.String("filename", filename),
		slog.Int("sentences", len(sents)),
		slog.Int("chunks", len(chunks)))
	return chunks, nil
}

// similarity embeds the accumulated fragment and the candidate sentence and
// returns their cosine similarity. The accumulated text is re-embedded on
// every call; the embedder cache keeps repeated sentence lookups cheap.
func (c *Chunker) similarity(ctx context.Context, accumulated, sentence string) (float64, error) {
	vecs, err := c.embedder.EmbedBatch(ctx, []string{accumulated, sentence})
	if err != nil {
		return 0, pipeerrors.ChunkingFailed("embedding boundary candidates", err)
	}
	return embed.Cosine(vecs[0], vecs[1]), nil
}

func distinctPages(sents []pagedSentence) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, s := range sents {
		if !seen[s.page] {
			seen[s.page] = true
			pages = append(pages, s.page)
		}
	}
	sort.Ints(pages)
	return pages
}
