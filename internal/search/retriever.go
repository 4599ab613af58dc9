// Package search answers tenant queries against the fragment index. It
// runs a hybrid query, re-ranks the over-fetched candidates by embedding
// similarity, and widens each winner to its neighboring pages before
// returning combined context.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tendocs/tendocs/internal/embed"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
	"github.com/tendocs/tendocs/internal/index"
)

// DefaultAlpha is the hybrid blend weight when the caller does not choose
// one. 0.6 leans slightly toward vector similarity.
const DefaultAlpha = 0.6

// rerankConcurrency bounds parallel candidate re-embedding.
const rerankConcurrency = 4

// RankedResult is one retrieval answer with its expanded page context.
type RankedResult struct {
	Rank     int     `json:"rank"`
	Score    float64 `json:"relevance_score"`
	Filename string  `json:"filename"`
	Pages    []int   `json:"page_numbers"`
	Text     string  `json:"text"`
}

// Retriever serves queries from the index.
type Retriever struct {
	index    *index.Manager
	embedder embed.Embedder
	logger   *slog.Logger
}

// New creates a Retriever.
func New(idx *index.Manager, embedder embed.Embedder, logger *slog.Logger) *Retriever {
	return &Retriever{index: idx, embedder: embedder, logger: logger}
}

// Retrieve answers a query for one tenant. It returns an empty slice, not
// an error, when nothing matches; backend failures surface as errors.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, topK int, alpha float64) ([]RankedResult, error) {
	if topK <= 0 {
		return nil, pipeerrors.RetrievalFailed("top_k must be positive", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, pipeerrors.RetrievalFailed("query is empty", nil)
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, pipeerrors.RetrievalFailed("embedding query", err)
	}

	partition, err := r.index.Partition(tenantID)
	if err != nil {
		return nil, pipeerrors.RetrievalFailed("opening tenant partition", err)
	}

	// Over-fetch so re-ranking has room to reorder.
	fetch := 2 * topK
	if fetch < 10 {
		fetch = 10
	}
	hits, err := partition.HybridQuery(ctx, query, queryVec, alpha, fetch)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []RankedResult{}, nil
	}

	// A fragment stored under the wrong tenant means the storage layer
	// leaked. Refuse the whole result rather than filter silently.
	for _, h := range hits {
		if h.Fragment.TenantID != tenantID {
			return nil, pipeerrors.New(pipeerrors.ErrCodeTenantMismatch,
				fmt.Sprintf("fragment %s belongs to another tenant", h.Fragment.ID()), nil)
		}
	}

	rescored, err := r.rerank(ctx, queryVec, hits)
	if err != nil {
		return nil, err
	}
	if len(rescored) > topK {
		rescored = rescored[:topK]
	}

	results := make([]RankedResult, 0, len(rescored))
	for i, cand := range rescored {
		expanded := ExpandPages(cand.hit.Fragment.Pages, cand.hit.Fragment.MaxPage)
		text, err := r.combineContext(ctx, partition, cand.hit.Fragment.Filename, expanded)
		if err != nil {
			return nil, err
		}
		results = append(results, RankedResult{
			Rank:     i + 1,
			Score:    cand.score,
			Filename: cand.hit.Fragment.Filename,
			Pages:    expanded,
			Text:     text,
		})
	}

	r.logger.Debug("query_answered",
		slog.String("tenant", tenantID),
		slog.Int("candidates", len(hits)),
		slog.Int("results", len(results)))
	return results, nil
}

type scoredHit struct {
	hit   *index.Hit
	score float64
}

// rerank recomputes each candidate's text embedding and orders candidates
// by cosine similarity against the query. Stored vectors are deliberately
// not reused; the stored embedding may come from an older model.
func (r *Retriever) rerank(ctx context.Context, queryVec []float32, hits []*index.Hit) ([]scoredHit, error) {
	scored := make([]scoredHit, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rerankConcurrency)
	for i, h := range hits {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, h.Fragment.Text)
			if err != nil {
				return pipeerrors.RetrievalFailed("embedding candidate", err)
			}
			scored[i] = scoredHit{hit: h, score: embed.Cosine(queryVec, vec)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	return scored, nil
}

// combineContext fetches every fragment of the file touching the expanded
// pages and concatenates their text in (page, chunk) order.
func (r *Retriever) combineContext(ctx context.Context, p *index.Partition, filename string, pages []int) (string, error) {
	frags, err := p.FragmentsByPages(ctx, filename, pages)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, "\n"), nil
}

// ExpandPages widens a fragment's pages to a reading neighborhood:
// single-page files stay {1}; fragments touching the first page get the
// first three pages; fragments touching the last page get the last three;
// anything else gets each page with its immediate neighbors. All results
// are clamped to [1, maxPage].
func ExpandPages(pages []int, maxPage int) []int {
	if maxPage < 1 || len(pages) == 0 {
		return nil
	}
	if maxPage == 1 {
		return []int{1}
	}

	touchesFirst, touchesLast := false, false
	for _, p := range pages {
		if p == 1 {
			touchesFirst = true
		}
		if p == maxPage {
			touchesLast = true
		}
	}

	set := make(map[int]bool)
	switch {
	case touchesFirst:
		for p := 1; p <= 3 && p <= maxPage; p++ {
			set[p] = true
		}
	case touchesLast:
		for p := maxPage - 2; p <= maxPage; p++ {
			if p >= 1 {
				set[p] = true
			}
		}
	default:
		for _, p := range pages {
			for q := p - 1; q <= p+1; q++ {
				if q >= 1 && q <= maxPage {
					set[q] = true
				}
			}
		}
	}

	expanded := make([]int, 0, len(set))
	for p := range set {
		expanded = append(expanded, p)
	}
	sort.Ints(expanded)
	return expanded
}
