package search

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tendocs/tendocs/internal/embed"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
	"github.com/tendocs/tendocs/internal/index"
)

func TestExpandPages(t *testing.T) {
	cases := []struct {
		name    string
		pages   []int
		maxPage int
		want    []int
	}{
		{"single page file", []int{1}, 1, []int{1}},
		{"touches first page", []int{1}, 5, []int{1, 2, 3}},
		{"touches first page multi", []int{1, 2}, 5, []int{1, 2, 3}},
		{"touches last page", []int{5}, 5, []int{3, 4, 5}},
		{"interior page", []int{3}, 5, []int{2, 3, 4}},
		{"interior page span", []int{2, 3}, 6, []int{1, 2, 3, 4}},
		{"first page short file", []int{1}, 2, []int{1, 2}},
		{"last page short file", []int{2}, 2, []int{1, 2}},
		{"no pages", nil, 5, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExpandPages(tc.pages, tc.maxPage))
		})
	}
}

func newTestRetriever(t *testing.T) (*Retriever, *index.Manager, embed.Embedder) {
	t.Helper()
	m, err := index.NewManager(index.Config{
		Dir:        t.TempDir(),
		Dimensions: embed.StaticDimensions,
		Backend:    index.BackendSQLite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	embedder := embed.NewStaticEmbedder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(m, embedder, logger), m, embedder
}

func indexFragments(t *testing.T, m *index.Manager, embedder embed.Embedder, tenant string, frags []*index.Fragment) {
	t.Helper()
	ctx := context.Background()
	for _, f := range frags {
		vec, err := embedder.Embed(ctx, f.Text)
		require.NoError(t, err)
		f.Vector = vec
	}
	p, err := m.Partition(tenant)
	require.NoError(t, err)
	require.NoError(t, p.UpsertDocument(ctx, frags))
}

func TestRetrieveEndToEnd(t *testing.T) {
	r, m, embedder := newTestRetriever(t)
	ctx := context.Background()

	indexFragments(t, m, embedder, "acme", []*index.Fragment{
		{TenantID: "acme", Filename: "handbook.txt", FileID: "f1", ChunkNumber: 1,
			Text: "The vacation policy grants twenty days of paid leave.", Pages: []int{1}, MaxPage: 2},
		{TenantID: "acme", Filename: "handbook.txt", FileID: "f1", ChunkNumber: 2,
			Text: "Expense reports are due at the end of each month.", Pages: []int{2}, MaxPage: 2},
	})

	results, err := r.Retrieve(ctx, "acme", "how many vacation days of paid leave", 1, DefaultAlpha)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, 1, res.Rank)
	assert.Equal(t, "handbook.txt", res.Filename)
	assert.Contains(t, res.Text, "twenty days of paid leave")
	assert.Subset(t, []int{1, 2}, res.Pages)
	assert.Greater(t, res.Score, 0.0)
}

func TestRetrieveExpandsInteriorPages(t *testing.T) {
	r, m, embedder := newTestRetriever(t)
	ctx := context.Background()

	frags := []*index.Fragment{
		{TenantID: "acme", Filename: "long.txt", FileID: "f1", ChunkNumber: 1,
			Text: "Introduction to the facilities manual.", Pages: []int{1}, MaxPage: 5},
		{TenantID: "acme", Filename: "long.txt", FileID: "f1", ChunkNumber: 2,
			Text: "Fire drills are rehearsed quarterly in the lobby.", Pages: []int{2}, MaxPage: 5},
		{TenantID: "acme", Filename: "long.txt", FileID: "f1", ChunkNumber: 3,
			Text: "Server room access requires a hardware token badge.", Pages: []int{3}, MaxPage: 5},
		{TenantID: "acme", Filename: "long.txt", FileID: "f1", ChunkNumber: 4,
			Text: "Bicycle storage sits behind the west entrance.", Pages: []int{4}, MaxPage: 5},
		{TenantID: "acme", Filename: "long.txt", FileID: "f1", ChunkNumber: 5,
			Text: "Closing summary of the facilities manual.", Pages: []int{5}, MaxPage: 5},
	}
	indexFragments(t, m, embedder, "acme", frags)

	results, err := r.Retrieve(ctx, "acme", "server room access hardware token badge", 1, DefaultAlpha)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Hit on page 3 of a 5 page file expands to {2, 3, 4}.
	assert.Equal(t, []int{2, 3, 4}, results[0].Pages)
	assert.Contains(t, results[0].Text, "Fire drills")
	assert.Contains(t, results[0].Text, "hardware token")
	assert.Contains(t, results[0].Text, "Bicycle storage")
	assert.NotContains(t, results[0].Text, "Introduction")
	assert.NotContains(t, results[0].Text, "Closing summary")
}

func TestRetrieveContextOrdering(t *testing.T) {
	r, m, embedder := newTestRetriever(t)
	ctx := context.Background()

	indexFragments(t, m, embedder, "acme", []*index.Fragment{
		{TenantID: "acme", Filename: "doc.txt", FileID: "f1", ChunkNumber: 2,
			Text: "BETA middle section about badge readers.", Pages: []int{2}, MaxPage: 3},
		{TenantID: "acme", Filename: "doc.txt", FileID: "f1", ChunkNumber: 1,
			Text: "ALPHA opening section about badge readers.", Pages: []int{1}, MaxPage: 3},
		{TenantID: "acme", Filename: "doc.txt", FileID: "f1", ChunkNumber: 3,
			Text: "GAMMA closing section about badge readers.", Pages: []int{3}, MaxPage: 3},
	})

	results, err := r.Retrieve(ctx, "acme", "badge readers middle section", 1, DefaultAlpha)
	require.NoError(t, err)
	require.Len(t, results, 1)

	text := results[0].Text
	iAlpha := strings.Index(text, "ALPHA")
	iBeta := strings.Index(text, "BETA")
	iGamma := strings.Index(text, "GAMMA")
	require.GreaterOrEqual(t, iAlpha, 0)
	require.GreaterOrEqual(t, iBeta, 0)
	require.GreaterOrEqual(t, iGamma, 0)
	assert.Less(t, iAlpha, iBeta)
	assert.Less(t, iBeta, iGamma)
}

func TestRetrieveEmptyPartition(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	results, err := r.Retrieve(context.Background(), "acme", "anything at all", 3, DefaultAlpha)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveTenantIsolation(t *testing.T) {
	r, m, embedder := newTestRetriever(t)
	ctx := context.Background()

	indexFragments(t, m, embedder, "acme", []*index.Fragment{
		{TenantID: "acme", Filename: "secret.txt", FileID: "f1", ChunkNumber: 1,
			Text: "The launch codes are stored in the vault.", Pages: []int{1}, MaxPage: 1},
	})

	results, err := r.Retrieve(ctx, "globex", "launch codes vault", 3, DefaultAlpha)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveRejectsMisfiledFragment(t *testing.T) {
	dir := t.TempDir()
	m, err := index.NewManager(index.Config{
		Dir:        dir,
		Dimensions: embed.StaticDimensions,
		Backend:    index.BackendSQLite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	embedder := embed.NewStaticEmbedder()
	r := New(m, embedder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	indexFragments(t, m, embedder, "acme", []*index.Fragment{
		{TenantID: "acme", Filename: "report.txt", FileID: "f1", ChunkNumber: 1,
			Text: "Annual maintenance schedule for the turbine hall.", Pages: []int{1}, MaxPage: 1},
	})

	// Rewrite the stored ownership behind the partition's back.
	db, err := sql.Open("sqlite", filepath.Join(dir, "acme", "fragments.db"))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE fragments SET tenant_id = 'mallory'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = r.Retrieve(ctx, "acme", "turbine hall maintenance schedule", 3, DefaultAlpha)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeTenantMismatch, pipeerrors.GetCode(err))
}

func TestRetrieveInvalidArguments(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	ctx := context.Background()

	_, err := r.Retrieve(ctx, "acme", "query", 0, DefaultAlpha)
	assert.Error(t, err)

	_, err = r.Retrieve(ctx, "acme", "   ", 3, DefaultAlpha)
	assert.Error(t, err)
}
