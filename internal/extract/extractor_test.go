package extract

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendocs/tendocs/internal/blob"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

func newTestExtractor(t *testing.T) (*Extractor, blob.Store) {
	t.Helper()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(blobs, logger), blobs
}

func putBlob(t *testing.T, blobs blob.Store, tenant, name, content string) {
	t.Helper()
	require.NoError(t, blobs.Put(context.Background(), tenant, name, strings.NewReader(content)))
}

func TestExtractPlainTextSinglePage(t *testing.T) {
	e, blobs := newTestExtractor(t)
	ctx := context.Background()

	putBlob(t, blobs, "acme", "notes.txt", "All hands meeting is on Tuesday.\nBring your laptops.")

	pages, err := e.Extract(ctx, "acme", "notes.txt")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Page)
	assert.Contains(t, pages[0].Text, "All hands meeting")
}

func TestExtractPlainTextFormFeedPages(t *testing.T) {
	e, blobs := newTestExtractor(t)
	ctx := context.Background()

	putBlob(t, blobs, "acme", "report.txt",
		"Page one discusses quarterly results.\fPage two covers the road ahead.")

	pages, err := e.Extract(ctx, "acme", "report.txt")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, 2, pages[1].Page)
	assert.Contains(t, pages[0].Text, "quarterly results")
	assert.Contains(t, pages[1].Text, "road ahead")
}

func TestExtractWritesPagesArtifact(t *testing.T) {
	e, blobs := newTestExtractor(t)
	ctx := context.Background()

	putBlob(t, blobs, "acme", "doc.txt", "first page\fsecond page")

	extracted, err := e.Extract(ctx, "acme", "doc.txt")
	require.NoError(t, err)

	// Later stages read the artifact instead of the original file.
	loaded, err := e.LoadPages(ctx, "acme", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, extracted, loaded)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e, blobs := newTestExtractor(t)
	ctx := context.Background()

	// PNG magic bytes, clearly not text or PDF.
	putBlob(t, blobs, "acme", "logo.bin", "\x89PNG\r\n\x1a\n00000000")

	_, err := e.Extract(ctx, "acme", "logo.bin")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeUnsupportedFormat, pipeerrors.GetCode(err))
}

func TestExtractMissingDocument(t *testing.T) {
	e, _ := newTestExtractor(t)

	_, err := e.Extract(context.Background(), "acme", "missing.txt")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeExtractionFailed, pipeerrors.GetCode(err))
}

func TestExtractCorruptPDF(t *testing.T) {
	e, blobs := newTestExtractor(t)
	ctx := context.Background()

	// Valid PDF magic with garbage body.
	putBlob(t, blobs, "acme", "broken.pdf", "%PDF-1.7\nthis is not a real pdf body")

	_, err := e.Extract(ctx, "acme", "broken.pdf")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeExtractionFailed, pipeerrors.GetCode(err))
}

func TestMergeRunsReadingOrder(t *testing.T) {
	runs := []textRun{
		{top: 20, left: 10, width: 30, text: "second line"},
		{top: 10, left: 60, width: 20, text: "right"},
		{top: 10, left: 10, width: 20, text: "left"},
	}

	text := mergeRuns(runs)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "left")
	assert.Contains(t, lines[0], "right")
	assert.Less(t, strings.Index(lines[0], "left"), strings.Index(lines[0], "right"))
	assert.Equal(t, "second line", lines[1])
}

func TestMergeRunsColumnAlignment(t *testing.T) {
	// Two rows of a two-column table. The wide gap between columns must
	// survive as padding, keeping the columns visually aligned.
	runs := []textRun{
		{top: 10, left: 10, width: 30, text: "name"},
		{top: 10, left: 200, width: 30, text: "total"},
		{top: 25, left: 10, width: 30, text: "widgets"},
		{top: 25, left: 200, width: 30, text: "42"},
	}

	text := mergeRuns(runs)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `name\s{2,}total`, lines[0])
	assert.Regexp(t, `widgets\s{2,}42`, lines[1])
}

func TestMergeRunsEmpty(t *testing.T) {
	assert.Empty(t, mergeRuns(nil))
}

func TestPagesArtifactRoundTrip(t *testing.T) {
	pages := []PageRecord{
		{Page: 1, Text: "first"},
		{Page: 2, Text: "second"},
	}

	data, err := EncodePages(pages)
	require.NoError(t, err)

	decoded, err := DecodePages(data)
	require.NoError(t, err)
	assert.Equal(t, pages, decoded)

	assert.Equal(t, "report.pdf.pages.json", PagesArtifactName("report.pdf"))
}
