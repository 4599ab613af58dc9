package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendocs/tendocs/internal/blob"
	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// readBlockSize is the chunk size for spooling blobs from the document
// store.
const readBlockSize = 32 * 1024

// Extractor pulls documents from the document store and produces page
// records.
type Extractor struct {
	blobs  blob.Store
	ocr    OCRClient
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR enables image recognition for embedded PDF images.
func WithOCR(client OCRClient) Option {
	return func(e *Extractor) { e.ocr = client }
}

// New creates an Extractor reading from the given document store.
func New(blobs blob.Store, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{blobs: blobs, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches the document, sniffs its content type, and produces the
// ordered page sequence. The sequence is also written back to the document
// store under a derived name so the chunker reads pages, not the original
// file.
func (e *Extractor) Extract(ctx context.Context, tenantID, filename string) ([]PageRecord, error) {
	rc, err := e.blobs.Get(ctx, tenantID, filename)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed(
			fmt.Sprintf("fetching %s/%s", tenantID, filename), err)
	}
	defer rc.Close()

	// Spool to a temp file in fixed-size blocks. The PDF reader needs a
	// seekable file, and large uploads should not be buffered in memory.
	tmpDir, err := os.MkdirTemp("", "tendocs-extract-*")
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("creating scratch directory", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "document")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("creating scratch file", err)
	}
	buf := make([]byte, readBlockSize)
	_, copyErr := io.CopyBuffer(tmp, rc, buf)
	closeErr := tmp.Close()
	if copyErr != nil {
		return nil, pipeerrors.ExtractionFailed("spooling document", copyErr)
	}
	if closeErr != nil {
		return nil, pipeerrors.ExtractionFailed("closing scratch file", closeErr)
	}

	mime, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("sniffing content type", err)
	}

	var pages []PageRecord
	switch {
	case mime.Is("application/pdf"):
		pages, err = e.extractPDF(ctx, tmpPath)
	case mime.Is("text/plain"):
		pages, err = extractPlainText(tmpPath)
	default:
		return nil, pipeerrors.UnsupportedFormat(
			fmt.Sprintf("unsupported content type %s for %s/%s", mime.String(), tenantID, filename))
	}
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, pipeerrors.ExtractionFailed(
			fmt.Sprintf("no pages extracted from %s/%s", tenantID, filename), nil)
	}

	data, err := EncodePages(pages)
	if err != nil {
		return nil, err
	}
	artifact := PagesArtifactName(filename)
	if err := e.blobs.Put(ctx, tenantID, artifact, bytes.NewReader(data)); err != nil {
		return nil, pipeerrors.ExtractionFailed("storing page records", err)
	}

	e.logger.Info("document_extracted",
		slog.String("tenant", tenantID),
		slog.String("filename", filename),
		slog.String("content_type", mime.String()),
		slog.Int("pages", len(pages)))
	return pages, nil
}

// LoadPages reads a previously extracted page sequence back from the
// document store.
func (e *Extractor) LoadPages(ctx context.Context, tenantID, filename string) ([]PageRecord, error) {
	rc, err := e.blobs.Get(ctx, tenantID, PagesArtifactName(filename))
	if err != nil {
		return nil, pipeerrors.ExtractionFailed(
			fmt.Sprintf("fetching page records for %s/%s", tenantID, filename), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("reading page records", err)
	}
	return DecodePages(data)
}
