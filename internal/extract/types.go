// Package extract turns raw uploaded documents into ordered page records.
// PDF pages are rebuilt from positioned text runs in reading order; plain
// text files split on form feeds. The resulting page sequence is written
// back to the document store so later stages never reopen the original
// file.
package extract

import (
	"context"
	"encoding/json"
	"io"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// PageRecord is the extracted text of one page.
type PageRecord struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// OCRClient recognizes text in an image. Plugged in for scanned PDFs; when
// nil, embedded images are skipped.
type OCRClient interface {
	RecognizeImage(ctx context.Context, r io.Reader) (string, error)
}

// PagesArtifactName derives the document-store name of a file's extracted
// page sequence.
func PagesArtifactName(filename string) string {
	return filename + ".pages.json"
}

// EncodePages serializes page records for the document store.
func EncodePages(pages []PageRecord) ([]byte, error) {
	data, err := json.Marshal(pages)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("encoding page records", err)
	}
	return data, nil
}

// DecodePages deserializes page records read back from the document store.
func DecodePages(data []byte) ([]PageRecord, error) {
	var pages []PageRecord
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, pipeerrors.ExtractionFailed("decoding page records", err)
	}
	return pages, nil
}
