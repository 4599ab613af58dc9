package extract

import (
	"os"
	"strings"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// extractPlainText splits a UTF-8 text file into pages on form feed
// characters. A file without form feeds is a single page.
func extractPlainText(path string) ([]PageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("reading text file", err)
	}

	parts := strings.Split(string(data), "\f")
	pages := make([]PageRecord, 0, len(parts))
	for _, part := range parts {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		pages = append(pages, PageRecord{Page: len(pages) + 1, Text: text})
	}
	return pages, nil
}
