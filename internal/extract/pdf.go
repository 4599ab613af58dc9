package extract

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// textRun is one positioned text element on a page. top grows downward so
// sorting ascends in reading order.
type textRun struct {
	top, left, width float64
	fontSize         float64
	text             string
}

// lineTolerance is the vertical distance (points) within which runs belong
// to the same output line.
const lineTolerance = 2.0

func (e *Extractor) extractPDF(ctx context.Context, path string) ([]PageRecord, error) {
	// pdfcpu validates structure as part of counting pages. Broken files
	// fail here instead of deep inside text extraction.
	if _, err := api.PageCountFile(path); err != nil {
		return nil, pipeerrors.ExtractionFailed("invalid pdf", err)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, pipeerrors.ExtractionFailed("opening pdf", err)
	}
	defer f.Close()

	ocrText := e.recognizeImages(ctx, path)

	var pages []PageRecord
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)

		var runs []textRun
		if !page.V.IsNull() {
			for _, t := range page.Content().Text {
				if t.S == "" {
					continue
				}
				runs = append(runs, textRun{
					// PDF coordinates grow upward, reading order goes down.
					top:      -t.Y,
					left:     t.X,
					width:    t.W,
					fontSize: t.FontSize,
					text:     t.S,
				})
			}
		}

		text := mergeRuns(runs)
		if extra := ocrText[i]; len(extra) > 0 {
			if text != "" {
				text += "\n"
			}
			text += strings.Join(extra, "\n")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, PageRecord{Page: i, Text: text})
	}
	return pages, nil
}

// mergeRuns assembles positioned runs into page text. Runs are grouped into
// lines by vertical position, ordered left to right, and horizontal gaps
// widen into space padding so tabular content keeps its column alignment in
// the fixed-width output.
func mergeRuns(runs []textRun) string {
	if len(runs) == 0 {
		return ""
	}

	sort.Slice(runs, func(i, j int) bool {
		if math.Abs(runs[i].top-runs[j].top) > lineTolerance {
			return runs[i].top < runs[j].top
		}
		return runs[i].left < runs[j].left
	})

	var lines []string
	var sb strings.Builder
	lineTop := runs[0].top
	var cursor float64 // right edge of the previous run on this line

	flush := func() {
		if sb.Len() > 0 {
			lines = append(lines, strings.TrimRight(sb.String(), " "))
			sb.Reset()
		}
	}

	for i, r := range runs {
		if i > 0 && math.Abs(r.top-lineTop) > lineTolerance {
			flush()
			lineTop = r.top
			cursor = 0
		}

		charW := r.width
		if charW <= 0 {
			charW = r.fontSize * 0.5
		}
		if charW <= 0 {
			charW = 5.0
		}

		if sb.Len() > 0 {
			gap := r.left - cursor
			switch {
			case gap > 2*charW:
				// Column boundary, pad proportionally.
				n := int(gap / charW)
				if n > 40 {
					n = 40
				}
				sb.WriteString(strings.Repeat(" ", n))
			case gap > 0.25*charW:
				sb.WriteString(" ")
			}
		}
		sb.WriteString(r.text)
		right := r.left + r.width
		if right > cursor {
			cursor = right
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

// imagePagePattern matches the page number pdfcpu embeds in extracted image
// filenames (<base>_<page>_<resource>.<ext>).
var imagePagePattern = regexp.MustCompile(`_(\d+)_[^_]*\.\w+$`)

// recognizeImages runs OCR over every embedded image and returns recognized
// text grouped by page. OCR problems are logged and skipped; image text is
// best effort.
func (e *Extractor) recognizeImages(ctx context.Context, path string) map[int][]string {
	if e.ocr == nil {
		return nil
	}

	imgDir, err := os.MkdirTemp("", "tendocs-images-*")
	if err != nil {
		e.logger.Warn("ocr_scratch_dir_failed", slog.String("error", err.Error()))
		return nil
	}
	defer os.RemoveAll(imgDir)

	if err := api.ExtractImagesFile(path, imgDir, nil, nil); err != nil {
		e.logger.Warn("pdf_image_extraction_failed", slog.String("error", err.Error()))
		return nil
	}

	entries, err := os.ReadDir(imgDir)
	if err != nil {
		return nil
	}

	result := make(map[int][]string)
	for _, entry := range entries {
		m := imagePagePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		pageNum, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		img, err := os.Open(filepath.Join(imgDir, entry.Name()))
		if err != nil {
			continue
		}
		text, ocrErr := e.ocr.RecognizeImage(ctx, img)
		img.Close()
		if ocrErr != nil {
			e.logger.Warn("ocr_failed",
				slog.String("image", entry.Name()),
				slog.String("error", ocrErr.Error()))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			result[pageNum] = append(result[pageNum], text)
		}
	}
	return result
}
