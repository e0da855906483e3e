package extract

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

const (
	// pdfPageBatchSize is how many pages are collated per extraction batch.
	pdfPageBatchSize = 5

	// pdfPageWorkers is the worker fan-out within one batch.
	pdfPageWorkers = 4
)

// extractPDF extracts the PDF text layer page by page, in parallel
// batches, then runs the quality test and falls back to OCR for scanned
// documents. OCR failures are non-fatal: the native text is kept.
func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	text, err := e.extractPDFNative(ctx, path)
	if err != nil {
		// Unreadable text layer. OCR is the only remaining option.
		if e.ocr == nil || !e.ocr.Available() {
			return "", err
		}
		text = ""
	}

	if e.ocr != nil && e.ocr.Available() && NeedsOCR(text) {
		slog.Info("Native PDF extraction failed quality test, running OCR",
			"path", path, "native_chars", len(text))
		ocrText, ocrErr := e.ocr.ExtractPDF(ctx, path)
		if ocrErr != nil {
			slog.Warn("OCR fallback failed, keeping native text", "path", path, "error", ocrErr)
			return text, nil
		}
		// Longer output wins: a scanned page usually yields nothing
		// natively, so any OCR text is an improvement.
		if len(strings.TrimSpace(ocrText)) > len(strings.TrimSpace(text)) {
			return ocrText, nil
		}
	}

	return text, nil
}

// extractPDFNative reads the text layer with W workers per batch of B
// pages, one batch at a time, collated in page order.
func (e *Extractor) extractPDFNative(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", NewExtractionError("pdf", path, "failed to open file", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", NewExtractionError("pdf", path, "failed to stat file", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", NewExtractionError("pdf", path, "failed to parse PDF", err)
	}

	totalPages := reader.NumPage()
	pages := make([]string, totalPages)

	for batchStart := 0; batchStart < totalPages; batchStart += pdfPageBatchSize {
		batchEnd := batchStart + pdfPageBatchSize
		if batchEnd > totalPages {
			batchEnd = totalPages
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(pdfPageWorkers)

		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				page := reader.Page(i + 1)
				if page.V.IsNull() {
					return nil
				}
				text, err := page.GetPlainText(nil)
				if err != nil {
					slog.Debug("Page text extraction failed", "path", path, "page", i+1, "error", err)
					return nil
				}
				pages[i] = NormalizeText(text)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return "", NewExtractionError("pdf", path, "page extraction cancelled", err)
		}
	}

	nonEmpty := make([]string, 0, len(pages))
	for _, p := range pages {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n"), nil
}
