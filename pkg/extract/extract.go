// Package extract converts document files into normalized UTF-8 text.
//
// Native extraction is dispatched on the file extension; PDFs additionally
// pass a quality test that can trigger the OCR fallback for scanned
// documents. All output is run through the script-aware normalization
// filter so downstream chunking sees clean text.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxCellsPerSheet caps XLSX extraction to avoid huge outputs.
const maxCellsPerSheet = 1000

// Extractor converts document files into normalized text.
type Extractor struct {
	ocr *OCREngine
}

// NewExtractor creates an extractor. A nil OCR engine disables the
// fallback: low-quality PDF extractions are returned as-is.
func NewExtractor(ocr *OCREngine) *Extractor {
	return &Extractor{ocr: ocr}
}

// Extract converts the file at path into a normalized UTF-8 string.
// The extension decides the extraction strategy; unknown extensions are
// treated as plain text.
func (e *Extractor) Extract(ctx context.Context, path, extension string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))

	switch ext {
	case "pdf":
		return e.extractPDF(ctx, path)
	case "docx":
		return e.extractDocx(path)
	case "xlsx":
		return e.extractXlsx(ctx, path)
	case "json":
		return e.extractJSON(path)
	case "html", "htm":
		return e.extractHTML(path)
	case "doc", "ppt", "pptx":
		// Legacy office formats have no native Go extractor. A
		// descriptive placeholder keeps the document visible in the
		// registry instead of failing the upload.
		return fmt.Sprintf("[Unsupported office format: .%s. Convert to docx or pdf for full text extraction.]", ext), nil
	default:
		return e.extractText(path)
	}
}

func (e *Extractor) extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewExtractionError("text", path, "failed to read file", err)
	}
	return string(data), nil
}

func (e *Extractor) extractJSON(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewExtractionError("json", path, "failed to read file", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", NewExtractionError("json", path, "invalid JSON", err)
	}

	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", NewExtractionError("json", path, "failed to re-serialize", err)
	}
	return string(pretty), nil
}

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlStripPattern  = regexp.MustCompile(`<[^>]+>`)
	htmlEntityReplace = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
)

func (e *Extractor) extractHTML(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewExtractionError("html", path, "failed to read file", err)
	}

	text := htmlTagPattern.ReplaceAllString(string(data), " ")
	text = htmlStripPattern.ReplaceAllString(text, " ")
	text = htmlEntityReplace.Replace(text)
	return CollapseWhitespace(text), nil
}

func (e *Extractor) extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", NewExtractionError("docx", path, "failed to open document", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	// The raw content is document XML; strip tags to plain text.
	content = htmlStripPattern.ReplaceAllString(content, " ")
	content = htmlEntityReplace.Replace(content)
	return CollapseWhitespace(content), nil
}

func (e *Extractor) extractXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", NewExtractionError("xlsx", path, "failed to open workbook", err)
	}
	defer f.Close()

	var parts []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			slog.Warn("Failed to read sheet", "sheet", sheetName, "error", err)
			continue
		}

		var sheet strings.Builder
		sheet.WriteString("--- Sheet: " + sheetName + " ---\n")
		cells := 0
		for _, row := range rows {
			if cells >= maxCellsPerSheet {
				sheet.WriteString("... (truncated)\n")
				break
			}
			var line []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					line = append(line, text)
					cells++
				}
			}
			if len(line) > 0 {
				sheet.WriteString(strings.Join(line, "\t") + "\n")
			}
		}
		if cells > 0 {
			parts = append(parts, strings.TrimSpace(sheet.String()))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}
