package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"golang.org/x/sync/errgroup"
)

const (
	// ocrDPI is the rasterization density for page rendering.
	ocrDPI = 300

	// ocrMinHeight is the minimum image height for OCR; smaller renders
	// are upsampled with Lanczos resampling.
	ocrMinHeight = 2000

	// maxParallelPages caps in-flight OCR page recognitions.
	maxParallelPages = 5

	// ocrLanguages is the union tesseract language pack: English plus
	// the supported Indian-script languages.
	ocrLanguages = "eng+hin+ben+ori+tam+tel+kan+mal"

	// ocrPageSegMode is tesseract's single-uniform-block mode.
	ocrPageSegMode = "6"
)

// PageResult is one OCR-recognized page.
type PageResult struct {
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCREngine renders PDF pages to images and recognizes them with a
// tesseract subprocess. Results are cached in-process keyed by the
// rendered image content hash, so reindexing a scanned document does not
// re-run recognition.
type OCREngine struct {
	binary  string
	enhance bool

	mu    sync.Mutex
	cache map[[sha256.Size]byte]string
}

// NewOCREngine probes for the tesseract binary. The returned engine is
// usable either way; Available reports whether OCR can actually run.
func NewOCREngine(enhance bool) *OCREngine {
	binary, _ := exec.LookPath("tesseract")
	return &OCREngine{
		binary:  binary,
		enhance: enhance,
		cache:   make(map[[sha256.Size]byte]string),
	}
}

// Available reports whether the tesseract binary was found.
func (e *OCREngine) Available() bool {
	return e != nil && e.binary != ""
}

// Version returns the tesseract version line, e.g. "tesseract 5.3.0".
func (e *OCREngine) Version(ctx context.Context) (string, error) {
	if !e.Available() {
		return "", fmt.Errorf("tesseract not found in PATH")
	}
	out, err := exec.CommandContext(ctx, e.binary, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tesseract --version failed: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// ExtractPDF renders every page at 300 DPI and recognizes them, at most
// maxParallelPages in flight, collated in page order.
func (e *OCREngine) ExtractPDF(ctx context.Context, path string) (string, error) {
	results, err := e.ExtractPages(ctx, path)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Text) != "" {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractPages recognizes each page individually, returning per-page text
// and mean word confidence. The page count comes from the PDF structure.
func (e *OCREngine) ExtractPages(ctx context.Context, path string) ([]PageResult, error) {
	if !e.Available() {
		return nil, NewExtractionError("ocr", path, "tesseract not available", nil)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, NewExtractionError("ocr", path, "failed to open PDF for rasterization", err)
	}
	defer doc.Close()

	totalPages := doc.NumPage()
	results := make([]PageResult, totalPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelPages)

	for i := 0; i < totalPages; i++ {
		// Rendering through MuPDF is not goroutine-safe; rasterize in
		// page order here and parallelize only the recognition.
		img, renderErr := doc.ImageDPI(i, ocrDPI)
		if renderErr != nil {
			results[i] = PageResult{Page: i + 1}
			continue
		}

		g.Go(func() error {
			text, conf, err := e.recognizePage(gctx, img)
			if err != nil {
				// Per-page OCR failures are swallowed; the page simply
				// contributes no text.
				results[i] = PageResult{Page: i + 1}
				return nil
			}
			results[i] = PageResult{Page: i + 1, Text: text, Confidence: conf}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, NewExtractionError("ocr", path, "recognition cancelled", err)
	}
	return results, nil
}

// recognizePage enhances, caches, and recognizes a single page image.
func (e *OCREngine) recognizePage(ctx context.Context, img image.Image) (string, float64, error) {
	if e.enhance {
		img = enhanceForOCR(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", 0, fmt.Errorf("failed to encode page image: %w", err)
	}
	key := sha256.Sum256(buf.Bytes())

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return cached, 0, nil
	}

	tmp, err := os.CreateTemp("", "granth-ocr-*.png")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("failed to write temp image: %w", err)
	}
	tmp.Close()

	out, err := exec.CommandContext(ctx, e.binary,
		tmpPath, "stdout", "-l", ocrLanguages, "--psm", ocrPageSegMode, "tsv").Output()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract failed: %w", err)
	}

	text, conf := parseTesseractTSV(string(out))
	text = PostProcessOCRText(text)

	e.mu.Lock()
	e.cache[key] = text
	e.mu.Unlock()

	return text, conf, nil
}

// parseTesseractTSV extracts recognized words and mean confidence from
// tesseract's TSV output. Line breaks follow the TSV line numbering.
func parseTesseractTSV(out string) (string, float64) {
	var words []string
	confSum := 0.0
	confCount := 0
	lastLine := -1

	var text strings.Builder
	flush := func() {
		if len(words) > 0 {
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(strings.Join(words, " "))
			words = words[:0]
		}
	}

	for i, row := range strings.Split(out, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		lineNum, _ := strconv.Atoi(cols[4])
		if lastLine >= 0 && lineNum != lastLine {
			flush()
		}
		lastLine = lineNum

		words = append(words, word)
		confSum += conf
		confCount++
	}
	flush()

	if confCount == 0 {
		return text.String(), 0
	}
	return text.String(), confSum / float64(confCount)
}

// enhanceForOCR sharpens a rendered page for recognition: Lanczos
// upsample to a minimum height, gamma and contrast adjustment, mild
// brightness/saturation correction, and an unsharp pass.
func enhanceForOCR(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dy() < ocrMinHeight {
		img = imaging.Resize(img, 0, ocrMinHeight, imaging.Lanczos)
	}
	img = imaging.AdjustGamma(img, 1.1)
	img = imaging.AdjustBrightness(img, 2)
	img = imaging.AdjustSaturation(img, -10)
	img = imaging.AdjustContrast(img, 10)
	img = imaging.Sharpen(img, 0.8)
	return img
}

var (
	ocrPipeRuns       = regexp.MustCompile(`\|{2,}`)
	ocrUnderscoreRuns = regexp.MustCompile(`_{3,}`)
	ocrEllipsisRuns   = regexp.MustCompile(`\.{4,}`)
	ocrPunctSpacing   = regexp.MustCompile(` +([.,;:!?])`)
)

// PostProcessOCRText cleans common recognition artifacts: pipe and
// underscore runs, over-long ellipses, whitespace runs, and stray spaces
// before punctuation.
func PostProcessOCRText(s string) string {
	s = ocrPipeRuns.ReplaceAllString(s, "")
	s = ocrUnderscoreRuns.ReplaceAllString(s, "")
	s = ocrEllipsisRuns.ReplaceAllString(s, "...")
	s = ocrPunctSpacing.ReplaceAllString(s, "$1")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = CollapseWhitespace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Languages lists the installed tesseract language packs, used to warn
// when the Indic packs are missing.
func (e *OCREngine) Languages(ctx context.Context) ([]string, error) {
	if !e.Available() {
		return nil, fmt.Errorf("tesseract not found in PATH")
	}
	out, err := exec.CommandContext(ctx, e.binary, "--list-langs").Output()
	if err != nil {
		return nil, err
	}
	var langs []string
	for _, line := range strings.Split(string(out), "\n")[1:] {
		if l := strings.TrimSpace(line); l != "" {
			langs = append(langs, filepath.Base(l))
		}
	}
	return langs, nil
}
