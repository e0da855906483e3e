package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// scriptRange is an inclusive Unicode codepoint range for one script.
type scriptRange struct {
	lo, hi rune
}

// indicScripts are the Indian-language script blocks the service supports.
// Codepoints outside these, ASCII, and whitespace are treated as extraction
// noise and dropped.
var indicScripts = map[string]scriptRange{
	"hi": {0x0900, 0x097F}, // Devanagari
	"bn": {0x0980, 0x09FF}, // Bengali
	"or": {0x0B00, 0x0B7F}, // Oriya
	"ta": {0x0B80, 0x0BFF}, // Tamil
	"te": {0x0C00, 0x0C7F}, // Telugu
	"kn": {0x0C80, 0x0CFF}, // Kannada
	"ml": {0x0D00, 0x0D7F}, // Malayalam
}

// inSupportedScript reports whether r belongs to one of the supported
// Indic script blocks.
func inSupportedScript(r rune) bool {
	for _, sr := range indicScripts {
		if r >= sr.lo && r <= sr.hi {
			return true
		}
	}
	return false
}

// asciiPrintable reports whether r is in the ASCII printable range.
func asciiPrintable(r rune) bool {
	return r >= 0x20 && r <= 0x7E
}

// NormalizeText runs the per-page normalization filter: NFC normalize,
// strip NUL and U+FFFD, retain only ASCII-printable, whitespace, and
// supported-script codepoints, then collapse intra-line whitespace runs
// and drop empty lines.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0 || r == unicode.ReplacementChar {
			continue
		}
		if asciiPrintable(r) || unicode.IsSpace(r) || inSupportedScript(r) {
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// CollapseWhitespace reduces all whitespace runs to single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
