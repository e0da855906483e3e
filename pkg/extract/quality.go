package extract

import (
	"regexp"
	"unicode"
)

const (
	// minReadableChars is the minimum non-whitespace character count
	// below which extraction is considered to have failed.
	minReadableChars = 50

	// minRecognizedFraction is the minimum share of codepoints that must
	// fall in a supported script, ASCII punctuation, or digits.
	minRecognizedFraction = 0.5

	// maxArtifactDensity is the tolerated density of OCR-artifact
	// patterns before re-extraction is forced.
	maxArtifactDensity = 0.1
)

var artifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\|{2,}`),
	regexp.MustCompile(`_{3,}`),
	regexp.MustCompile(`\.{4,}`),
	regexp.MustCompile(` {5,}`),
}

// NeedsOCR decides whether native extraction produced text of such low
// quality that the page images should be re-extracted with OCR. Any one
// of the three signals triggers it.
func NeedsOCR(text string) bool {
	readable := 0
	recognized := 0
	junk := 0
	total := 0

	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		readable++

		switch {
		case r < 128 && unicode.IsLetter(r):
			recognized++
		case r < 128 && (unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)):
			recognized++
		case inSupportedScript(r):
			recognized++
		default:
			junk++
		}
	}

	if readable < minReadableChars {
		return true
	}
	if total > 0 && float64(recognized)/float64(total) < minRecognizedFraction {
		return true
	}

	artifacts := junk
	for _, pat := range artifactPatterns {
		for _, m := range pat.FindAllString(text, -1) {
			artifacts += len(m)
		}
	}
	if total > 0 && float64(artifacts)/float64(total) > maxArtifactDensity {
		return true
	}

	return false
}
