// Package chunk splits extracted document text into overlapping windowed
// chunks at natural boundaries.
//
// Chunking quality drives retrieval quality: too small loses context,
// too large dilutes relevance. The splitter prefers sentence terminators,
// then paragraph breaks, then word boundaries, and only falls back to a
// hard cut when the window contains none of those.
package chunk

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/granthlabs/granth/pkg/extract"
)

const (
	// DefaultSize is the default chunk window in characters.
	DefaultSize = 800

	// DefaultOverlap is the default overlap between windows.
	DefaultOverlap = 100
)

// Chunk is one contiguous piece of a document's extracted text. Offsets
// are half-open rune positions into the input string.
type Chunk struct {
	Content    string
	StartChar  int
	EndChar    int
	Index      int
	Language   string
	TokenCount int
}

// tokenEncoder counts tokens per chunk for usage estimation. The encoding
// is loaded once and lazily; if it cannot be loaded (tiktoken fetches and
// caches the BPE ranks on first use), token counts stay at zero.
var (
	tokenEncoder     *tiktoken.Tiktoken
	tokenEncoderOnce sync.Once
)

func countTokens(s string) int {
	tokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("Token encoding unavailable, skipping token counts", "error", err)
			return
		}
		tokenEncoder = enc
	})
	if tokenEncoder == nil {
		return 0
	}
	return len(tokenEncoder.Encode(s, nil, nil))
}

// Split divides text into overlapping chunks of at most size runes with
// the given overlap, breaking at natural boundaries. overlap must be
// smaller than size. Empty input yields exactly one empty chunk.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, fmt.Errorf("overlap (%d) must be less than size (%d)", overlap, size)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{{Content: "", StartChar: 0, EndChar: 0, Index: 0, Language: "en"}}, nil
	}

	var chunks []Chunk
	start := 0
	lastStart := -1

	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = findBoundary(runes, start, end, size)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			lang, _ := extract.DetectLanguage(content)
			chunks = append(chunks, Chunk{
				Content:    content,
				StartChar:  start,
				EndChar:    end,
				Index:      len(chunks),
				Language:   lang,
				TokenCount: countTokens(content),
			})
		}

		if end >= len(runes) {
			break
		}

		next := end - overlap
		// The overlap step must make progress past the previous window,
		// or a degenerate boundary would loop forever.
		if next <= lastStart || next <= start {
			next = end
		}
		lastStart = start
		start = next
	}

	if len(chunks) == 0 {
		// Whitespace-only input trims to nothing; keep the one-chunk
		// contract so callers never see an empty slice.
		chunks = []Chunk{{Content: "", StartChar: 0, EndChar: len(runes), Index: 0, Language: "en"}}
	}

	return chunks, nil
}

// findBoundary picks the best split point inside [start, end). Preference
// order: last sentence terminator in the back half of the window, last
// paragraph break in the back 70%, last space in the back half, raw end.
func findBoundary(runes []rune, start, end, size int) int {
	halfway := start + size/2
	paraFloor := start + (size*3)/10

	// Sentence terminator in [halfway, end).
	for i := end - 1; i >= halfway; i-- {
		switch runes[i] {
		case '.', '?', '!':
			return i + 1
		}
	}

	// Paragraph break in [paraFloor, end).
	for i := end - 1; i > paraFloor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Word boundary in [halfway, end).
	for i := end - 1; i >= halfway; i-- {
		if runes[i] == ' ' {
			return i
		}
	}

	return end
}
