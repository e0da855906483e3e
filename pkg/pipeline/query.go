package pipeline

import (
	"context"
	"time"

	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/observability"
	"github.com/granthlabs/granth/pkg/vector"
)

const (
	// DefaultMaxSources is how many chunks retrieval asks for.
	DefaultMaxSources = 5

	// DefaultMinScore filters retrieved chunks below this similarity.
	DefaultMinScore = 0.5

	// contextWindowChars bounds the assembled context passed to the LLM.
	contextWindowChars = 4000

	// minTruncateBudget is the smallest leftover budget worth filling
	// with a truncated chunk.
	minTruncateBudget = 100
)

// Source is one retrieved chunk that grounded an answer.
type Source struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// QueryResult is a complete answer with its grounding.
type QueryResult struct {
	Content string      `json:"content"`
	Sources []Source    `json:"sources"`
	Usage   *llms.Usage `json:"usage,omitempty"`
}

// FrameType tags one streaming frame.
type FrameType string

const (
	FrameSources FrameType = "sources"
	FrameContent FrameType = "content"
	FrameDone    FrameType = "done"
	FrameError   FrameType = "error"
)

// Frame is one event of a streaming answer. A stream is exactly one
// sources frame, zero or more content frames, then one done frame, or a
// single terminal error frame once streaming has started.
type Frame struct {
	Type    FrameType   `json:"type"`
	Sources []Source    `json:"sources,omitempty"`
	Content string      `json:"content,omitempty"`
	Usage   *llms.Usage `json:"usage,omitempty"`
	Message string      `json:"message,omitempty"`
}

// QueryEngine answers questions over the indexed corpus.
type QueryEngine struct {
	embedder   embedders.Embedder
	store      vector.Provider
	llm        llms.Provider
	maxSources int
	minScore   float32
}

// NewQueryEngine builds a query engine. maxSources <= 0 and minScore < 0
// select the defaults.
func NewQueryEngine(embedder embedders.Embedder, store vector.Provider, llm llms.Provider, maxSources int, minScore float32) *QueryEngine {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	if minScore < 0 {
		minScore = DefaultMinScore
	}
	return &QueryEngine{
		embedder:   embedder,
		store:      store,
		llm:        llm,
		maxSources: maxSources,
		minScore:   minScore,
	}
}

// Query answers a question in one shot.
func (q *QueryEngine) Query(ctx context.Context, question string, history []llms.Message) (*QueryResult, error) {
	sources, contexts, err := q.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	messages := append(append([]llms.Message{}, history...), llms.Message{
		Role:    llms.RoleUser,
		Content: question,
	})

	start := time.Now()
	res, err := q.llm.Chat(ctx, messages, contexts)
	if m := observability.GetGlobalMetrics(); m != nil {
		in, out := usageTokens(resultUsage(res))
		m.RecordLLMCall(ctx, q.llm.ModelName(), time.Since(start), in, out, err)
	}
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Content: res.Content,
		Sources: sources,
		Usage:   res.Usage,
	}, nil
}

// QueryStream answers a question as a stream of frames. Retrieval
// failures are returned synchronously; once the channel is live every
// outcome arrives as a frame.
func (q *QueryEngine) QueryStream(ctx context.Context, question string, history []llms.Message) (<-chan Frame, error) {
	sources, contexts, err := q.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	messages := append(append([]llms.Message{}, history...), llms.Message{
		Role:    llms.RoleUser,
		Content: question,
	})

	start := time.Now()
	chunks, err := q.llm.ChatStream(ctx, messages, contexts)
	if err != nil {
		return nil, err
	}

	frames := make(chan Frame)
	go func() {
		defer close(frames)

		if !send(ctx, frames, Frame{Type: FrameSources, Sources: sources}) {
			return
		}

		var usage *llms.Usage
		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				send(ctx, frames, Frame{Type: FrameError, Message: chunk.Err.Error()})
				q.recordStream(ctx, start, usage, chunk.Err)
				return
			case chunk.Done:
				usage = chunk.Usage
				if !send(ctx, frames, Frame{Type: FrameDone, Usage: usage}) {
					return
				}
			case chunk.Content != "":
				if !send(ctx, frames, Frame{Type: FrameContent, Content: chunk.Content}) {
					return
				}
			}
		}
		q.recordStream(ctx, start, usage, nil)
	}()
	return frames, nil
}

func (q *QueryEngine) recordStream(ctx context.Context, start time.Time, usage *llms.Usage, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		in, out := usageTokens(usage)
		m.RecordLLMCall(ctx, q.llm.ModelName(), time.Since(start), in, out, err)
	}
}

// retrieve embeds the question, searches the index and assembles the
// context excerpts. An empty index yields empty sources and context.
func (q *QueryEngine) retrieve(ctx context.Context, question string) ([]Source, []string, error) {
	embedding, err := q.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	hits, err := q.store.Search(ctx, embedding, q.maxSources)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordVectorSearch(ctx, "vector", time.Since(start))
	}
	if err != nil {
		return nil, nil, err
	}

	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < q.minScore {
			continue
		}
		sources = append(sources, Source{
			ChunkID:    hit.ID,
			DocumentID: metaString(hit.Metadata, "documentId"),
			Filename:   metaString(hit.Metadata, "filename"),
			Content:    hit.Content,
			Score:      hit.Score,
		})
	}

	return sources, assembleContext(sources), nil
}

// assembleContext packs source contents into the context window in rank
// order. The budget is counted in runes so truncation never splits a
// multibyte character. A chunk that does not fit whole is truncated only
// when the remaining budget justifies it; otherwise assembly stops.
func assembleContext(sources []Source) []string {
	contexts := make([]string, 0, len(sources))
	budget := contextWindowChars
	for _, s := range sources {
		runes := []rune(s.Content)
		if len(runes) <= budget {
			contexts = append(contexts, s.Content)
			budget -= len(runes)
			continue
		}
		if budget > minTruncateBudget {
			contexts = append(contexts, string(runes[:budget])+"...")
		}
		break
	}
	return contexts
}

// send delivers a frame unless the context is cancelled first.
func send(ctx context.Context, ch chan<- Frame, f Frame) bool {
	select {
	case ch <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func resultUsage(res *llms.ChatResult) *llms.Usage {
	if res == nil {
		return nil
	}
	return res.Usage
}

func usageTokens(u *llms.Usage) (int, int) {
	if u == nil {
		return 0, 0
	}
	return u.PromptTokens, u.CompletionTokens
}
