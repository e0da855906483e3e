package pipeline

import (
	"context"
	"log/slog"

	"github.com/granthlabs/granth/pkg/registry"
)

// BatchResult summarizes a batch processing run.
type BatchResult struct {
	Processed int
	Failed    int
}

// ProgressFunc reports batch progress before each document is processed.
type ProgressFunc func(current, total int, filename string)

// ProcessSequentially indexes documents strictly one at a time. A failed
// document is logged and counted but never aborts the batch; cancellation
// does.
func (p *Processor) ProcessSequentially(ctx context.Context, docs []*registry.Document, onProgress ProgressFunc) *BatchResult {
	result := &BatchResult{}
	total := len(docs)

	for i, doc := range docs {
		if ctx.Err() != nil {
			slog.Warn("Batch processing cancelled",
				"processed", result.Processed, "failed", result.Failed, "remaining", total-i)
			return result
		}
		if onProgress != nil {
			onProgress(i+1, total, doc.Filename)
		}

		if _, err := p.Process(ctx, doc, DefaultOptions()); err != nil {
			slog.Error("Document processing failed",
				"documentId", doc.ID, "filename", doc.Filename, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}
	return result
}
