// Package registry tracks uploaded documents and their chunk references.
//
// The registry is the source of truth for document lifecycle status and
// for chunk id lists, which drive targeted vector deletions.
package registry

import (
	"context"
	"fmt"
	"time"
)

// Status is a document's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusError      Status = "error"
)

// ChunkRef records one chunk produced while indexing a document. The id
// is the vector store id of the chunk.
type ChunkRef struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	StartChar int    `json:"startChar"`
	EndChar   int    `json:"endChar"`
}

// Document is one registered upload.
type Document struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	Extension    string     `json:"extension"`
	Size         int64      `json:"size"`
	StoragePath  string     `json:"storagePath"`
	Status       Status     `json:"status"`
	UploadedAt   time.Time  `json:"uploadedAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	Chunks       []ChunkRef `json:"chunks,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ChunkIDs returns the vector store ids of all chunks.
func (d *Document) ChunkIDs() []string {
	ids := make([]string, len(d.Chunks))
	for i, c := range d.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// NotFoundError reports a lookup for an unknown document id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.ID)
}

// Registry stores document records.
type Registry interface {
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
	Create(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
