package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-memory Registry for tests and ephemeral runs.
type MemoryRegistry struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{docs: make(map[string]*Document)}
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	cp := *doc
	cp.Chunks = append([]ChunkRef(nil), doc.Chunks...)
	return &cp, nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Document, 0, len(r.docs))
	for _, doc := range r.docs {
		cp := *doc
		cp.Chunks = append([]ChunkRef(nil), doc.Chunks...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

func (r *MemoryRegistry) Create(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *doc
	cp.Chunks = append([]ChunkRef(nil), doc.Chunks...)
	r.docs[doc.ID] = &cp
	return nil
}

func (r *MemoryRegistry) Update(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[doc.ID]; !ok {
		return &NotFoundError{ID: doc.ID}
	}
	cp := *doc
	cp.Chunks = append([]ChunkRef(nil), doc.Chunks...)
	r.docs[doc.ID] = &cp
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryRegistry) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]*Document)
	return nil
}

func (r *MemoryRegistry) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs), nil
}
