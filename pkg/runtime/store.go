package runtime

import (
	"context"
	"sort"
	"sync"
)

// ConfigStore persists configurations. Activate must be atomic: after it
// returns, the named configuration is the owner's only active one.
type ConfigStore interface {
	Get(ctx context.Context, id string) (*Configuration, error)
	List(ctx context.Context, owner string) ([]*Configuration, error)
	Create(ctx context.Context, cfg *Configuration) error
	Update(ctx context.Context, cfg *Configuration) error
	Delete(ctx context.Context, id string) error
	Activate(ctx context.Context, id, owner string) error
	GetActive(ctx context.Context, owner string) (*Configuration, error)
}

// MemoryConfigStore is an in-memory ConfigStore for tests and ephemeral
// runs.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Configuration
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*Configuration)}
}

func (s *MemoryConfigStore) Get(ctx context.Context, id string) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, &ConfigNotFoundError{ID: id}
	}
	out := *cfg
	return &out, nil
}

func (s *MemoryConfigStore) List(ctx context.Context, owner string) ([]*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Configuration, 0, len(s.configs))
	for _, cfg := range s.configs {
		if owner != "" && cfg.Owner != owner {
			continue
		}
		c := *cfg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryConfigStore) Create(ctx context.Context, cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.configs[cfg.ID] = &c
	return nil
}

func (s *MemoryConfigStore) Update(ctx context.Context, cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.ID]; !ok {
		return &ConfigNotFoundError{ID: cfg.ID}
	}
	c := *cfg
	s.configs[cfg.ID] = &c
	return nil
}

func (s *MemoryConfigStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return &ConfigNotFoundError{ID: id}
	}
	delete(s.configs, id)
	return nil
}

func (s *MemoryConfigStore) Activate(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.configs[id]
	if !ok || target.Owner != owner {
		return &ConfigNotFoundError{ID: id}
	}
	for _, cfg := range s.configs {
		if cfg.Owner == owner {
			cfg.Active = false
		}
	}
	target.Active = true
	return nil
}

func (s *MemoryConfigStore) GetActive(ctx context.Context, owner string) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.Owner == owner && cfg.Active {
			c := *cfg
			return &c, nil
		}
	}
	return nil, &NoActiveConfigurationError{Owner: owner}
}
