package runtime

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/granthlabs/granth/pkg/config"
	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/pipeline"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/vector"
)

// connectionTestTimeout bounds each provider probe during validation.
const connectionTestTimeout = 15 * time.Second

// Pipeline is the set of live providers and engines built from one
// configuration.
type Pipeline struct {
	Config    *Configuration
	Embedder  embedders.Embedder
	Store     vector.Provider
	LLM       llms.Provider
	Processor *pipeline.Processor
	Query     *pipeline.QueryEngine
}

// Close releases the pipeline's vector store connection.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

// SystemStatus is a fresh snapshot of provider health.
type SystemStatus struct {
	HasActiveConfig bool   `json:"hasActiveConfig"`
	LLMStatus       string `json:"llmStatus"`
	VectorStatus    string `json:"vectorStatus"`
	EmbeddingStatus string `json:"embeddingStatus"`
	DocumentCount   int    `json:"documentCount"`
}

// Coordinator owns configuration lifecycle and the active pipeline.
type Coordinator struct {
	store     ConfigStore
	registry  registry.Registry
	extractor *extract.Extractor
	owner     string

	mu     sync.Mutex
	active *Pipeline
}

// NewCoordinator wires a coordinator for one owner scope.
func NewCoordinator(store ConfigStore, reg registry.Registry, extractor *extract.Extractor, owner string) *Coordinator {
	if owner == "" {
		owner = DefaultOwner
	}
	return &Coordinator{
		store:     store,
		registry:  reg,
		extractor: extractor,
		owner:     owner,
	}
}

// Create validates a configuration against its live backends and persists
// it. All three providers must answer a connection test.
func (c *Coordinator) Create(ctx context.Context, cfg *Configuration) error {
	if err := c.normalize(cfg); err != nil {
		return err
	}
	if err := c.validate(ctx, cfg); err != nil {
		return err
	}

	now := time.Now().UTC()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.Active = false

	return c.store.Create(ctx, cfg)
}

// Update merges non-empty fields of patch into the stored configuration.
// Provider changes are re-validated; if the record is active the cached
// pipeline is rebuilt.
func (c *Coordinator) Update(ctx context.Context, id string, patch *Configuration) (*Configuration, error) {
	existing, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	providersChanged := false
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	for _, m := range []struct {
		src  ProviderSpec
		dest *ProviderSpec
	}{
		{patch.LLM, &existing.LLM},
		{patch.Embedding, &existing.Embedding},
		{patch.Vector, &existing.Vector},
	} {
		if m.src.Kind == "" && m.src.Params == nil {
			continue
		}
		if m.src.Kind != "" {
			m.dest.Kind = m.src.Kind
		}
		if m.src.Params != nil {
			m.dest.Params = m.src.Params
		}
		providersChanged = true
	}

	if providersChanged {
		if err := c.validate(ctx, existing); err != nil {
			return nil, err
		}
	}

	existing.UpdatedAt = time.Now().UTC()
	if err := c.store.Update(ctx, existing); err != nil {
		return nil, err
	}

	if existing.Active {
		if err := c.rebuild(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// Activate makes the configuration the owner's single active one and
// rebuilds the pipeline.
func (c *Coordinator) Activate(ctx context.Context, id string) (*Configuration, error) {
	if err := c.store.Activate(ctx, id, c.owner); err != nil {
		return nil, err
	}
	cfg, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.rebuild(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Coordinator) Get(ctx context.Context, id string) (*Configuration, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) List(ctx context.Context) ([]*Configuration, error) {
	return c.store.List(ctx, c.owner)
}

// Delete removes a configuration; deleting the active one drops the
// cached pipeline.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	cfg, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	if cfg.Active {
		c.mu.Lock()
		if c.active != nil {
			c.active.Close()
			c.active = nil
		}
		c.mu.Unlock()
	}
	return nil
}

// GetActivePipeline returns the pipeline for the owner's active
// configuration, building it lazily on first use.
func (c *Coordinator) GetActivePipeline(ctx context.Context) (*Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return c.active, nil
	}

	cfg, err := c.store.GetActive(ctx, c.owner)
	if err != nil {
		return nil, err
	}
	p, err := c.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.active = p
	return p, nil
}

// SystemStatus probes the active pipeline's providers and counts
// registered documents.
func (c *Coordinator) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		LLMStatus:       "not configured",
		VectorStatus:    "not configured",
		EmbeddingStatus: "not configured",
	}

	if count, err := c.registry.Count(ctx); err == nil {
		status.DocumentCount = count
	}

	p, err := c.GetActivePipeline(ctx)
	if err != nil {
		if _, ok := err.(*NoActiveConfigurationError); ok {
			return status, nil
		}
		return nil, err
	}
	status.HasActiveConfig = true

	probe := func(test func(context.Context) error) string {
		tctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
		defer cancel()
		if err := test(tctx); err != nil {
			return err.Error()
		}
		return "connected"
	}
	status.LLMStatus = probe(p.LLM.TestConnection)
	status.VectorStatus = probe(p.Store.TestConnection)
	status.EmbeddingStatus = probe(p.Embedder.TestConnection)

	return status, nil
}

// Bootstrap seeds a default OpenAI configuration when the store is empty
// and OPENAI_API_KEY is present, then activates it.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	configs, err := c.store.List(ctx, c.owner)
	if err != nil {
		return err
	}
	if len(configs) > 0 {
		return nil
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil
	}

	cfg := &Configuration{
		Name:  "default",
		Owner: c.owner,
		LLM: ProviderSpec{
			Kind: "openai",
			Params: map[string]any{
				"api_key": apiKey,
				"model":   os.Getenv("OPENAI_MODEL"),
			},
		},
		Embedding: ProviderSpec{
			Kind: "openai",
			Params: map[string]any{
				"api_key": apiKey,
				"model":   os.Getenv("OPENAI_EMBEDDING_MODEL"),
			},
		},
		Vector: ProviderSpec{
			Kind: config.EnvString("VECTOR_PROVIDER", "faiss"),
			Params: map[string]any{
				"dimension": config.EnvInt("VECTOR_DIMENSION", 1536),
				"top_k":     config.EnvInt("VECTOR_TOP_K", 5),
			},
		},
	}

	if err := c.Create(ctx, cfg); err != nil {
		return err
	}
	if _, err := c.Activate(ctx, cfg.ID); err != nil {
		return err
	}
	slog.Info("Bootstrapped default configuration", "id", cfg.ID)
	return nil
}

func (c *Coordinator) normalize(cfg *Configuration) error {
	if cfg.Name == "" {
		return NewConfigurationError("name", "name is required", nil)
	}
	if cfg.Owner == "" {
		cfg.Owner = c.owner
	}
	for _, f := range []struct {
		field string
		spec  ProviderSpec
	}{
		{"llm", cfg.LLM},
		{"embedding", cfg.Embedding},
		{"vector", cfg.Vector},
	} {
		if f.spec.Kind == "" {
			return NewConfigurationError(f.field, "provider kind is required", nil)
		}
	}
	return nil
}

// validate builds all three providers and requires each to answer a
// connection test. The transient providers are released afterwards.
func (c *Coordinator) validate(ctx context.Context, cfg *Configuration) error {
	p, err := c.build(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, f := range []struct {
		field string
		test  func(context.Context) error
	}{
		{"llm", p.LLM.TestConnection},
		{"embedding", p.Embedder.TestConnection},
		{"vector", p.Store.TestConnection},
	} {
		tctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
		err := f.test(tctx)
		cancel()
		if err != nil {
			return NewConfigurationError(f.field, "connection test failed", err)
		}
	}
	return nil
}

// build constructs providers from the configuration's kind tags.
func (c *Coordinator) build(ctx context.Context, cfg *Configuration) (*Pipeline, error) {
	llm, err := llms.New(cfg.LLM.Kind, cfg.LLM.Params)
	if err != nil {
		return nil, NewConfigurationError("llm", cfg.LLM.Kind, err)
	}
	embedder, err := embedders.New(cfg.Embedding.Kind, cfg.Embedding.Params)
	if err != nil {
		return nil, NewConfigurationError("embedding", cfg.Embedding.Kind, err)
	}
	store, err := vector.New(cfg.Vector.Kind, cfg.Vector.Params)
	if err != nil {
		return nil, NewConfigurationError("vector", cfg.Vector.Kind, err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, NewConfigurationError("vector", "initialization failed", err)
	}

	proc := pipeline.NewProcessor(c.extractor, embedder, store, c.registry)
	query := pipeline.NewQueryEngine(embedder, store, llm, topKFromParams(cfg.Vector.Params), -1)

	return &Pipeline{
		Config:    cfg,
		Embedder:  embedder,
		Store:     store,
		LLM:       llm,
		Processor: proc,
		Query:     query,
	}, nil
}

// rebuild replaces the cached pipeline with one built from cfg.
func (c *Coordinator) rebuild(ctx context.Context, cfg *Configuration) error {
	p, err := c.build(ctx, cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.active != nil {
		c.active.Close()
	}
	c.active = p
	c.mu.Unlock()
	return nil
}

// topKFromParams reads top_k from vector params, falling back to the
// VECTOR_TOP_K environment variable. Zero lets the query engine pick
// its default.
func topKFromParams(params map[string]any) int {
	switch v := params["top_k"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return config.EnvInt("VECTOR_TOP_K", 0)
}
