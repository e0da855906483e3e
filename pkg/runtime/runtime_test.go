package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/registry"
)

func configStoresForTest(t *testing.T) map[string]ConfigStore {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlStore, err := NewSQLConfigStore(db, "sqlite")
	require.NoError(t, err)

	return map[string]ConfigStore{
		"memory": NewMemoryConfigStore(),
		"sql":    sqlStore,
	}
}

func sampleConfig(id, name, owner string) *Configuration {
	return &Configuration{
		ID:    id,
		Name:  name,
		Owner: owner,
		LLM: ProviderSpec{Kind: "openai", Params: map[string]any{
			"api_key": "k", "model": "gpt-4o",
		}},
		Embedding: ProviderSpec{Kind: "openai", Params: map[string]any{
			"api_key": "k",
		}},
		Vector: ProviderSpec{Kind: "faiss", Params: map[string]any{
			"dimension": float64(1536),
		}},
	}
}

func TestConfigStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	for name, store := range configStoresForTest(t) {
		t.Run(name, func(t *testing.T) {
			cfg := sampleConfig("c1", "first", "default")
			require.NoError(t, store.Create(ctx, cfg))

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "first", got.Name)
			assert.Equal(t, "openai", got.LLM.Kind)
			assert.Equal(t, "gpt-4o", got.LLM.Params["model"])
			assert.Equal(t, float64(1536), got.Vector.Params["dimension"])
			assert.False(t, got.Active)

			_, err = store.Get(ctx, "nope")
			var nf *ConfigNotFoundError
			require.ErrorAs(t, err, &nf)

			list, err := store.List(ctx, "default")
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	}
}

func TestConfigStore_ActivateIsExclusive(t *testing.T) {
	ctx := context.Background()
	for name, store := range configStoresForTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create(ctx, sampleConfig("c1", "one", "default")))
			require.NoError(t, store.Create(ctx, sampleConfig("c2", "two", "default")))

			require.NoError(t, store.Activate(ctx, "c1", "default"))
			require.NoError(t, store.Activate(ctx, "c2", "default"))

			active, err := store.GetActive(ctx, "default")
			require.NoError(t, err)
			assert.Equal(t, "c2", active.ID)

			c1, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, c1.Active, "previous active must be cleared")

			// Activating an id under the wrong owner fails.
			var nf *ConfigNotFoundError
			require.ErrorAs(t, store.Activate(ctx, "c1", "other"), &nf)
		})
	}
}

func TestConfigStore_GetActiveEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range configStoresForTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetActive(ctx, "default")
			var noActive *NoActiveConfigurationError
			require.ErrorAs(t, err, &noActive)
		})
	}
}

func TestConfigStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range configStoresForTest(t) {
		t.Run(name, func(t *testing.T) {
			cfg := sampleConfig("c1", "one", "default")
			require.NoError(t, store.Create(ctx, cfg))

			cfg.Name = "renamed"
			cfg.LLM.Params["model"] = "gpt-4o-mini"
			require.NoError(t, store.Update(ctx, cfg))

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Equal(t, "gpt-4o-mini", got.LLM.Params["model"])

			require.NoError(t, store.Delete(ctx, "c1"))
			var nf *ConfigNotFoundError
			require.ErrorAs(t, store.Delete(ctx, "c1"), &nf)
		})
	}
}

// fakeOpenAI answers chat completions and embeddings well enough for
// connection tests.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "pong"}}},
			"usage":   map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"index": 0, "embedding": []float32{0.1, 0.2}}},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testCoordinator(t *testing.T) (*Coordinator, *httptest.Server) {
	t.Helper()
	server := fakeOpenAI(t)
	coord := NewCoordinator(NewMemoryConfigStore(), registry.NewMemoryRegistry(), extract.NewExtractor(nil), "")
	return coord, server
}

func reachableConfig(t *testing.T, server *httptest.Server) *Configuration {
	t.Helper()
	return &Configuration{
		Name: "test",
		LLM: ProviderSpec{Kind: "openai", Params: map[string]any{
			"api_key": "k", "base_url": server.URL,
		}},
		Embedding: ProviderSpec{Kind: "openai", Params: map[string]any{
			"api_key": "k", "base_url": server.URL,
		}},
		Vector: ProviderSpec{Kind: "faiss", Params: map[string]any{
			"dir": filepath.Join(t.TempDir(), "index"), "dimension": 2,
		}},
	}
}

func TestCoordinator_CreateValidatesProviders(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	cfg := reachableConfig(t, server)
	require.NoError(t, coord.Create(ctx, cfg))
	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, DefaultOwner, cfg.Owner)
	assert.False(t, cfg.Active)
}

func TestCoordinator_CreateRejectsUnreachableLLM(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	cfg := reachableConfig(t, server)
	cfg.LLM.Params["base_url"] = "http://127.0.0.1:1" // nothing listens here

	err := coord.Create(ctx, cfg)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "llm", cerr.Field)
}

func TestCoordinator_CreateRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	cfg := reachableConfig(t, server)
	cfg.Vector.Kind = "warehouse"

	err := coord.Create(ctx, cfg)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "vector", cerr.Field)
}

func TestCoordinator_ActivateAndGetPipeline(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	// No active configuration yet.
	_, err := coord.GetActivePipeline(ctx)
	var noActive *NoActiveConfigurationError
	require.ErrorAs(t, err, &noActive)

	cfg := reachableConfig(t, server)
	require.NoError(t, coord.Create(ctx, cfg))
	activated, err := coord.Activate(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, activated.Active)

	p, err := coord.GetActivePipeline(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.Processor)
	require.NotNil(t, p.Query)
	assert.Equal(t, cfg.ID, p.Config.ID)

	// Second call returns the cached pipeline.
	p2, err := coord.GetActivePipeline(ctx)
	require.NoError(t, err)
	assert.Same(t, p, p2)
}

func TestCoordinator_UpdateMergesAndRevalidates(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	cfg := reachableConfig(t, server)
	require.NoError(t, coord.Create(ctx, cfg))

	// Name-only update does not touch providers.
	updated, err := coord.Update(ctx, cfg.ID, &Configuration{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "openai", updated.LLM.Kind)

	// A broken provider param is rejected on re-validation.
	_, err = coord.Update(ctx, cfg.ID, &Configuration{
		LLM: ProviderSpec{Params: map[string]any{
			"api_key": "k", "base_url": "http://127.0.0.1:1",
		}},
	})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)

	// The stored record is unchanged after the failed update.
	got, err := coord.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, server.URL, got.LLM.Params["base_url"])
}

func TestCoordinator_SystemStatus(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	status, err := coord.SystemStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.HasActiveConfig)
	assert.Equal(t, "not configured", status.LLMStatus)

	cfg := reachableConfig(t, server)
	require.NoError(t, coord.Create(ctx, cfg))
	_, err = coord.Activate(ctx, cfg.ID)
	require.NoError(t, err)

	status, err = coord.SystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.HasActiveConfig)
	assert.Equal(t, "connected", status.LLMStatus)
	assert.Equal(t, "connected", status.VectorStatus)
	assert.Equal(t, "connected", status.EmbeddingStatus)
	assert.Equal(t, 0, status.DocumentCount)
}

func TestCoordinator_BootstrapWithoutKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	t.Setenv("OPENAI_API_KEY", "")

	coord, _ := testCoordinator(t)
	require.NoError(t, coord.Bootstrap(ctx))

	list, err := coord.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCoordinator_DeleteActiveDropsPipeline(t *testing.T) {
	ctx := context.Background()
	coord, server := testCoordinator(t)

	cfg := reachableConfig(t, server)
	require.NoError(t, coord.Create(ctx, cfg))
	_, err := coord.Activate(ctx, cfg.ID)
	require.NoError(t, err)

	_, err = coord.GetActivePipeline(ctx)
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, cfg.ID))

	_, err = coord.GetActivePipeline(ctx)
	var noActive *NoActiveConfigurationError
	assert.True(t, errors.As(err, &noActive))
}
