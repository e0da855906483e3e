package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalForTest(t *testing.T, dim int) *LocalProvider {
	t.Helper()
	p, err := NewLocalProvider(&LocalConfig{Dir: t.TempDir(), Dimension: dim})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func rec(id string, embedding ...float32) Record {
	return Record{ID: id, Content: "content of " + id, Embedding: embedding}
}

func TestLocalProvider_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	require.NoError(t, p.AddDocuments(ctx, []Record{
		rec("a", 1, 0, 0),
		rec("b", 0, 1, 0),
		rec("c", 0.9, 0.1, 0),
	}))

	hits, err := p.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "content of a", hits[0].Content)
}

func TestLocalProvider_SearchEmpty(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	hits, err := p.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestLocalProvider_KClampedToCount(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	require.NoError(t, p.AddDocuments(ctx, []Record{rec("a", 1, 0, 0)}))

	hits, err := p.Search(ctx, []float32{1, 0, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestLocalProvider_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	err := p.AddDocuments(ctx, []Record{rec("a", 1, 0)})
	require.Error(t, err)
	var storeErr *VectorStoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "local", storeErr.Provider)

	_, err = p.Search(ctx, []float32{1, 0}, 5)
	require.Error(t, err)
}

func TestLocalProvider_PersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewLocalProvider(&LocalConfig{Dir: dir, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.AddDocuments(ctx, []Record{
		rec("a", 1, 0, 0),
		rec("b", 0, 1, 0),
	}))

	// Both members of the file pair exist after a durable write.
	_, err = os.Stat(filepath.Join(dir, docsFileName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	reopened, err := NewLocalProvider(&LocalConfig{Dir: dir, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := reopened.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestLocalProvider_CorruptIndexStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewLocalProvider(&LocalConfig{Dir: dir, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.AddDocuments(ctx, []Record{rec("a", 1, 0, 0)}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("garbage"), 0o644))

	reopened, err := NewLocalProvider(&LocalConfig{Dir: dir, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLocalProvider_Delete(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	require.NoError(t, p.AddDocuments(ctx, []Record{
		rec("a", 1, 0, 0),
		rec("b", 0, 1, 0),
		rec("c", 0, 0, 1),
	}))

	// Non-existent ids are ignored.
	require.NoError(t, p.Delete(ctx, []string{"b", "missing"}))

	count, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := p.Search(ctx, []float32{0, 1, 0}, 3)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "b", h.ID)
	}
}

func TestLocalProvider_Clear(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	require.NoError(t, p.AddDocuments(ctx, []Record{rec("a", 1, 0, 0)}))
	require.NoError(t, p.Clear(ctx))

	count, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLocalProvider_UpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	p := newLocalForTest(t, 3)

	require.NoError(t, p.AddDocuments(ctx, []Record{rec("a", 1, 0, 0)}))
	require.NoError(t, p.AddDocuments(ctx, []Record{rec("a", 0, 1, 0)}))

	count, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := p.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestLocalProvider_Threshold(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(&LocalConfig{Dir: t.TempDir(), Dimension: 3, Threshold: 0.9})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))

	require.NoError(t, p.AddDocuments(ctx, []Record{
		rec("near", 1, 0, 0),
		rec("far", 0, 1, 0),
	}))

	hits, err := p.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)
}

func TestLocalProvider_IndexTypeDowngrade(t *testing.T) {
	p, err := NewLocalProvider(&LocalConfig{Dir: t.TempDir(), Dimension: 3, IndexType: "hnsw-flat"})
	require.NoError(t, err)
	assert.Equal(t, "flat-ip", p.config.IndexType)

	_, err = NewLocalProvider(&LocalConfig{Dir: t.TempDir(), Dimension: 3, IndexType: "bogus"})
	require.Error(t, err)
}
