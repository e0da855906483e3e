package registry

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func testDoc(id string) *Document {
	return &Document{
		ID:          id,
		Filename:    id + ".pdf",
		Extension:   "pdf",
		Size:        1234,
		StoragePath: "/uploads/" + id + ".pdf",
		Status:      StatusPending,
		UploadedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

// registries under test share one behavioral contract.
func registriesForTest(t *testing.T) map[string]Registry {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlReg, err := NewSQLRegistry(db, "sqlite")
	require.NoError(t, err)

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sql":    sqlReg,
	}
}

func TestRegistry_CreateGet(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := testDoc("doc-1")
			doc.Chunks = []ChunkRef{
				{ID: "doc-1_chunk_0", Content: "first", StartChar: 0, EndChar: 5},
				{ID: "doc-1_chunk_1", Content: "second", StartChar: 3, EndChar: 9},
			}
			require.NoError(t, reg.Create(ctx, doc))

			got, err := reg.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, doc.Filename, got.Filename)
			assert.Equal(t, StatusPending, got.Status)
			require.Len(t, got.Chunks, 2)
			assert.Equal(t, "doc-1_chunk_0", got.Chunks[0].ID)
			assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1"}, got.ChunkIDs())
		})
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Get(context.Background(), "nope")
			var nf *NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, "nope", nf.ID)
		})
	}
}

func TestRegistry_UpdateStatus(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := testDoc("doc-1")
			require.NoError(t, reg.Create(ctx, doc))

			now := time.Now().UTC().Truncate(time.Second)
			doc.Status = StatusIndexed
			doc.ProcessedAt = &now
			doc.Chunks = []ChunkRef{{ID: "doc-1_chunk_0", Content: "c", StartChar: 0, EndChar: 1}}
			require.NoError(t, reg.Update(ctx, doc))

			got, err := reg.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, StatusIndexed, got.Status)
			require.NotNil(t, got.ProcessedAt)
			assert.Len(t, got.Chunks, 1)
		})
	}
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			err := reg.Update(context.Background(), testDoc("ghost"))
			var nf *NotFoundError
			require.True(t, errors.As(err, &nf))
		})
	}
}

func TestRegistry_DeleteAndClear(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Create(ctx, testDoc("doc-1")))
			require.NoError(t, reg.Create(ctx, testDoc("doc-2")))

			require.NoError(t, reg.Delete(ctx, "doc-1"))
			_, err := reg.Get(ctx, "doc-1")
			require.Error(t, err)

			count, err := reg.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			require.NoError(t, reg.ClearAll(ctx))
			count, err = reg.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			var nf *NotFoundError
			require.True(t, errors.As(reg.Delete(ctx, "doc-2"), &nf))
		})
	}
}

func TestRegistry_List(t *testing.T) {
	for name, reg := range registriesForTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := testDoc("older")
			older.UploadedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			require.NoError(t, reg.Create(ctx, older))
			require.NoError(t, reg.Create(ctx, testDoc("newer")))

			docs, err := reg.List(ctx)
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "newer", docs[0].ID)
			assert.Equal(t, "older", docs[1].ID)
		})
	}
}
