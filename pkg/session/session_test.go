package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesForTest(t *testing.T) map[string]Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlStore, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    sqlStore,
	}
}

func TestStore_AppendAndHistory(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Content: "hello"}))
			require.NoError(t, store.Append(ctx, "s1", Message{Role: "assistant", Content: "hi there"}))
			require.NoError(t, store.Append(ctx, "s2", Message{Role: "user", Content: "other session"}))

			history, err := store.History(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, "user", history[0].Role)
			assert.Equal(t, "hello", history[0].Content)
			assert.Equal(t, "assistant", history[1].Role)
			assert.Equal(t, "hi there", history[1].Content)
			assert.False(t, history[0].CreatedAt.IsZero())

			other, err := store.History(ctx, "s2")
			require.NoError(t, err)
			require.Len(t, other, 1)
		})
	}
}

func TestStore_HistoryUnknownSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			history, err := store.History(ctx, "never-seen")
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Content: "hello"}))
			require.NoError(t, store.Clear(ctx, "s1"))

			history, err := store.History(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, history)

			// Clearing an unknown session is not an error.
			require.NoError(t, store.Clear(ctx, "nope"))
		})
	}
}

func TestStore_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			for i := 0; i < 5; i++ {
				msg := Message{Role: "user", Content: string(rune('a' + i)), CreatedAt: base}
				require.NoError(t, store.Append(ctx, "ord", msg))
			}
			history, err := store.History(ctx, "ord")
			require.NoError(t, err)
			require.Len(t, history, 5)
			for i := 0; i < 5; i++ {
				assert.Equal(t, string(rune('a'+i)), history[i].Content)
			}
		})
	}
}
