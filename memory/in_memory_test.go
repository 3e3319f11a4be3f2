package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ core.MemoryStore = (*InMemoryStore)(nil)
	_ core.MemoryStore = (*SQLiteStore)(nil)
)

// storeContract runs the behavior every MemoryStore must share.
func storeContract(t *testing.T, store core.MemoryStore) {
	ctx := context.Background()

	e, err := store.AppendAgentMemory(ctx, "a1", "pricing research for the launch", true)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, core.MemoryScopeAgent, e.Scope)
	assert.True(t, e.Promoted)

	_, err = store.AppendAgentMemory(ctx, "a2", "risk review of supply chain", false)
	require.NoError(t, err)

	shared, err := store.AppendSharedMemory(ctx, "final insight: launch in spring with tiered pricing", []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, core.MemoryScopeShared, shared.Scope)
	assert.Equal(t, []string{"a1", "a2"}, shared.Participants)

	_, err = store.AppendSharedMemory(ctx, "   ", nil)
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	hits, err := store.Search(ctx, "launch pricing", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, h.Content, "pricing")
	}

	all, err := store.Search(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := store.Search(ctx, "zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewInMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.AppendSharedMemory(context.Background(), "remember the launch date", []string{"x"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	hits, err := s2.Search(context.Background(), "launch", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{"x"}, hits[0].Participants)
}

func TestInMemoryStore_RecencyOnTies(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Unix(0, 0)
	var n int
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	ctx := context.Background()
	_, _ = s.AppendAgentMemory(ctx, "a", "launch one", false)
	_, _ = s.AppendAgentMemory(ctx, "a", "launch two", false)

	hits, err := s.Search(ctx, "launch", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "launch two", hits[0].Content)
}

func TestInMemoryStore_CopiesAndDelete(t *testing.T) {
	s := NewInMemoryStore()
	e, _ := s.AppendSharedMemory(context.Background(), "x y z note", []string{"p"})

	got := s.Shared()
	require.Len(t, got, 1)
	got[0].Participants[0] = "mutated"
	assert.Equal(t, "p", s.Shared()[0].Participants[0])

	require.NoError(t, s.Delete(e.ID))
	assert.Error(t, s.Delete(e.ID))
	assert.Empty(t, s.Entries())
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = s.AppendAgentMemory(context.Background(), "a", "note about testing", false)
				_, _ = s.Search(context.Background(), "testing", 3)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Entries(), 100)
}
