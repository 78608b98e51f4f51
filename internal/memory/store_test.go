package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a redis-backed store for testing.
// Requires a redis server at localhost:6379.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.MemoryConfig{RedisAddr: "localhost:6379"})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return store
}

func testScope(t *testing.T) Scope {
	return ResolveScope("test-user", "test-chat-"+t.Name(), "root", "")
}

func TestStoreAppendAndHistory(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	scope := testScope(t)
	defer store.Clear(ctx, scope)

	require.NoError(t, store.AppendMessage(ctx, scope, "user", "hello"))
	require.NoError(t, store.AppendMessage(ctx, scope, "assistant", "hi there"))

	history, err := store.History(ctx, scope, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestStoreHistoryTrimsToLimit(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	store.historyLimit = 5

	ctx := context.Background()
	scope := testScope(t)
	defer store.Clear(ctx, scope)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendMessage(ctx, scope, "user", "msg"))
	}
	history, err := store.History(ctx, scope, 0)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestStoreWorkingMemory(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	scope := testScope(t)
	defer store.Clear(ctx, scope)

	_, ok, err := store.GetWorking(ctx, scope, "pending")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetWorking(ctx, scope, "pending", `{"action":"create"}`))
	val, ok, err := store.GetWorking(ctx, scope, "pending")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"action":"create"}`, val)

	require.NoError(t, store.DeleteWorking(ctx, scope, "pending"))
	_, ok, err = store.GetWorking(ctx, scope, "pending")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreWorkingMemoryExpires(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	store.workingTTL = time.Hour

	ctx := context.Background()
	scope := testScope(t)
	defer store.Clear(ctx, scope)

	require.NoError(t, store.SetWorking(ctx, scope, "fact", "value"))
	ttl, err := store.rdb.TTL(ctx, workingKey(scope)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "working hash must carry an expiry")
}

func TestStoreScopesIsolated(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	a := ResolveScope("u1", "chat-"+t.Name(), "r1", "")
	b := ResolveScope("u1", "chat-"+t.Name(), "r2", "")
	defer store.Clear(ctx, a)
	defer store.Clear(ctx, b)

	require.NoError(t, store.AppendMessage(ctx, a, "user", "thread one"))
	history, err := store.History(ctx, b, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "threads must not share history")
}
