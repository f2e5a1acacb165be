package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/voiceflow"
)

func newRedisTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewStore(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	rs, _ := newRedisTestStore(t)
	return map[string]Store{"memory": mem, "redis": rs}
}

func turns(contents ...string) []voiceflow.Turn {
	var out []voiceflow.Turn
	for i, c := range contents {
		role := voiceflow.RoleUser
		if i%2 == 1 {
			role = voiceflow.RoleAssistant
		}
		out = voiceflow.AppendTurn(out, role, c)
	}
	return out
}

func TestKey_String(t *testing.T) {
	k := Key{TenantID: "t1", AgentID: "a1", SessionID: "s1"}
	assert.Equal(t, "history:t1:a1:s1", k.String())
	assert.True(t, k.Valid())
	assert.False(t, Key{TenantID: "t1", SessionID: "s1"}.Valid())
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, voiceflow.ErrInvalidConfig)

	_, err = NewStore(StoreType("etcd"))
	assert.ErrorIs(t, err, voiceflow.ErrInvalidStoreType)
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	key := Key{TenantID: "acme", AgentID: "support", SessionID: "call-1"}

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			rec := &Record{Key: key, Turns: turns("hi", "hello")}
			require.NoError(t, store.Create(ctx, rec))
			assert.Equal(t, int64(1), rec.Version)

			assert.ErrorIs(t, store.Create(ctx, &Record{Key: key}), voiceflow.ErrVersionConflict)

			got, err = store.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Len(t, got.Turns, 2)
			assert.Equal(t, "hello", got.Turns[1].Content)
			assert.Equal(t, voiceflow.RoleAssistant, got.Turns[1].Role)

			got.Turns = turns("hi", "hello", "refund?")
			require.NoError(t, store.Update(ctx, got))
			assert.Equal(t, int64(2), got.Version)

			stale := &Record{Key: key, Version: 1}
			assert.ErrorIs(t, store.Update(ctx, stale), voiceflow.ErrVersionConflict)

			require.NoError(t, store.Delete(ctx, key))
			got, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			assert.ErrorIs(t, store.Update(ctx, &Record{Key: key, Version: 2}), voiceflow.ErrNotFound)
		})
	}
}

func TestStore_KeysIsolateTenantsAndAgents(t *testing.T) {
	ctx := context.Background()
	a := Key{TenantID: "t1", AgentID: "a1", SessionID: "same"}
	b := Key{TenantID: "t2", AgentID: "a1", SessionID: "same"}
	c := Key{TenantID: "t1", AgentID: "a2", SessionID: "same"}

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, Save(ctx, store, a, turns("from tenant one")))

			for _, other := range []Key{b, c} {
				got, err := Load(ctx, store, other)
				require.NoError(t, err)
				assert.Empty(t, got)
			}
		})
	}
}

func TestSave_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	key := Key{TenantID: "t", AgentID: "a", SessionID: "s"}

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, Save(ctx, store, key, turns("one")))
			require.NoError(t, Save(ctx, store, key, turns("one", "two")))

			rec, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, int64(2), rec.Version)
			assert.Len(t, rec.Turns, 2)
		})
	}
}

type conflictOnceStore struct {
	Store
	conflicts int
}

func (s *conflictOnceStore) Update(ctx context.Context, rec *Record) error {
	if s.conflicts == 0 {
		s.conflicts++
		// a concurrent writer bumps the version first
		other, _ := s.Store.Get(ctx, rec.Key)
		_ = s.Store.Update(ctx, other)
		return s.Store.Update(ctx, rec)
	}
	return s.Store.Update(ctx, rec)
}

func TestSave_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	key := Key{TenantID: "t", AgentID: "a", SessionID: "s"}
	mem, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	require.NoError(t, Save(ctx, mem, key, turns("one")))

	store := &conflictOnceStore{Store: mem}
	require.NoError(t, Save(ctx, store, key, turns("one", "two")))

	got, err := Load(ctx, mem, key)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, store.conflicts)
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t)
	key := Key{TenantID: "t", AgentID: "a", SessionID: "s"}

	require.NoError(t, Save(ctx, store, key, turns("hi")))
	assert.Equal(t, DefaultTTL, mr.TTL(key.String()))

	mr.FastForward(23 * time.Hour)
	_, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, mr.TTL(key.String()), "read refreshes ttl")

	mr.FastForward(DefaultTTL + time.Second)
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewStore(StoreTypeMemory, WithTTL(time.Hour), withClock(func() time.Time { return now }))
	require.NoError(t, err)
	key := Key{TenantID: "t", AgentID: "a", SessionID: "s"}

	require.NoError(t, Save(ctx, store, key, turns("hi")))

	now = now.Add(59 * time.Minute)
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(59 * time.Minute)
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got, "read refreshed expiry")

	now = now.Add(time.Hour)
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, Save(ctx, store, key, turns("fresh")))
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	key := Key{TenantID: "t", AgentID: "a", SessionID: "s"}

	rec := &Record{Key: key, Turns: turns("original")}
	require.NoError(t, store.Create(ctx, rec))
	rec.Turns[0].Content = "mutated"

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Turns[0].Content)
}
