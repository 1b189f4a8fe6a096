package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisStore_PutGetIndex(t *testing.T) {
	server, client := newTestRedis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()

	at := time.Date(2025, 2, 2, 12, 0, 0, 0, time.UTC)
	entry := testEntry(ports.CollectionReports, "r-1", "hash-r1", at)
	require.NoError(t, store.Put(ctx, entry))

	assert.True(t, server.Exists("marker:reports:r-1"))
	fields, err := server.HKeys("marker:reports:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, fields)

	got, err := store.Get(ctx, ports.CollectionReports, "r-1")
	require.NoError(t, err)
	assert.Equal(t, entry.Value, got.Value)

	index, err := store.Index(ctx, ports.CollectionReports)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "hash-r1", index[0].Hash)
	assert.True(t, at.Equal(index[0].CreatedAt))
}

func TestRedisStore_MissAndCorrupt(t *testing.T) {
	server, client := newTestRedis(t)
	store := NewRedisStore(client, "exam")
	ctx := context.Background()

	_, err := store.Get(ctx, ports.CollectionGuides, "absent")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)

	require.NoError(t, server.Set("exam:guides:g-1", "{not json"))
	_, err = store.Get(ctx, ports.CollectionGuides, "g-1")
	assert.ErrorIs(t, err, ports.ErrCacheCorrupted)

	server.HSet("exam:guides:index", "g-2", "garbage")
	index, err := store.Index(ctx, ports.CollectionGuides)
	require.NoError(t, err)
	assert.Empty(t, index, "undecodable index fields are skipped")
}

func TestConnectRedis(t *testing.T) {
	server, _ := newTestRedis(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = ConnectRedis(context.Background(), "")
	var cerr *ports.ConfigError
	assert.ErrorAs(t, err, &cerr)

	_, err = ConnectRedis(context.Background(), "://bad")
	assert.ErrorAs(t, err, &cerr)
}
