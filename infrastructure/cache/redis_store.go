package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// DefaultRedisPrefix namespaces every key the RedisStore writes.
const DefaultRedisPrefix = "marker"

// RedisStore persists entries in Redis. Values live at
// {prefix}:{collection}:{id}; each collection keeps a hash at
// {prefix}:{collection}:index mapping id to its IndexEntry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ ports.CacheStore = (*RedisStore)(nil)

// ConnectRedis parses url, connects and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ports.NewConfigError("cache.redis_url", errors.New("redis url must not be empty"))
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, ports.NewConfigError("cache.redis_url", fmt.Errorf("failed to parse redis url: %w", err))
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) valueKey(collection, id string) string {
	return s.prefix + ":" + collection + ":" + id
}

func (s *RedisStore) indexKey(collection string) string {
	return s.prefix + ":" + collection + ":index"
}

// Get fetches and decodes one entry.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (ports.CacheEntry, error) {
	key := s.valueKey(collection, id)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", ports.ErrCacheMiss)
	}
	if err != nil {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", err)
	}

	var entry ports.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", fmt.Errorf("%w: %v", ports.ErrCacheCorrupted, err))
	}
	if entry.ID != id || entry.Hash == "" {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", fmt.Errorf("%w: header mismatch", ports.ErrCacheCorrupted))
	}
	return entry, nil
}

// Put writes the value and its index field in one transaction.
func (s *RedisStore) Put(ctx context.Context, entry ports.CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	key := s.valueKey(entry.Collection, entry.ID)

	data, err := json.Marshal(entry)
	if err != nil {
		return ports.NewCacheError(key, "put", err)
	}
	meta, err := json.Marshal(ports.IndexEntry{ID: entry.ID, Hash: entry.Hash, CreatedAt: entry.CreatedAt})
	if err != nil {
		return ports.NewCacheError(key, "put", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.HSet(ctx, s.indexKey(entry.Collection), entry.ID, meta)
		return nil
	})
	if err != nil {
		return ports.NewCacheError(key, "put", err)
	}
	return nil
}

// Index reads the collection's index hash. Fields that do not decode are
// skipped; the matching entry is simply not served from cache.
func (s *RedisStore) Index(ctx context.Context, collection string) ([]ports.IndexEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, ports.NewCacheError(s.indexKey(collection), "index", err)
	}

	out := make([]ports.IndexEntry, 0, len(fields))
	for id, raw := range fields {
		var e ports.IndexEntry
		if json.Unmarshal([]byte(raw), &e) != nil || e.ID != id || e.Hash == "" {
			continue
		}
		out = append(out, e)
	}
	sortIndex(out)
	return out, nil
}
