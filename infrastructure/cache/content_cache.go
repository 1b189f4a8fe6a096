package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Metric names recorded by ContentCache.
const (
	MetricLookups = "cache_lookups_total"
	MetricCorrupt = "cache_corrupt_total"
)

// Producer creates the value for a missing key. The returned entry needs at
// least an ID and a Value; Resolve fills in the collection, hash and
// creation time.
type Producer func(ctx context.Context) (ports.CacheEntry, error)

// Options configures a ContentCache.
type Options struct {
	// Collections whose index is loaded by Open. Defaults to guides and
	// reports.
	Collections []string
	Metrics     ports.MetricsCollector
	Logger      zerolog.Logger
	// Now stamps new entries. Defaults to time.Now.
	Now func() time.Time
}

// ContentCache maps content hashes to stored entries. It keeps an in-memory
// hash index per collection and guarantees that at most one production runs
// per key at a time.
type ContentCache struct {
	store   ports.CacheStore
	metrics ports.MetricsCollector
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	index map[string]map[string]string // collection -> hash -> id

	group singleflight.Group
}

// Open builds a ContentCache over store and loads the index of every
// configured collection. No value is read and no provider is called.
func Open(ctx context.Context, store ports.CacheStore, opts Options) (*ContentCache, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if len(opts.Collections) == 0 {
		opts.Collections = []string{ports.CollectionGuides, ports.CollectionReports}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &ContentCache{
		store:   store,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "content_cache").Logger(),
		now:     opts.Now,
		index:   make(map[string]map[string]string, len(opts.Collections)),
	}

	for _, collection := range opts.Collections {
		entries, err := store.Index(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s index: %w", collection, err)
		}
		byHash := make(map[string]string, len(entries))
		for _, e := range entries {
			byHash[e.Hash] = e.ID
		}
		c.index[collection] = byHash
		c.logger.Debug().Str("collection", collection).Int("entries", len(entries)).Msg("cache index loaded")
	}
	return c, nil
}

// Len returns the number of indexed entries in collection.
func (c *ContentCache) Len(collection string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index[collection])
}

// Lookup returns the entry stored for hash. Missing, unreadable and corrupt
// entries are all reported as a miss.
func (c *ContentCache) Lookup(ctx context.Context, collection, hash string) (ports.CacheEntry, bool) {
	c.mu.RLock()
	id, ok := c.index[collection][hash]
	c.mu.RUnlock()
	if !ok {
		c.count(collection, "miss")
		return ports.CacheEntry{}, false
	}

	entry, ok := c.load(ctx, collection, id)
	if !ok || entry.Hash != hash {
		if ok {
			c.corrupt(collection, id, errors.New("hash mismatch"))
		}
		c.forget(collection, hash)
		c.count(collection, "miss")
		return ports.CacheEntry{}, false
	}

	c.count(collection, "hit")
	return entry, true
}

// Get returns the entry stored under id, bypassing the hash index. It is
// used to fetch a guide by the id handed back from an earlier upload.
func (c *ContentCache) Get(ctx context.Context, collection, id string) (ports.CacheEntry, bool) {
	return c.load(ctx, collection, id)
}

// Store persists entry and indexes it by hash.
func (c *ContentCache) Store(ctx context.Context, entry ports.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now().UTC()
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return err
	}

	c.mu.Lock()
	if c.index[entry.Collection] == nil {
		c.index[entry.Collection] = make(map[string]string)
	}
	c.index[entry.Collection][entry.Hash] = entry.ID
	c.mu.Unlock()
	return nil
}

type resolved struct {
	entry ports.CacheEntry
	hit   bool
}

// Resolve returns the entry for hash, running produce when there is none.
// Concurrent calls for the same key share one production; cached reports
// whether this caller was served without producing anything itself.
//
// A caller waiting on another caller's production stops waiting when its
// own ctx ends. If the producing caller was cancelled or ran out of time, a
// waiter whose context is still live runs the production itself.
func (c *ContentCache) Resolve(ctx context.Context, collection, hash string, produce Producer) (entry ports.CacheEntry, cached bool, err error) {
	key := collection + "/" + hash

	for {
		produced := false
		ch := c.group.DoChan(key, func() (any, error) {
			if e, ok := c.Lookup(ctx, collection, hash); ok {
				return resolved{entry: e, hit: true}, nil
			}

			produced = true
			e, err := produce(ctx)
			if err != nil {
				return nil, err
			}
			e.Collection = collection
			e.Hash = hash
			if err := c.Store(ctx, e); err != nil {
				c.logger.Warn().Err(err).Str("collection", collection).Str("id", e.ID).
					Msg("failed to persist cache entry")
			}
			return resolved{entry: e}, nil
		})

		select {
		case <-ctx.Done():
			return ports.CacheEntry{}, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if !produced && contextEnded(res.Err) && ctx.Err() == nil {
					continue
				}
				return ports.CacheEntry{}, false, res.Err
			}
			r := res.Val.(resolved)
			return r.entry, r.hit || !produced, nil
		}
	}
}

// contextEnded reports whether err came from the producing caller's context
// rather than from the production itself.
func contextEnded(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *ContentCache) load(ctx context.Context, collection, id string) (ports.CacheEntry, bool) {
	entry, err := c.store.Get(ctx, collection, id)
	switch {
	case err == nil:
		return entry, true
	case errors.Is(err, ports.ErrCacheCorrupted):
		c.corrupt(collection, id, err)
	case !errors.Is(err, ports.ErrCacheMiss):
		c.logger.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("cache read failed")
	}
	return ports.CacheEntry{}, false
}

func (c *ContentCache) forget(collection, hash string) {
	c.mu.Lock()
	delete(c.index[collection], hash)
	c.mu.Unlock()
}

func (c *ContentCache) corrupt(collection, id string, err error) {
	c.logger.Warn().Err(err).Str("collection", collection).Str("id", id).
		Msg("corrupt cache entry treated as a miss")
	if c.metrics != nil {
		c.metrics.RecordCounter(MetricCorrupt, 1, map[string]string{"collection": collection})
	}
}

func (c *ContentCache) count(collection, result string) {
	if c.metrics != nil {
		c.metrics.RecordCounter(MetricLookups, 1, map[string]string{"collection": collection, "result": result})
	}
}
