// Package matchcache holds short-lived per-match chase context (target, venue,
// date, competition) so aggregation and attribution do not re-derive it for
// every delivery. A Cache is created by the caller and passed down; there is no
// package-level state.
package matchcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// Loader derives match context from the store.
type Loader interface {
	MatchMeta(ctx context.Context, matchID string) (model.MatchMeta, error)
}

type entry struct {
	meta     model.MatchMeta
	loadedAt time.Time
}

// Cache is safe for concurrent use. Concurrent misses for the same match share
// one load; values are deterministic, so a redundant Prime racing a load is harmless.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	hits, misses int64
}

// New returns an empty cache. ttl <= 0 keeps entries for the cache's lifetime.
func New(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the context for matchID, loading it on a miss. Load errors are
// not cached.
func (c *Cache) Get(ctx context.Context, matchID string) (model.MatchMeta, error) {
	if meta, ok := c.lookup(matchID); ok {
		return meta, nil
	}

	v, err, _ := c.group.Do(matchID, func() (any, error) {
		if meta, ok := c.lookup(matchID); ok {
			return meta, nil
		}
		meta, err := c.loader.MatchMeta(ctx, matchID)
		if err != nil {
			return model.MatchMeta{}, err
		}
		c.store(meta)
		return meta, nil
	})
	if err != nil {
		return model.MatchMeta{}, err
	}
	return v.(model.MatchMeta), nil
}

// Prime inserts already-derived context, e.g. from a bulk aggregation query.
func (c *Cache) Prime(metas ...model.MatchMeta) {
	for _, m := range metas {
		c.store(m)
	}
}

// invalidate drops one match.
func (c *Cache) invalidate(matchID string) {
	c.mu.Lock()
	delete(c.entries, matchID)
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) lookup(matchID string) (model.MatchMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[matchID]
	if ok && c.ttl > 0 && c.now().Sub(e.loadedAt) > c.ttl {
		delete(c.entries, matchID)
		ok = false
	}
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e.meta, ok
}

func (c *Cache) store(meta model.MatchMeta) {
	c.mu.Lock()
	c.entries[meta.MatchID] = entry{meta: meta, loadedAt: c.now()}
	c.mu.Unlock()
}
