// Package cache memoizes generation results for a bounded time so identical
// requests do not re-invoke a paid model call.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Defaults observed across generation call sites.
const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 1024
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Observer receives cache events. Implementations must be safe for
// concurrent use.
type Observer interface {
	CacheHit(namespace string)
	CacheMiss(namespace string)
	CacheEvicted(reason string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)     {}
func (nopObserver) CacheMiss(string)    {}
func (nopObserver) CacheEvicted(string) {}

// ProduceFunc computes a fresh value on a cache miss. Errors are returned to
// the caller and never cached.
type ProduceFunc func(ctx context.Context) (any, error)

// entry is immutable once stored; Set replaces it.
type entry struct {
	key      string
	value    any
	storedAt time.Time
}

// Cache is a process-local, time-bounded memo store with least-recently-used
// eviction. Concurrent misses for the same key share one produce call.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	clock      Clock
	observer   Observer

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front is most recently used

	flights singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long entries stay valid. Non-positive values keep the
// default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of entries. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxEntries = n
		}
	}
}

// WithClock replaces the wall clock (for tests).
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithObserver registers a receiver for hit/miss/eviction events.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Cache with a 24h TTL and a 1024 entry bound unless options
// say otherwise.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		clock:      realClock{},
		observer:   nopObserver{},
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key. Entries older than the TTL are
// treated as absent and dropped.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.live(e) {
		c.removeElement(el)
		c.observer.CacheEvicted("expired")
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{key: key, value: value, storedAt: c.clock.Now()}
	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(e)

	for c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		c.removeElement(c.lru.Back())
		c.observer.CacheEvicted("capacity")
	}
}

// Delete removes the entry under key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Len reports the number of stored entries, expired ones included until
// they are swept or looked up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !c.live(el.Value.(*entry)) {
			c.removeElement(el)
			c.observer.CacheEvicted("expired")
			removed++
		}
		el = prev
	}
	return removed
}

// flightResult carries a value out of a shared flight together with whether
// it came from the cache.
type flightResult struct {
	value any
	hit   bool
}

// Wrap returns the cached value for (namespace, payload) or calls produce and
// caches its result. With force set the lookup is skipped and produce always
// runs; the stored entry is only replaced when produce succeeds. The boolean
// result reports a cache hit.
func (c *Cache) Wrap(ctx context.Context, namespace string, payload any, force bool, produce ProduceFunc) (any, bool, error) {
	key, err := KeyFor(namespace, payload)
	if err != nil {
		return nil, false, err
	}

	if !force {
		if v, ok := c.Get(key); ok {
			c.observer.CacheHit(namespace)
			return v, true, nil
		}
	}

	// Forced calls never join a regular flight: they must not return a value
	// produced before the caller asked for a fresh one.
	flightKey := key
	if force {
		flightKey = "force\x00" + key
	}

	res, err, _ := c.flights.Do(flightKey, func() (any, error) {
		if !force {
			if v, ok := c.Get(key); ok {
				return flightResult{value: v, hit: true}, nil
			}
		}
		v, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return flightResult{value: v}, nil
	})
	if err != nil {
		c.observer.CacheMiss(namespace)
		return nil, false, err
	}
	fr := res.(flightResult)
	if fr.hit {
		c.observer.CacheHit(namespace)
	} else {
		c.observer.CacheMiss(namespace)
	}
	return fr.value, fr.hit, nil
}

// Do is the typed form of Wrap.
func Do[T any](ctx context.Context, c *Cache, namespace string, payload any, force bool, produce func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	v, hit, err := c.Wrap(ctx, namespace, payload, force, func(ctx context.Context) (any, error) {
		t, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("cache entry for %s holds %T, want %T", namespace, v, zero)
	}
	return t, hit, nil
}

func (c *Cache) live(e *entry) bool {
	return c.clock.Now().Sub(e.storedAt) < c.ttl
}

func (c *Cache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}
