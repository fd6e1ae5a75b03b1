// Package cache provides a bounded LRU cache for rendered page bitmaps.
//
// Entries are evicted least-recently-accessed first until both the item
// ceiling and the byte ceiling hold. Evicted entries may be handed to an
// Overflow (typically a disk store) and are transparently promoted back into
// memory on a later miss.
package cache

import (
	"container/list"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/FocuswithJustin/PageDesk/internal/logging"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)

	// Put stores a value in the cache.
	Put(key K, value V)

	// Remove removes a value from the cache.
	Remove(key K)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int

	// Stats returns cache statistics.
	Stats() Stats
}

// Overflow is a secondary store for entries evicted from memory.
type Overflow[K comparable, V any] interface {
	Store(key K, value V) error
	Load(key K) (V, bool, error)
	Remove(key K) error
	Clear() error
}

// Event identifies the outcome of a lookup.
type Event int

const (
	// EventMiss is reported when neither memory nor overflow hold the key.
	EventMiss Event = iota
	// EventHit is reported for an in-memory hit.
	EventHit
	// EventOverflowHit is reported when the value was promoted from overflow.
	EventOverflowHit
)

func (e Event) String() string {
	switch e {
	case EventHit:
		return "hit"
	case EventOverflowHit:
		return "overflow_hit"
	default:
		return "miss"
	}
}

// Stats contains cache statistics.
type Stats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	OverflowHits   int64
	OverflowWrites int64
	OverflowErrors int64
	Size           int
	MaxSize        int
	TotalBytes     int64
	MaxBytes       int64
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// MaxBytes is the maximum total byte size of entries (0 = unlimited).
	MaxBytes int64

	// OnEvict is called when an entry is evicted to satisfy a ceiling.
	OnEvict func(key, value interface{})
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:  64,
		MaxBytes: 256 << 20,
	}
}

// entry represents a cache entry.
type entry[K comparable, V any] struct {
	key          K
	value        V
	size         int64
	insertedAt   time.Time
	lastAccessed time.Time
}

// Option configures a BoundedCache.
type Option[K comparable, V any] func(*BoundedCache[K, V])

// WithOverflow attaches a secondary store for evicted entries.
func WithOverflow[K comparable, V any](o Overflow[K, V]) Option[K, V] {
	return func(c *BoundedCache[K, V]) { c.overflow = o }
}

// WithObserver registers a callback for hit and miss events.
// The callback runs outside the cache lock.
func WithObserver[K comparable, V any](fn func(key K, ev Event)) Option[K, V] {
	return func(c *BoundedCache[K, V]) { c.observer = fn }
}

// WithClock replaces the wall clock used for entry timestamps.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *BoundedCache[K, V]) { c.now = now }
}

// BoundedCache is a thread-safe LRU cache with entry count and byte size
// limits. The eviction list is kept in access order, so the back element is
// always the least recently accessed entry; entries never accessed since
// insertion are ordered by insertion.
type BoundedCache[K comparable, V any] struct {
	mu        sync.RWMutex
	config    Config
	sizeFunc  func(V) int64
	entries   map[K]*list.Element
	evictList *list.List
	bytes     int64
	stats     Stats

	// epoch is bumped by Clear so that spills started before it are undone.
	epoch uint64

	overflow Overflow[K, V]
	observer func(K, Event)
	now      func() time.Time
}

// NewBoundedCache creates a new cache with both entry count and byte size limits.
func NewBoundedCache[K comparable, V any](config Config, sizeFunc func(V) int64, opts ...Option[K, V]) *BoundedCache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	if config.MaxBytes < 0 {
		config.MaxBytes = 0
	}
	if sizeFunc == nil {
		sizeFunc = func(V) int64 { return 0 }
	}
	c := &BoundedCache[K, V]{
		config:    config,
		sizeFunc:  sizeFunc,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. A memory miss reads the overflow
// store before reporting a miss. The overflow is read without holding the
// cache lock.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	if v, ok := c.touchLocked(key); ok {
		c.mu.Unlock()
		c.notify(key, EventHit)
		return v, true
	}
	if c.overflow == nil {
		c.stats.Misses++
		c.mu.Unlock()
		c.notify(key, EventMiss)
		var zero V
		return zero, false
	}
	c.mu.Unlock()

	value, ok, err := c.overflow.Load(key)
	if err != nil {
		logging.CacheEvent("overflow_read_failed", fmt.Sprint(key), "error", err.Error())
	}

	c.mu.Lock()
	if v, hit := c.touchLocked(key); hit {
		// Inserted by another caller while the overflow was read.
		c.mu.Unlock()
		c.notify(key, EventHit)
		return v, true
	}
	if !ok || err != nil {
		c.stats.Misses++
		c.mu.Unlock()
		c.notify(key, EventMiss)
		var zero V
		return zero, false
	}
	c.stats.OverflowHits++
	c.stats.Hits++
	evicted := c.insert(key, value)
	epoch := c.epoch
	c.mu.Unlock()

	c.spill(evicted, epoch)
	c.notify(key, EventOverflowHit)
	return value, true
}

// touchLocked returns the in-memory value for key and marks it as accessed.
// Must be called with c.mu held.
func (c *BoundedCache[K, V]) touchLocked(key K) (V, bool) {
	ent, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := ent.Value.(*entry[K, V])
	e.lastAccessed = c.now()
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

// Contains reports whether key is held in memory without touching its
// access time or the statistics.
func (c *BoundedCache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Put stores a value in the cache, evicting least recently accessed entries
// until both ceilings are satisfied. A value larger than MaxBytes on its own
// is not cached. Evicted entries are written to the overflow store after the
// cache lock is released.
func (c *BoundedCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	evicted := c.insert(key, value)
	epoch := c.epoch
	c.mu.Unlock()
	c.spill(evicted, epoch)
}

// insert stores value and returns the entries evicted to make room.
// Must be called with c.mu held.
func (c *BoundedCache[K, V]) insert(key K, value V) []*entry[K, V] {
	if ent, ok := c.entries[key]; ok {
		c.unlink(ent)
	}

	size := c.sizeFunc(value)
	if c.config.MaxBytes > 0 && size > c.config.MaxBytes {
		logging.CacheEvent("too_large", fmt.Sprint(key), "bytes", size, "max_bytes", c.config.MaxBytes)
		return nil
	}

	var evicted []*entry[K, V]
	for c.evictList.Len() > 0 && c.overCeiling(size) {
		evicted = append(evicted, c.evictOldest())
	}

	now := c.now()
	e := &entry[K, V]{
		key:          key,
		value:        value,
		size:         size,
		insertedAt:   now,
		lastAccessed: now,
	}
	c.entries[key] = c.evictList.PushFront(e)
	c.bytes += size
	return evicted
}

func (c *BoundedCache[K, V]) overCeiling(incoming int64) bool {
	if c.config.MaxSize > 0 && c.evictList.Len()+1 > c.config.MaxSize {
		return true
	}
	return c.config.MaxBytes > 0 && c.bytes+incoming > c.config.MaxBytes
}

// Remove removes a value from memory and from the overflow store.
func (c *BoundedCache[K, V]) Remove(key K) {
	c.mu.Lock()
	if ent, ok := c.entries[key]; ok {
		c.unlink(ent)
	}
	c.mu.Unlock()

	if c.overflow != nil {
		if err := c.overflow.Remove(key); err != nil {
			logging.CacheEvent("overflow_remove_failed", fmt.Sprint(key), "error", err.Error())
		}
	}
}

// Clear removes all entries from memory and from the overflow store.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
	c.bytes = 0
	c.epoch++
	c.mu.Unlock()

	if c.overflow != nil {
		if err := c.overflow.Clear(); err != nil {
			logging.CacheEvent("overflow_clear_failed", "", "error", err.Error())
		}
	}
}

// Len returns the number of entries held in memory.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictList.Len()
}

// Bytes returns the total byte size of entries held in memory.
func (c *BoundedCache[K, V]) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Stats returns cache statistics.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	s.TotalBytes = c.bytes
	s.MaxBytes = c.config.MaxBytes
	return s
}

// Keys returns the in-memory keys from most to least recently accessed.
func (c *BoundedCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, c.evictList.Len())
	for ent := c.evictList.Front(); ent != nil; ent = ent.Next() {
		keys = append(keys, ent.Value.(*entry[K, V]).key)
	}
	return keys
}

// evictOldest unlinks the least recently accessed entry and returns it.
// Must be called with c.mu held and a non-empty list.
func (c *BoundedCache[K, V]) evictOldest() *entry[K, V] {
	ent := c.evictList.Back()
	e := ent.Value.(*entry[K, V])
	c.unlink(ent)
	c.stats.Evictions++
	logging.CacheEvent("evict", fmt.Sprint(e.key), "bytes", e.size, "age_ms", c.now().Sub(e.insertedAt).Milliseconds())
	return e
}

// spill hands evicted entries to the overflow store and the OnEvict hook.
// It must be called without c.mu held. A spill that finishes after a Clear
// is removed again.
func (c *BoundedCache[K, V]) spill(evicted []*entry[K, V], epoch uint64) {
	for _, e := range evicted {
		if c.overflow != nil {
			err := c.overflow.Store(e.key, e.value)
			c.mu.Lock()
			stale := c.epoch != epoch
			if err != nil {
				c.stats.OverflowErrors++
			} else {
				c.stats.OverflowWrites++
			}
			c.mu.Unlock()
			switch {
			case err != nil:
				logging.CacheWriteFailed(fmt.Sprint(e.key), err)
			case stale:
				if rerr := c.overflow.Remove(e.key); rerr != nil {
					logging.CacheEvent("overflow_remove_failed", fmt.Sprint(e.key), "error", rerr.Error())
				}
			}
		}
		if c.config.OnEvict != nil {
			c.config.OnEvict(e.key, e.value)
		}
	}
}

// unlink removes an element from the cache without eviction side effects.
func (c *BoundedCache[K, V]) unlink(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)
	c.bytes -= e.size
}

func (c *BoundedCache[K, V]) notify(key K, ev Event) {
	if c.observer != nil {
		c.observer(key, ev)
	}
}

// BitmapBytes returns the in-memory size of an RGBA bitmap.
func BitmapBytes(img *image.RGBA) int64 {
	if img == nil {
		return 0
	}
	return int64(len(img.Pix))
}

// NewBitmapCache creates a cache of RGBA bitmaps sized by pixel buffer length.
func NewBitmapCache[K comparable](config Config, opts ...Option[K, *image.RGBA]) *BoundedCache[K, *image.RGBA] {
	return NewBoundedCache[K, *image.RGBA](config, BitmapBytes, opts...)
}

var _ Cache[string, *image.RGBA] = (*BoundedCache[string, *image.RGBA])(nil)
