// Package cache keeps decoded pre-recorded announcement clips in memory so
// repeated references play without refetching.
//
// Entries are keyed by reference (URL or path). Concurrent requests for the
// same missing reference share one load. A size cap evicts least recently
// used clips, and [Cache.Run] empties the whole cache periodically so that
// updated recordings on the server are picked up.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/callout/pkg/audio"
)

const (
	defaultEvictInterval  = time.Hour
	defaultLoadTimeout    = 30 * time.Second
	defaultPreloadWorkers = 4
)

// Loader fetches and decodes the clip behind a reference.
type Loader interface {
	Load(ctx context.Context, ref string) (audio.Clip, error)
}

// LoaderFunc adapts a function to [Loader].
type LoaderFunc func(ctx context.Context, ref string) (audio.Clip, error)

// Load implements [Loader].
func (f LoaderFunc) Load(ctx context.Context, ref string) (audio.Clip, error) { return f(ctx, ref) }

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Loads      int64 `json:"loads"`
	LoadErrors int64 `json:"loadErrors"`
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
}

// PreloadResult reports how many references were loaded by [Cache.Preload].
type PreloadResult struct {
	Successful int `json:"successful"`
	Total      int `json:"total"`
}

// Option configures a [Cache].
type Option func(*Cache)

// WithMaxBytes caps the total PCM size held. Zero means unbounded.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) { c.maxBytes = n }
}

// WithEvictInterval sets the period of the full sweep done by [Cache.Run].
func WithEvictInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.evictInterval = d
		}
	}
}

// WithLoadTimeout bounds a single load.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithPreloadWorkers limits concurrent loads during [Cache.Preload].
func WithPreloadWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.preloadWorkers = n
		}
	}
}

// WithLookupHook registers a callback invoked on every [Cache.Get] with
// whether the lookup was a hit.
func WithLookupHook(fn func(hit bool)) Option {
	return func(c *Cache) { c.onLookup = fn }
}

type entry struct {
	ref  string
	clip audio.Clip
}

// Cache is an LRU clip cache in front of a [Loader]. It is safe for
// concurrent use.
type Cache struct {
	loader         Loader
	maxBytes       int64
	evictInterval  time.Duration
	loadTimeout    time.Duration
	preloadWorkers int
	onLookup       func(hit bool)

	flight singleflight.Group

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	size  int64
	stats Stats
}

// New creates a cache backed by loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:         loader,
		evictInterval:  defaultEvictInterval,
		loadTimeout:    defaultLoadTimeout,
		preloadWorkers: defaultPreloadWorkers,
		items:          make(map[string]*list.Element),
		lru:            list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the clip for ref, loading it on a miss. Concurrent misses for
// the same ref share a single load; a caller whose ctx ends stops waiting
// without aborting the shared load.
func (c *Cache) Get(ctx context.Context, ref string) (audio.Clip, error) {
	if ref == "" {
		return audio.Clip{}, fmt.Errorf("cache: empty reference")
	}
	if clip, ok := c.lookup(ref); ok {
		return clip, nil
	}

	ch := c.flight.DoChan(ref, func() (any, error) {
		// A load that finished between the miss above and joining the
		// flight has already cached the clip.
		if clip, ok := c.peek(ref); ok {
			return clip, nil
		}
		return c.load(context.WithoutCancel(ctx), ref)
	})
	select {
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return audio.Clip{}, res.Err
		}
		return res.Val.(audio.Clip), nil
	}
}

// Contains reports whether ref is cached without touching recency or stats.
func (c *Cache) Contains(ref string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[ref]
	return ok
}

// peek returns the cached clip for ref without touching recency or stats.
func (c *Cache) peek(ref string) (audio.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[ref]
	if !ok {
		return audio.Clip{}, false
	}
	return el.Value.(*entry).clip, true
}

func (c *Cache) lookup(ref string) (audio.Clip, bool) {
	c.mu.Lock()
	el, ok := c.items[ref]
	if ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if c.onLookup != nil {
		c.onLookup(ok)
	}
	if !ok {
		return audio.Clip{}, false
	}
	return el.Value.(*entry).clip, true
}

func (c *Cache) load(ctx context.Context, ref string) (audio.Clip, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	start := time.Now()
	clip, err := c.loader.Load(ctx, ref)
	c.mu.Lock()
	c.stats.Loads++
	if err != nil {
		c.stats.LoadErrors++
	}
	c.mu.Unlock()
	if err != nil {
		return audio.Clip{}, fmt.Errorf("cache: load %q: %w", ref, err)
	}

	c.put(ref, clip)
	slog.Debug("audio cached",
		"ref", ref,
		"size", humanize.Bytes(uint64(clip.Size())),
		"duration", clip.Duration(),
		"took", time.Since(start),
	)
	return clip, nil
}

func (c *Cache) put(ref string, clip audio.Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[ref]; ok {
		old := el.Value.(*entry)
		c.size -= int64(old.clip.Size())
		old.clip = clip
		c.size += int64(clip.Size())
		c.lru.MoveToFront(el)
	} else {
		c.items[ref] = c.lru.PushFront(&entry{ref: ref, clip: clip})
		c.size += int64(clip.Size())
	}

	for c.maxBytes > 0 && c.size > c.maxBytes && c.lru.Len() > 1 {
		back := c.lru.Back()
		e := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.items, e.ref)
		c.size -= int64(e.clip.Size())
		slog.Debug("audio evicted", "ref", e.ref, "size", humanize.Bytes(uint64(e.clip.Size())))
	}
}

// EvictAll empties the cache and returns the number of entries removed.
func (c *Cache) EvictAll() int {
	c.mu.Lock()
	n, size := len(c.items), c.size
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
	c.mu.Unlock()

	if n > 0 {
		slog.Info("audio cache cleared", "entries", n, "freed", humanize.Bytes(uint64(size)))
	}
	return n
}

// Run empties the cache every evict interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictAll()
		}
	}
}

// Preload loads every ref not already cached, a few at a time. Failures are
// logged and counted; they never abort the rest of the batch. Refs already
// cached count as successful.
func (c *Cache) Preload(ctx context.Context, refs []string) PreloadResult {
	res := PreloadResult{Total: len(refs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.preloadWorkers)
	for _, ref := range refs {
		g.Go(func() error {
			if !c.Contains(ref) {
				if _, err := c.Get(gctx, ref); err != nil {
					slog.Warn("audio preload failed", "ref", ref, "err", err)
					return nil
				}
			}
			mu.Lock()
			res.Successful++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("audio preload finished", "successful", res.Successful, "total", res.Total)
	return res
}

// Len returns the number of cached clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.items)
	s.Bytes = c.size
	return s
}
