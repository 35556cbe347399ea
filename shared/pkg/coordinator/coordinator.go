// Package coordinator collapses redundant API calls.
//
// Every operation is addressed by a caller-computed key that names the logical request
// (see JobStatusKey). Three independent policies are offered: time-bound caching,
// in-flight deduplication and minimum-interval throttling. Failures are never cached
// and never recorded as successful completions.
package coordinator

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
)

// Coordinator owns the cache, throttle and in-flight tables.
// It is safe for concurrent use; create one per session rather than sharing a global.
type Coordinator struct {
	clock   clock.PassiveClock
	logger  *logging.Logger
	metrics *metrics.Collector

	group singleflight.Group

	mu       sync.Mutex
	cache    map[string]cacheEntry
	lastOK   map[string]time.Time
	inflight map[string]int
	// gens holds the generation of every key touched by an invalidation.
	// Values produced under an older generation are never stored.
	gens  map[string]uint64
	epoch uint64

	// windowChecked runs between the throttle check and entering the slot (tests only)
	windowChecked func()
}

// throttledResult marks a call that found the window closed inside the slot
type throttledResult struct{}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock
func WithClock(c clock.PassiveClock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// New creates a Coordinator
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		clock:    clock.RealClock{},
		logger:   logging.Discard(),
		cache:    make(map[string]cacheEntry),
		lastOK:   make(map[string]time.Time),
		inflight: make(map[string]int),
		gens:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deduped shares one producer invocation between all concurrent callers of key.
// Every caller receives the same value or the same error. The slot is released when
// the call settles, so the next caller starts a fresh invocation.
//
// The producer runs with a context detached from the first caller's cancellation;
// a caller whose ctx ends stops waiting but the shared call keeps running.
func Deduped[T any](ctx context.Context, c *Coordinator, key string, producer func(context.Context) (T, error)) (T, error) {
	v, err := c.do(ctx, key, func(pctx context.Context) (interface{}, error) {
		return producer(pctx)
	})
	return cast[T](key, v, err)
}

// Cached returns the value stored for key while it is live (now < expiresAt).
// Otherwise the producer runs through the dedup slot for key and a successful value is
// stored until now+ttl. A failed producer leaves no entry behind.
func Cached[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key); ok {
		c.metrics.CacheHit()
		return cast[T](key, v, nil)
	}
	c.metrics.CacheMiss()

	v, err := c.do(ctx, key, func(pctx context.Context) (interface{}, error) {
		// Another call may have filled the entry between the lookup and this slot
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		gen := c.Generation(key)
		val, err := producer(pctx)
		if err != nil {
			return val, err
		}
		c.store(key, val, ttl, gen)
		return val, nil
	})
	return cast[T](key, v, err)
}

// Throttled invokes the producer at most once per minInterval for key, measured from
// the last successful completion. Inside the window it returns ok=false without calling
// the producer; that means "no new data, keep what you have" and is not an error.
// Concurrent callers outside the window share one invocation.
func Throttled[T any](ctx context.Context, c *Coordinator, key string, minInterval time.Duration, producer func(context.Context) (T, error)) (value T, ok bool, err error) {
	if c.isThrottled(key, minInterval) {
		c.metrics.Throttled()
		return value, false, nil
	}
	if c.windowChecked != nil {
		c.windowChecked()
	}

	v, err := c.do(ctx, key, func(pctx context.Context) (interface{}, error) {
		// A call that settled between the check above and this slot may have reopened the window
		if c.isThrottled(key, minInterval) {
			return throttledResult{}, nil
		}
		gen := c.Generation(key)
		val, err := producer(pctx)
		if err != nil {
			return val, err
		}
		c.markSuccess(key, gen)
		return val, nil
	})
	if _, throttled := v.(throttledResult); throttled && err == nil {
		c.metrics.Throttled()
		return value, false, nil
	}
	value, err = cast[T](key, v, err)
	return value, true, err
}

// Invalidate drops every cache entry and throttle record whose key matches pattern
// (path.Match syntax, e.g. "job_status_*"). In-flight calls for matching keys are
// detached so the next caller starts a fresh request, and values they resolve with are
// not stored. Keys that do not match are untouched. It returns the number of cache
// entries removed.
func (c *Coordinator) Invalidate(pattern string) int {
	c.mu.Lock()
	c.epoch++

	removed := 0
	for key := range c.cache {
		if matches(pattern, key) {
			delete(c.cache, key)
			c.gens[key] = c.epoch
			removed++
		}
	}
	for key := range c.lastOK {
		if matches(pattern, key) {
			delete(c.lastOK, key)
			c.gens[key] = c.epoch
		}
	}
	var detach []string
	for key := range c.inflight {
		if matches(pattern, key) {
			c.gens[key] = c.epoch
			detach = append(detach, key)
		}
	}
	c.mu.Unlock()

	for _, key := range detach {
		c.group.Forget(key)
	}

	c.metrics.Invalidated(removed)
	c.logger.Debug("Invalidated coordinator keys", map[string]interface{}{
		"pattern":  pattern,
		"removed":  removed,
		"detached": len(detach),
	})
	return removed
}

// Sweep drops expired cache entries and throttle records older than retention.
// Expired entries are never served, so this only bounds memory.
func (c *Coordinator) Sweep(retention time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.cache {
		if !now.Before(entry.expiresAt) {
			delete(c.cache, key)
			removed++
		}
	}
	for key, at := range c.lastOK {
		if now.Sub(at) > retention {
			delete(c.lastOK, key)
		}
	}
	for key := range c.gens {
		_, cached := c.cache[key]
		_, throttled := c.lastOK[key]
		if !cached && !throttled && c.inflight[key] == 0 {
			delete(c.gens, key)
		}
	}
	return removed
}

// Generation returns the invalidation generation of key. A caller that captured it
// before starting a request can compare it afterwards to learn whether the key was
// invalidated while the request was out.
func (c *Coordinator) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// Len returns the number of cache entries, expired ones included
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Coordinator) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	pctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.track(key, 1)
		defer c.track(key, -1)
		return fn(pctx)
	})

	select {
	case res := <-ch:
		c.metrics.DedupCall(res.Shared)
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) track(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key] += delta
	if c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
}

func (c *Coordinator) lookup(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.cache, key)
		return nil, false
	}
	return e.value, true
}

func (c *Coordinator) store(key string, value interface{}, ttl time.Duration, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.cache[key] = cacheEntry{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

func (c *Coordinator) isThrottled(key string, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastOK[key]
	return ok && c.clock.Since(last) < minInterval
}

func (c *Coordinator) markSuccess(key string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.lastOK[key] = c.clock.Now()
}

func matches(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	if err != nil {
		return pattern == key
	}
	return ok
}

func cast[T any](key string, v interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("coordinator: key %q holds %T, not %T", key, v, zero)
	}
	return t, nil
}
