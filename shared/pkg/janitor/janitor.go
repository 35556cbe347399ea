// Package janitor periodically drops state nobody will read again:
// expired coordinator entries and rate limiters of idle accounts.
package janitor

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/logging"
)

// Config defines retention policies and the sweep interval
type Config struct {
	Enabled bool
	// Interval between sweeps
	Interval time.Duration
	// ThrottleRetention is how long throttle records are kept after their last success
	ThrottleRetention time.Duration
	// LimiterMaxAge is how long an account's rate limiter survives without traffic
	LimiterMaxAge time.Duration
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Interval:          time.Minute,
		ThrottleRetention: 10 * time.Minute,
		LimiterMaxAge:     30 * time.Minute,
	}
}

// CacheSweeper drops expired cache entries; implemented by coordinator.Coordinator
type CacheSweeper interface {
	Sweep(retention time.Duration) int
}

// LimiterSweeper drops idle rate limiters; implemented by gateway.Client
type LimiterSweeper interface {
	SweepLimiters(maxAge time.Duration) int
}

// Stats tracks sweep operations
type Stats struct {
	LastSweepTime     time.Time
	LastSweepDuration time.Duration
	Sweeps            int64
	EntriesRemoved    int64
	LimitersRemoved   int64
}

// Janitor runs the periodic sweep
type Janitor struct {
	config   Config
	cache    CacheSweeper
	limiters LimiterSweeper
	clock    clock.WithTicker
	logger   *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stats   Stats
	started bool
}

// New creates a janitor. Either sweeper may be nil.
func New(config Config, cache CacheSweeper, limiters LimiterSweeper, clk clock.WithTicker, logger *logging.Logger) *Janitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Janitor{
		config:   config,
		cache:    cache,
		limiters: limiters,
		clock:    clk,
		logger:   logger.WithField("component", "janitor"),
	}
}

// Start begins sweeping on every interval
func (j *Janitor) Start(ctx context.Context) {
	if !j.config.Enabled {
		j.logger.Debug("Janitor disabled")
		return
	}

	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	j.started = true
	ctx, j.cancel = context.WithCancel(ctx)
	ticker := j.clock.NewTicker(j.config.Interval)
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				j.Sweep()
			}
		}
	}()
}

// Stop stops sweeping and waits for a running sweep to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
}

// Sweep runs one sweep now
func (j *Janitor) Sweep() {
	start := j.clock.Now()
	entries, limiters := 0, 0
	if j.cache != nil {
		entries = j.cache.Sweep(j.config.ThrottleRetention)
	}
	if j.limiters != nil {
		limiters = j.limiters.SweepLimiters(j.config.LimiterMaxAge)
	}

	j.mu.Lock()
	j.stats.LastSweepTime = start
	j.stats.LastSweepDuration = j.clock.Since(start)
	j.stats.Sweeps++
	j.stats.EntriesRemoved += int64(entries)
	j.stats.LimitersRemoved += int64(limiters)
	j.mu.Unlock()

	if entries > 0 || limiters > 0 {
		j.logger.Debug("Sweep completed", map[string]interface{}{
			"entries_removed":  entries,
			"limiters_removed": limiters,
		})
	}
}

// GetStats returns sweep statistics
func (j *Janitor) GetStats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}
