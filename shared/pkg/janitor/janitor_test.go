package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeSweeper struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
}

func (f *fakeSweeper) Sweep(retention time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retention = retention
	return 2
}

func (f *fakeSweeper) SweepLimiters(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepAccumulatesStats(t *testing.T) {
	cache, limiters := &fakeSweeper{}, &fakeSweeper{}
	fc := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	j := New(DefaultConfig(), cache, limiters, fc, nil)

	j.Sweep()
	j.Sweep()

	stats := j.GetStats()
	assert.Equal(t, int64(2), stats.Sweeps)
	assert.Equal(t, int64(4), stats.EntriesRemoved)
	assert.Equal(t, int64(2), stats.LimitersRemoved)
	assert.Equal(t, DefaultConfig().ThrottleRetention, cache.retention)
}

func TestJanitorSweepsOnTick(t *testing.T) {
	cache := &fakeSweeper{}
	fc := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	j := New(DefaultConfig(), cache, nil, fc, nil)

	j.Start(context.Background())
	defer j.Stop()

	fc.Step(time.Minute)
	require.Eventually(t, func() bool { return cache.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDisabledJanitorDoesNothing(t *testing.T) {
	cache := &fakeSweeper{}
	fc := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Enabled = false
	j := New(cfg, cache, nil, fc, nil)

	j.Start(context.Background())
	fc.Step(time.Hour)
	j.Stop()

	assert.Equal(t, 0, cache.count())
	assert.False(t, fc.HasWaiters())
}
