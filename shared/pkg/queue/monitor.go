// Package queue keeps an aggregate view of the job queue fresh, independent of any single job.
package queue

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/coordinator"
	"github.com/psantana5/gentrack/pkg/fanout"
	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/models"
)

const (
	// DefaultInterval is how often the monitor refreshes
	DefaultInterval = 2 * time.Second
	// DefaultMinInterval is the throttle window of the queue_status key
	DefaultMinInterval = time.Second
)

// Source is the part of the gateway the monitor needs
type Source interface {
	QueueStatus(ctx context.Context) (models.QueueSnapshot, error)
}

// Config holds monitor settings
type Config struct {
	Interval    time.Duration
	MinInterval time.Duration
}

// DefaultConfig returns the default monitor settings
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		MinInterval: DefaultMinInterval,
	}
}

// Monitor refreshes the QueueSnapshot through the coordinator's throttle.
// A throttled refresh or a failed one keeps the last known snapshot.
type Monitor struct {
	source Source
	coord  *coordinator.Coordinator
	config Config
	clock  clock.WithTicker
	logger *logging.Logger

	mu      sync.Mutex
	current models.QueueSnapshot
	have    bool
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	hub     fanout.Hub[models.QueueSnapshot]
}

// NewMonitor creates a queue monitor. A nil clock means the real clock.
func NewMonitor(source Source, coord *coordinator.Coordinator, config Config, clk clock.WithTicker, logger *logging.Logger) *Monitor {
	if coord == nil {
		coord = coordinator.New()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Monitor{
		source: source,
		coord:  coord,
		config: config,
		clock:  clk,
		logger: logger.WithField("component", "queue_monitor"),
	}
}

// Start refreshes immediately and then on every interval. It is idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.ctx = ctx
	ticker := m.clock.NewTicker(m.config.Interval)
	m.mu.Unlock()

	m.logger.Debug("Queue monitor started", map[string]interface{}{"interval": m.config.Interval.String()})

	go func() {
		defer ticker.Stop()
		m.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				m.Stop()
				return
			case <-ticker.C():
				m.refresh(ctx)
			}
		}
	}()
}

func (m *Monitor) refresh(ctx context.Context) {
	if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("Queue status refresh failed, keeping last snapshot", map[string]interface{}{"error": err.Error()})
	}
}

// Refresh asks for a new snapshot now. It reports whether new data arrived;
// false with a nil error means the call was throttled.
func (m *Monitor) Refresh(ctx context.Context) (bool, error) {
	gen := m.coord.Generation(coordinator.QueueStatusKey)
	snap, ok, err := coordinator.Throttled(ctx, m.coord, coordinator.QueueStatusKey, m.config.MinInterval,
		func(ctx context.Context) (models.QueueSnapshot, error) {
			return m.source.QueueStatus(ctx)
		})
	if err != nil || !ok {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false, nil
	}
	if m.coord.Generation(coordinator.QueueStatusKey) != gen {
		// Invalidated while the request was out; the snapshot belongs to the old account
		return false, nil
	}
	m.current = snap
	m.have = true
	m.hub.Publish(snap)
	return true, nil
}

// Snapshot returns the last known snapshot and whether one exists
func (m *Monitor) Snapshot() (models.QueueSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.have
}

// Subscribe returns a latest-value channel of snapshots, closed on Stop
func (m *Monitor) Subscribe() (<-chan models.QueueSnapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var initial *models.QueueSnapshot
	if m.have {
		s := m.current
		initial = &s
	}
	return m.hub.Subscribe(initial)
}

// Reset forgets the last snapshot and refreshes right away when running.
// Callers invalidate the queue_status key first so the refresh is not throttled.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.current = models.QueueSnapshot{}
	m.have = false
	if m.started {
		go m.refresh(m.ctx)
	}
}

// Stop stops refreshing; it is idempotent
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	m.hub.Close()
}
