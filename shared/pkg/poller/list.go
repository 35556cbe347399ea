package poller

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

// ListSource is the part of the gateway a ListPoller needs
type ListSource interface {
	ListJobs(ctx context.Context, opts models.ListOptions) (models.JobList, error)
}

// ListPoller refreshes one page of the job list at a slow interval.
// Pages are served through the coordinator cache, so dashboards sharing a
// coordinator reuse each other's fetches within the TTL.
type ListPoller struct {
	source   ListSource
	coord    *coordinator.Coordinator
	opts     models.ListOptions
	interval time.Duration
	ttl      time.Duration
	clock    clock.WithTicker
	logger   *logging.Logger

	mu      sync.Mutex
	latest  models.JobList
	have    bool
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	hub     fanout.Hub[models.JobList]
}

// NewListPoller creates a list poller for one page of jobs
func NewListPoller(source ListSource, coord *coordinator.Coordinator, opts models.ListOptions, options ...Option) *ListPoller {
	if coord == nil {
		coord = coordinator.New()
	}
	s := newSettings(DefaultListInterval, options)
	return &ListPoller{
		source:   source,
		coord:    coord,
		opts:     opts,
		interval: s.interval,
		ttl:      s.cacheTTL,
		clock:    s.clock,
		logger:   s.logger.WithField("component", "list_poller"),
	}
}

// Start refreshes immediately and then on every tick
func (lp *ListPoller) Start(ctx context.Context) {
	lp.mu.Lock()
	if lp.started || lp.stopped {
		lp.mu.Unlock()
		return
	}
	lp.started = true
	ctx, lp.cancel = context.WithCancel(ctx)
	lp.ctx = ctx
	ticker := lp.clock.NewTicker(lp.interval)
	lp.mu.Unlock()

	go func() {
		defer ticker.Stop()
		_ = lp.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				lp.Stop()
				return
			case <-ticker.C():
				_ = lp.Refresh(ctx)
			}
		}
	}()
}

// Refresh fetches the page now. On failure the last list is kept.
func (lp *ListPoller) Refresh(ctx context.Context) error {
	key := coordinator.JobListKey(lp.opts.Limit, lp.opts.Skip, string(lp.opts.Status))
	gen := lp.coord.Generation(key)
	list, err := coordinator.Cached(ctx, lp.coord, key, lp.ttl, func(ctx context.Context) (models.JobList, error) {
		return lp.source.ListJobs(ctx, lp.opts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		lp.logger.Warn("Job list refresh failed, keeping last list", map[string]interface{}{"error": err.Error()})
		return err
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.stopped {
		return nil
	}
	if lp.coord.Generation(key) != gen {
		// Invalidated while the request was out
		return nil
	}
	lp.latest = list
	lp.have = true
	lp.hub.Publish(list)
	return nil
}

// Latest returns the most recent list and whether one was fetched yet
func (lp *ListPoller) Latest() (models.JobList, bool) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.latest, lp.have
}

// Subscribe returns a latest-value channel of job lists, closed on Stop
func (lp *ListPoller) Subscribe() (<-chan models.JobList, func()) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	var initial *models.JobList
	if lp.have {
		l := lp.latest
		initial = &l
	}
	return lp.hub.Subscribe(initial)
}

// Reset forgets the last list and refreshes right away when running
func (lp *ListPoller) Reset() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.stopped {
		return
	}
	lp.latest = models.JobList{}
	lp.have = false
	if lp.started {
		ctx := lp.ctx
		go func() { _ = lp.Refresh(ctx) }()
	}
}

// Stopped reports whether Stop was called
func (lp *ListPoller) Stopped() bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.stopped
}

// Stop stops refreshing; it is idempotent
func (lp *ListPoller) Stop() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.stopped {
		return
	}
	lp.stopped = true
	if lp.cancel != nil {
		lp.cancel()
	}
	lp.hub.Close()
}
