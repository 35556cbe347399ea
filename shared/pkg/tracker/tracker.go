// Package tracker lets any number of observers watch jobs and the queue
// while sharing one poller per job and one queue monitor per process.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/coordinator"
	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/janitor"
	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
	"github.com/psantana5/gentrack/pkg/queue"
	"github.com/psantana5/gentrack/pkg/tenancy"
)

// Config holds tracker settings
type Config struct {
	PollInterval time.Duration
	Queue        queue.Config
	Janitor      janitor.Config
}

// DefaultConfig returns the default tracker settings
func DefaultConfig() Config {
	return Config{
		PollInterval: poller.DefaultInterval,
		Queue:        queue.DefaultConfig(),
		Janitor:      janitor.DefaultConfig(),
	}
}

type watched struct {
	poller   *poller.Poller
	watchers int
}

// Tracker is the registry of shared pollers keyed by job id
type Tracker struct {
	client  *gateway.Client
	session *tenancy.Session
	coord   *coordinator.Coordinator
	config  Config
	clock   clock.WithTicker
	logger  *logging.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*watched
	domains map[string]models.Domain
	closed  bool
	queue   *queue.Monitor
	lists   []*poller.ListPoller
	janitor *janitor.Janitor
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock sets the clock shared by the coordinator, pollers and queue monitor
func WithClock(c clock.WithTicker) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a tracker on top of client. Switching the account of the
// client's session invalidates every cached job, list and queue value.
func New(client *gateway.Client, config Config, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		client:  client,
		session: client.Session(),
		config:  config,
		clock:   clock.RealClock{},
		logger:  logging.Discard(),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*watched),
		domains: make(map[string]models.Domain),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.coord = coordinator.New(
		coordinator.WithClock(t.clock),
		coordinator.WithLogger(t.logger),
		coordinator.WithMetrics(t.metrics),
	)
	t.session.OnSwitch(t.onAccountSwitch)
	t.janitor = janitor.New(config.Janitor, t.coord, client, t.clock, t.logger)
	t.janitor.Start(t.ctx)
	return t
}

// Coordinator returns the coordinator shared by all pollers
func (t *Tracker) Coordinator() *coordinator.Coordinator {
	return t.coord
}

// Watch subscribes to a job. The first watcher starts its poller; later
// watchers share it. The returned func unsubscribes and is idempotent; the
// poller stops when its last watcher leaves.
func (t *Tracker) Watch(jobID string) (<-chan poller.State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.jobs[jobID]
	if !ok {
		if t.closed {
			return closedState(), func() {}
		}
		w = &watched{poller: t.newPoller(jobID)}
		t.jobs[jobID] = w
		w.poller.Start(t.ctx)
		t.logger.Debug("Started shared poller", map[string]interface{}{"job_id": jobID})
	}
	w.watchers++
	updates, unsubscribe := w.poller.Subscribe()

	var once sync.Once
	return updates, func() {
		once.Do(func() {
			unsubscribe()
			t.release(jobID, w)
		})
	}
}

func (t *Tracker) newPoller(jobID string) *poller.Poller {
	domain := t.domains[jobID]
	if domain == "" {
		domain = models.DomainVideo
	}
	return poller.New(jobID, t.client, t.coord,
		poller.WithInterval(t.config.PollInterval),
		poller.WithDomain(domain),
		poller.WithClock(t.clock),
		poller.WithLogger(t.logger),
		poller.WithMetrics(t.metrics),
	)
}

func (t *Tracker) release(jobID string, w *watched) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w.watchers--
	if w.watchers > 0 {
		return
	}
	w.poller.Stop()
	if t.jobs[jobID] == w {
		delete(t.jobs, jobID)
	}
	t.logger.Debug("Released poller", map[string]interface{}{"job_id": jobID})
}

// Watchers returns how many observers a job has
func (t *Tracker) Watchers(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.jobs[jobID]; ok {
		return w.watchers
	}
	return 0
}

// State returns the latest state of a watched job
func (t *Tracker) State(jobID string) (poller.State, bool) {
	t.mu.Lock()
	w, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return poller.State{}, false
	}
	return w.poller.State(), true
}

// Submit submits a job and returns the server-assigned id
func (t *Tracker) Submit(ctx context.Context, domain models.Domain, req models.SubmitRequest) (string, error) {
	if req.ClientTaskID == "" {
		req.ClientTaskID = uuid.NewString()
	}
	id, err := t.client.Submit(ctx, domain, req)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.domains[id] = domain
	t.mu.Unlock()

	// New job changes every list page
	t.coord.Invalidate(coordinator.JobListPattern)
	t.logger.Info("Job submitted", map[string]interface{}{
		"job_id":         id,
		"domain":         string(domain),
		"client_task_id": req.ClientTaskID,
	})
	return id, nil
}

// Cancel asks the server to cancel a job; local polling goes on until CANCELLED is observed
func (t *Tracker) Cancel(ctx context.Context, jobID, reason string) error {
	t.mu.Lock()
	w, ok := t.jobs[jobID]
	domain := t.domains[jobID]
	t.mu.Unlock()

	if ok {
		return w.poller.Cancel(ctx, reason)
	}
	if _, err := t.client.CancelJob(ctx, domain, jobID, reason); err != nil {
		return err
	}
	return nil
}

// SwitchAccount makes accountID the active account
func (t *Tracker) SwitchAccount(accountID string) error {
	if err := t.session.SwitchAccount(accountID); err != nil {
		return fmt.Errorf("switch account: %w", err)
	}
	return nil
}

// onAccountSwitch drops everything observed under the previous account.
// Keys are invalidated first so results still in flight for the old account are
// discarded; then the pollers forget what they observed and fetch again.
func (t *Tracker) onAccountSwitch(from, to string) {
	removed := 0
	for _, pattern := range []string{
		coordinator.JobStatusPattern,
		coordinator.JobListPattern,
		coordinator.QueueStatusKey,
	} {
		removed += t.coord.Invalidate(pattern)
	}

	t.mu.Lock()
	dropped := 0
	for id, w := range t.jobs {
		if w.poller.Finished() {
			// Remaining watchers keep the final state; the next Watch starts fresh
			delete(t.jobs, id)
			dropped++
			continue
		}
		w.poller.Reset()
	}
	t.domains = make(map[string]models.Domain)
	lists := t.lists[:0]
	for _, lp := range t.lists {
		if lp.Stopped() {
			continue
		}
		lp.Reset()
		lists = append(lists, lp)
	}
	t.lists = lists
	monitor := t.queue
	t.mu.Unlock()

	if monitor != nil {
		monitor.Reset()
	}

	t.logger.Info("Account switched, cached data invalidated", map[string]interface{}{
		"from":            from,
		"to":              to,
		"removed":         removed,
		"pollers_dropped": dropped,
	})
}

// Queue returns the shared queue monitor, started on first use
func (t *Tracker) Queue() *queue.Monitor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue == nil {
		t.queue = queue.NewMonitor(t.client, t.coord, t.config.Queue, t.clock, t.logger)
		if !t.closed {
			t.queue.Start(t.ctx)
		}
	}
	return t.queue
}

// JobList returns a list poller sharing the tracker's cache; the caller starts and stops it.
// It is reset when the account changes.
func (t *Tracker) JobList(opts models.ListOptions) *poller.ListPoller {
	lp := poller.NewListPoller(t.client, t.coord, opts,
		poller.WithClock(t.clock),
		poller.WithLogger(t.logger),
	)
	t.mu.Lock()
	t.lists = append(t.lists, lp)
	t.mu.Unlock()
	return lp
}

// Close stops every poller and the queue monitor
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	jobs := t.jobs
	t.jobs = make(map[string]*watched)
	monitor := t.queue
	t.mu.Unlock()

	for _, w := range jobs {
		w.poller.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
	t.janitor.Stop()
	t.cancel()
}

func closedState() <-chan poller.State {
	ch := make(chan poller.State)
	close(ch)
	return ch
}
