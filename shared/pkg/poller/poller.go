// Package poller owns the polling loops: one Poller per tracked job and a
// ListPoller for the job list.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/coordinator"
	"github.com/psantana5/gentrack/pkg/fanout"
	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/models"
)

// JobSource is the part of the gateway a Poller needs
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	CancelJob(ctx context.Context, domain models.Domain, jobID, reason string) (int, error)
}

// State is what observers of a job see
type State struct {
	Job models.Job
	// TrackingLost means the server no longer knows the job. The job is not FAILED,
	// it is unobservable.
	TrackingLost bool
	LastError    error
	Polls        int
}

// Finished reports whether no further updates will follow
func (s State) Finished() bool {
	return s.TrackingLost || models.IsTerminalState(s.Job.Status)
}

func (s State) clone() State {
	s.Job = s.Job.Clone()
	return s
}

// Poller polls the status of one job until it reaches a terminal state
type Poller struct {
	jobID    string
	source   JobSource
	coord    *coordinator.Coordinator
	interval time.Duration
	domain   models.Domain
	clock    clock.WithTicker
	logger   *logging.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	state    State
	started  bool
	finished bool
	inflight bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	exited   chan struct{} // closed when the tick loop returns
	hub      fanout.Hub[State]
}

// New creates a poller for jobID. Fetches are deduplicated through coord,
// so pollers sharing a coordinator never issue concurrent requests for the same job.
func New(jobID string, source JobSource, coord *coordinator.Coordinator, opts ...Option) *Poller {
	if coord == nil {
		coord = coordinator.New()
	}
	s := newSettings(DefaultInterval, opts)
	return &Poller{
		jobID:    jobID,
		source:   source,
		coord:    coord,
		interval: s.interval,
		domain:   s.domain,
		clock:    s.clock,
		logger:   s.logger.WithField("job_id", jobID),
		metrics:  s.metrics,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// JobID returns the tracked job
func (p *Poller) JobID() string {
	return p.jobID
}

// Start performs one immediate fetch and then one per tick.
// Calling Start again, or after Stop, does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.finished {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.ctx = ctx
	ticker := p.clock.NewTicker(p.interval)
	p.inflight = true
	p.mu.Unlock()

	p.metrics.PollerStarted()
	p.logger.Debug("Polling started", map[string]interface{}{"interval": p.interval.String()})

	go p.fetch(ctx)
	go p.loop(ctx, ticker)
}

func (p *Poller) loop(ctx context.Context, ticker clock.Ticker) {
	defer close(p.exited)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				p.Stop()
				return
			}
			p.tick(ctx)
		}
	}
}

// tick starts a fetch unless the previous one is still out.
// The skipped tick would only have joined the same deduplicated call.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.finished || p.inflight {
		busy := p.inflight
		p.mu.Unlock()
		if busy {
			p.logger.Debug("Previous fetch still in flight, skipping tick")
		}
		return
	}
	p.inflight = true
	p.mu.Unlock()

	go p.fetch(ctx)
}

func (p *Poller) fetch(ctx context.Context) {
	key := coordinator.JobStatusKey(p.jobID)
	gen := p.coord.Generation(key)
	job, err := coordinator.Deduped(ctx, p.coord, key, func(ctx context.Context) (models.Job, error) {
		return p.source.GetJob(ctx, p.jobID)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = false
	if p.finished {
		// Stopped while the request was out; the result is dropped
		return
	}
	if p.coord.Generation(key) != gen {
		// Invalidated while the request was out, e.g. by an account switch
		p.logger.Debug("Discarded status fetched before invalidation")
		return
	}
	p.state.Polls++

	if err != nil {
		p.failLocked(err)
		return
	}
	p.applyLocked(job)
}

func (p *Poller) applyLocked(observed models.Job) {
	prev := p.state.Job
	next, outcome := models.Apply(prev, observed)
	p.metrics.Poll(outcome.String())

	switch outcome {
	case models.OutcomeStale:
		p.logger.Debug("Discarded stale status", map[string]interface{}{
			"current_updated_at":  prev.UpdatedAt,
			"observed_updated_at": observed.UpdatedAt,
		})
		return
	case models.OutcomeTerminalLocked:
		return
	}

	if !prev.IsZero() {
		if err := models.ValidateTransition(prev.Status, next.Status); err != nil {
			p.logger.Warn("Unexpected status transition", map[string]interface{}{"error": err.Error()})
		}
	}

	p.state.Job = next
	p.state.LastError = nil

	if outcome == models.OutcomeTerminal {
		p.logger.Info("Job reached terminal state", map[string]interface{}{
			"status":     string(next.Status),
			"has_result": next.HasResult(),
		})
		p.hub.Publish(p.state.clone())
		p.finishLocked()
		return
	}
	p.hub.Publish(p.state.clone())
}

func (p *Poller) failLocked(err error) {
	p.state.LastError = err

	if errors.Is(err, gateway.ErrNotFound) {
		p.metrics.Poll("not_found")
		p.logger.Warn("Job unknown to server, tracking lost")
		p.state.TrackingLost = true
		p.hub.Publish(p.state.clone())
		p.finishLocked()
		return
	}

	p.metrics.Poll("error")
	p.logger.Warn("Status fetch failed, retrying on next tick", map[string]interface{}{
		"error":     err.Error(),
		"transient": gateway.IsTransient(err),
	})
	p.hub.Publish(p.state.clone())
}

// finishLocked ends polling; subscribers keep the last delivered state
func (p *Poller) finishLocked() {
	if p.finished {
		return
	}
	p.finished = true
	if p.cancel != nil {
		p.cancel()
	}
	if p.started {
		p.metrics.PollerStopped()
	}
	close(p.done)
	p.hub.Close()
}

// Stop stops polling. It is safe to call any number of times, and an in-flight
// fetch is not aborted; its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.logger.Debug("Polling stopped")
	p.finishLocked()
}

// Reset forgets the observed job, e.g. after the active account changed, and fetches
// again right away. Observations made before the reset no longer guard staleness.
// Subscribers receive the cleared state. A finished poller is left as is.
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.state = State{Polls: p.state.Polls}
	p.hub.Publish(p.state.clone())
	p.logger.Debug("Poller state reset")

	if p.started && !p.inflight {
		p.inflight = true
		go p.fetch(p.ctx)
	}
}

// Finished reports whether polling has ended
func (p *Poller) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Cancel asks the server to cancel the job. Polling continues until a fetch
// reports the job CANCELLED.
func (p *Poller) Cancel(ctx context.Context, reason string) error {
	count, err := p.source.CancelJob(ctx, p.domain, p.jobID, reason)
	if err != nil {
		p.logger.Warn("Cancel request failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	p.logger.Info("Cancel requested", map[string]interface{}{"cancelled_count": count, "reason": reason})
	return nil
}

// State returns the latest state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Subscribe returns a channel carrying the latest state. The channel is closed once
// polling ends, after the final state has been delivered.
func (p *Poller) Subscribe() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var initial *State
	if p.state.Polls > 0 {
		s := p.state.clone()
		initial = &s
	}
	return p.hub.Subscribe(initial)
}

// Done is closed when polling has ended
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
