package poller

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/models"
)

const (
	// DefaultInterval is the status poll interval for a single job
	DefaultInterval = 2 * time.Second
	// DefaultListInterval is the refresh interval of the job list
	DefaultListInterval = 10 * time.Second
	// DefaultListTTL is how long a fetched job list page is served from cache
	DefaultListTTL = 5 * time.Second
)

type settings struct {
	interval time.Duration
	cacheTTL time.Duration
	domain   models.Domain
	clock    clock.WithTicker
	logger   *logging.Logger
	metrics  *metrics.Collector
}

// Option configures a Poller or a ListPoller
type Option func(*settings)

// WithInterval sets the tick interval
func WithInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCacheTTL sets how long list pages are cached (ListPoller only)
func WithCacheTTL(d time.Duration) Option {
	return func(s *settings) { s.cacheTTL = d }
}

// WithDomain sets the domain used for cancel requests
func WithDomain(d models.Domain) Option {
	return func(s *settings) { s.domain = d }
}

// WithClock sets the clock that drives the ticker
func WithClock(c clock.WithTicker) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(s *settings) { s.metrics = m }
}

func newSettings(interval time.Duration, opts []Option) settings {
	s := settings{
		interval: interval,
		cacheTTL: DefaultListTTL,
		domain:   models.DomainVideo,
		clock:    clock.RealClock{},
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
