// Package gateway is the HTTP client for the generation API.
//
// Every call carries the bearer credential and the active account of the session,
// plus a fresh request ID. Failures are typed: ErrNotFound, *TransientError, *APIError.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"k8s.io/utils/clock"

	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/ratelimit"
	"github.com/psantana5/gentrack/pkg/retry"
	"github.com/psantana5/gentrack/pkg/tenancy"
	"github.com/psantana5/gentrack/pkg/tracing"
)

const maxResponseBytes = 4 << 20

// Config holds gateway settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // Requests per second per account, <= 0 disables
	Burst     int
	Retry     retry.Config // Applied to list and queue reads only
	TLSConfig *tls.Config
}

// DefaultConfig returns the defaults for baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		RateLimit: 20,
		Burst:     10,
		Retry:     retry.DefaultConfig(),
	}
}

// Client manages communication with the generation API
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *tenancy.Session
	limiter    *ratelimit.Limiter
	retry      retry.Config
	tracer     *tracing.Provider
	metrics    *metrics.Collector
	logger     *logging.Logger
	clock      clock.PassiveClock
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTracer sets the tracing provider
func WithTracer(p *tracing.Provider) Option {
	return func(c *Client) { c.tracer = p }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the clock that stamps fetched snapshots
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient creates a new API client
func NewClient(cfg Config, session *tenancy.Session, opts ...Option) *Client {
	if session == nil {
		session = tenancy.NewSession("", "")
	}
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.TLSConfig != nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = cfg.TLSConfig
		transport = t
	}

	retryCfg := cfg.Retry
	retryCfg.ShouldRetry = IsTransient

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		session: session,
		limiter: ratelimit.NewLimiter(cfg.RateLimit, cfg.Burst),
		retry:   retryCfg,
		tracer:  tracing.Noop(),
		logger:  logging.Discard(),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the identity attached to calls
func (c *Client) Session() *tenancy.Session {
	return c.session
}

// SweepLimiters drops rate limiters of accounts idle for longer than maxAge
func (c *Client) SweepLimiters(maxAge time.Duration) int {
	return c.limiter.CleanupOldLimiters(maxAge)
}

// Submit submits a job to the generate endpoint of domain and returns the server task ID
func (c *Client) Submit(ctx context.Context, domain models.Domain, req models.SubmitRequest) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("submit: domain is required")
	}
	if req.ClientTaskID == "" {
		req.ClientTaskID = uuid.NewString()
	}

	var resp models.SubmitResponse
	path := fmt.Sprintf("/api/%s/generate", url.PathEscape(string(domain)))
	if err := c.do(ctx, "submit", http.MethodPost, path, nil, req, &resp, attribute.String("job.domain", string(domain))); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("submit: %w: %s", ErrSubmitRejected, resp.Message)
	}
	if resp.Data.TaskID == "" {
		return "", fmt.Errorf("submit: %w: response carried no task_id", ErrSubmitRejected)
	}
	return resp.Data.TaskID, nil
}

// GetJob fetches one job snapshot. It is not retried; the poller's next tick is the retry.
func (c *Client) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var job models.Job
	path := "/api/tasks/" + url.PathEscape(jobID)
	if err := c.do(ctx, "get_job", http.MethodGet, path, nil, nil, &job, attribute.String("job.id", jobID)); err != nil {
		return models.Job{}, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// ListJobs fetches one page of jobs
func (c *Client) ListJobs(ctx context.Context, opts models.ListOptions) (models.JobList, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		query.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}

	var list models.JobList
	err := retry.Do(ctx, c.retry, func() error {
		list = models.JobList{}
		return c.do(ctx, "list_jobs", http.MethodGet, "/api/tasks", query, nil, &list)
	})
	return list, err
}

// CancelJob asks the server to cancel a job.
// An answer with cancelled_count == 0 (job already finished) yields ErrCancellationRejected.
func (c *Client) CancelJob(ctx context.Context, domain models.Domain, jobID, reason string) (int, error) {
	if domain == "" {
		domain = models.DomainVideo
	}

	var resp models.CancelResponse
	path := fmt.Sprintf("/api/%s/task/%s/cancel", url.PathEscape(string(domain)), url.PathEscape(jobID))
	body := models.CancelRequest{Reason: reason}
	if err := c.do(ctx, "cancel_job", http.MethodPost, path, nil, body, &resp, attribute.String("job.id", jobID)); err != nil {
		return 0, err
	}
	if resp.CancelledCount == 0 {
		return 0, fmt.Errorf("cancel %s: %w", jobID, ErrCancellationRejected)
	}
	return resp.CancelledCount, nil
}

// QueueStatus fetches the aggregate queue snapshot
func (c *Client) QueueStatus(ctx context.Context) (models.QueueSnapshot, error) {
	var snap models.QueueSnapshot
	err := retry.Do(ctx, c.retry, func() error {
		snap = models.QueueSnapshot{}
		return c.do(ctx, "queue_status", http.MethodGet, "/api/tasks/queue/status", nil, nil, &snap)
	})
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	snap.FetchedAt = c.clock.Now()
	return snap, nil
}

// do performs one authenticated round trip and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, attrs ...attribute.KeyValue) (err error) {
	start := time.Now()
	account := c.session.Resolve(ctx)

	ctx, span := c.tracer.StartSpan(ctx, "gateway."+op, append(attrs,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("account.id", account),
	)...)
	defer func() {
		if err != nil {
			tracing.SetError(ctx, err)
		}
		span.End()
		c.metrics.ObserveRequest(op, outcomeLabel(err), time.Since(start))
	}()

	if err := c.limiter.Wait(ctx, account); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	c.decorate(req, account)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.tracer.Inject(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case isTransientStatus(resp.StatusCode):
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// decorate adds identity headers to the request
func (c *Client) decorate(req *http.Request, account string) {
	if key := c.session.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if account != "" {
		req.Header.Set(tenancy.AccountHeader, account)
	}
	req.Header.Set(tenancy.RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
