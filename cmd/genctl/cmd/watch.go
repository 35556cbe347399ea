package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
	"github.com/psantana5/gentrack/pkg/shutdown"
	"github.com/psantana5/gentrack/pkg/tracker"
)

var (
	metricsAddr  string
	exitWhenDone bool
	logDir       string
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>...",
	Short: "Dashboard of several jobs and the queue",
	Long: `Watch follows several jobs at once next to the aggregate queue.

Each job is polled every 2 seconds and the queue is refreshed at most once per
second. Prometheus metrics can be exposed while the dashboard runs.

Example:
  genctl watch task-1 task-2
  genctl watch task-1 --metrics-addr :9102 --exit-when-done`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	watchCmd.Flags().BoolVar(&exitWhenDone, "exit-when-done", false, "exit once every job has finished")
	watchCmd.Flags().StringVar(&logDir, "log-dir", "", "write logs to this directory instead of stderr")
}

type jobUpdate struct {
	id    string
	state poller.State
	done  bool
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	if logDir != "" {
		fileLogger, err := logging.NewFileLogger(logDir, "watch", logging.ParseLevel(logLevel), true)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	tracer, err := newTracer()
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	client, err := newClient(logger, collector, tracer)
	if err != nil {
		return err
	}
	tr := tracker.New(client, tracker.DefaultConfig(),
		tracker.WithLogger(logger),
		tracker.WithMetrics(collector),
	)

	mgr := shutdown.New(10*time.Second, logger)
	mgr.Register("tracer", tracer.Shutdown)

	if metricsAddr != "" {
		srv := newMetricsServer(metricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))
		logger.Info("Serving metrics", map[string]interface{}{"addr": metricsAddr})
	}

	mgr.Register("tracker", func(ctx context.Context) error {
		tr.Close()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dashboard(ctx, cancel, tr, args)

	return mgr.WaitWithContext(ctx)
}

// dashboard redraws on every job or queue update
func dashboard(ctx context.Context, cancel context.CancelFunc, tr *tracker.Tracker, ids []string) {
	updates := make(chan jobUpdate, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		ch, stop := tr.Watch(id)
		wg.Add(1)
		go func(id string, ch <-chan poller.State, stop func()) {
			defer wg.Done()
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return
				case s, ok := <-ch:
					if !ok {
						select {
						case updates <- jobUpdate{id: id, done: true}:
						case <-ctx.Done():
						}
						return
					}
					select {
					case updates <- jobUpdate{id: id, state: s}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(id, ch, stop)
	}

	queueUpdates, stopQueue := tr.Queue().Subscribe()
	defer stopQueue()

	states := make(map[string]poller.State, len(ids))
	finished := 0
	var (
		snap      models.QueueSnapshot
		haveQueue bool
	)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case u := <-updates:
			if u.done {
				finished++
				if exitWhenDone && finished == len(ids) {
					redraw(ids, states, snap, haveQueue)
					cancel()
				}
				continue
			}
			states[u.id] = u.state
		case s, ok := <-queueUpdates:
			if !ok {
				queueUpdates = nil
				continue
			}
			snap, haveQueue = s, true
		}
		redraw(ids, states, snap, haveQueue)
	}
}

func redraw(ids []string, states map[string]poller.State, snap models.QueueSnapshot, haveQueue bool) {
	if isStructuredOutput() {
		_ = printStructured(states)
		return
	}
	fmt.Print("\033[H\033[2J")
	renderDashboard(os.Stdout, ids, states, snap, haveQueue)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
