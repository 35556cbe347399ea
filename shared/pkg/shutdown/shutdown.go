package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/gentrack/pkg/logging"
)

// Manager handles graceful shutdown
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// WaitWithContext blocks until a shutdown signal or context cancellation, then runs Shutdown
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}
	return m.Shutdown()
}

// Shutdown executes all registered shutdown functions and returns the first error
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	funcs := m.shutdownFuncs
	m.shutdownFuncs = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var firstErr error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", map[string]interface{}{"step": f.name, "error": err.Error()})
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", f.name, err)
			}
		}
	}
	return firstErr
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}
