package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"vanb/internal/engine"
	"vanb/internal/observability/metrics"
)

// MaxRetries bounds how many times a failed pipeline is restarted before the
// supervisor gives up.
const MaxRetries = 3

// ErrRuntime is the synthetic failure the health monitor reports when a
// running pipeline loses liveness.
var ErrRuntime = errors.New("pipeline liveness lost")

// Hooks customise the lifecycle sequence around engine create/start/stop.
// Nil hooks are skipped; the default pre-start check always succeeds.
type Hooks struct {
	PreStart  func() error
	PostStart func()
	PreStop   func()
	PostStop  func()
}

// LifecycleManager sequences one engine handle through
// pre-start -> create -> start -> post-start and the mirrored stop path, and
// owns the retry state for its supervision lineage. The retry counter is
// incremented by HandleError only and cleared by ResetRetryCount only.
type LifecycleManager struct {
	mu       sync.Mutex
	handle   engine.Handle
	hooks    Hooks
	logger   *slog.Logger
	recorder *metrics.Recorder
	retries  int
}

// NewLifecycleManager wraps the handle with the provided hooks.
func NewLifecycleManager(handle engine.Handle, hooks Hooks, logger *slog.Logger, recorder *metrics.Recorder) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &LifecycleManager{handle: handle, hooks: hooks, logger: logger, recorder: recorder}
}

// Start runs the full start sequence. Any failing step short-circuits with
// an error; partially-created engine resources are left for the stop path to
// tear down.
func (m *LifecycleManager) Start() error {
	m.mu.Lock()
	handle := m.handle
	hooks := m.hooks
	m.mu.Unlock()

	if handle == nil {
		return errors.New("no pipeline handle")
	}
	if hooks.PreStart != nil {
		if err := hooks.PreStart(); err != nil {
			return fmt.Errorf("pre-start check failed: %w", err)
		}
	}
	if err := handle.Create(); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := handle.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if hooks.PostStart != nil {
		hooks.PostStart()
	}
	m.logger.Info("pipeline started")
	return nil
}

// Stop runs the stop sequence best-effort. It never propagates failures so
// shutdown cannot throw.
func (m *LifecycleManager) Stop() {
	m.mu.Lock()
	handle := m.handle
	hooks := m.hooks
	m.mu.Unlock()

	if hooks.PreStop != nil {
		hooks.PreStop()
	}
	if handle != nil {
		handle.Stop()
	}
	if hooks.PostStop != nil {
		hooks.PostStop()
	}
	m.logger.Info("pipeline stopped")
}

// HandleError records a runtime failure and decides whether the caller
// should retry. The counter is incremented first and compared against
// MaxRetries: calls 1..MaxRetries approve a retry, the next call is
// terminal. The counter survives this call; only ResetRetryCount clears it.
func (m *LifecycleManager) HandleError(err error) bool {
	m.mu.Lock()
	m.retries++
	count := m.retries
	m.mu.Unlock()

	if count > MaxRetries {
		m.recorder.RestartDecision(false)
		m.logger.Error("retry limit reached, giving up", "max_retries", MaxRetries, "error", err)
		return false
	}
	m.recorder.RestartDecision(true)
	m.logger.Warn("pipeline failure, retry approved", "attempt", count, "max_retries", MaxRetries, "error", err)
	return true
}

// ResetRetryCount clears the retry counter. The coordinator invokes it only
// after a verified successful (re)start.
func (m *LifecycleManager) ResetRetryCount() {
	m.mu.Lock()
	m.retries = 0
	m.mu.Unlock()
}

// RetryCount exposes the current counter for status reporting.
func (m *LifecycleManager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Handle returns the managed engine handle.
func (m *LifecycleManager) Handle() engine.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// rebind swaps in the replacement handle built for a restart. The retry
// state deliberately survives: the replacement belongs to the same
// supervision lineage until a verified successful restart resets it.
func (m *LifecycleManager) rebind(handle engine.Handle) {
	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()
}
