package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// HealthPollInterval is the fixed liveness polling period.
	HealthPollInterval = 5 * time.Second
	// RestartCooldown is slept between stopping a failed pipeline and
	// recreating it, giving the external engine time to release resources.
	RestartCooldown = 2 * time.Second
)

type monitorTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

type tickerFactory func(time.Duration) monitorTicker

// HealthMonitor polls the active pipeline's liveness and drives the
// stop -> cooldown -> restart sequence when it fails, bounded by the
// lifecycle manager's retry state. Once the monitoring flag is cleared every
// scheduled invocation is a no-op and the loop deregisters itself.
type HealthMonitor struct {
	coordinator *Coordinator
	logger      *slog.Logger
	interval    time.Duration
	cooldown    time.Duration
	newTicker   tickerFactory
	sleep       func(time.Duration)

	monitoring atomic.Bool
	started    bool
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func newHealthMonitor(coordinator *Coordinator, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		coordinator: coordinator,
		logger:      logger,
		interval:    HealthPollInterval,
		cooldown:    RestartCooldown,
		newTicker: func(d time.Duration) monitorTicker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		sleep: time.Sleep,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins polling on its own goroutine.
func (m *HealthMonitor) Start() {
	if m.started {
		return
	}
	m.started = true
	m.monitoring.Store(true)
	go m.loop()
}

// Stop clears the monitoring flag and waits for the loop to exit. It is
// idempotent and safe to call concurrently with a terminal self-exit.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.monitoring.Store(false)
		close(m.stop)
	})
	if m.started {
		<-m.done
	}
}

func (m *HealthMonitor) loop() {
	ticker := m.newTicker(m.interval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C():
			if !m.poll() {
				return
			}
		}
	}
}

// poll runs one liveness check. It returns false when the loop should
// deregister: monitoring cleared, context gone, or supervision ended.
func (m *HealthMonitor) poll() bool {
	if !m.monitoring.Load() {
		return false
	}
	alive, exists := m.coordinator.checkLiveness()
	if !exists {
		m.logger.Debug("no active pipeline context, health monitor exiting")
		return false
	}
	if alive {
		return true
	}
	return m.supervise()
}

// supervise drives restarts for a failed pipeline until one succeeds or the
// retry bound is exhausted. Each failed attempt consumes one retry through
// HandleError, so a restart that itself fails is re-judged on the next turn
// of this loop rather than waiting for another tick.
func (m *HealthMonitor) supervise() bool {
	for m.monitoring.Load() {
		manager := m.coordinator.currentLifecycle()
		if manager == nil {
			return false
		}
		if !manager.HandleError(ErrRuntime) {
			m.coordinator.markTerminal()
			return false
		}
		m.coordinator.stopForRestart()
		m.sleep(m.cooldown)
		if !m.monitoring.Load() {
			return false
		}
		if m.coordinator.restartCurrent() {
			m.logger.Info("pipeline restarted after failure")
			return true
		}
		m.logger.Warn("pipeline restart attempt failed")
	}
	return false
}
