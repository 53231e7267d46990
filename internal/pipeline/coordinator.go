package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vanb/internal/engine"
	"vanb/internal/history"
	"vanb/internal/observability/metrics"
)

// PipelineContext bundles everything belonging to one running pipeline: the
// saved mode and config (replayed verbatim on restart), the lifecycle
// manager, the health monitor supervising it, and the start timestamp.
type PipelineContext struct {
	mode      Mode
	config    Config
	lifecycle *LifecycleManager
	monitor   *HealthMonitor
	runID     string
	startedAt time.Time
}

// Stats merges the engine handle's own counters with the coordinator's
// computed running time.
type Stats struct {
	RunID       string  `json:"runId"`
	Mode        string  `json:"mode"`
	State       string  `json:"state"`
	RunningTime float64 `json:"runningTimeSeconds"`
	FrameDrops  uint64  `json:"frameDrops"`
	Errors      uint64  `json:"errors"`
	Warnings    uint64  `json:"warnings"`
	Retries     int     `json:"retries"`
}

// Coordinator owns zero or one PipelineContext and serialises every start,
// stop and restart against it. Public operations never surface errors;
// failures are logged, counted and recorded, and the caller sees a boolean.
type Coordinator struct {
	builder  *Builder
	factory  *Factory
	store    history.Store
	hooks    Hooks
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	// opMu orders public start/stop requests; mu guards the context field.
	// Monitor-facing helpers take only mu so a stop that is waiting for
	// the monitor to drain can never deadlock against it.
	opMu    sync.Mutex
	mu      sync.Mutex
	current *PipelineContext
}

// NewCoordinator wires the builder and factory together. A nil store
// disables run history; nil logger and recorder fall back to the process
// defaults.
func NewCoordinator(builder *Builder, factory *Factory, store history.Store, hooks Hooks, logger *slog.Logger, recorder *metrics.Recorder) *Coordinator {
	if store == nil {
		store = history.NoopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Coordinator{
		builder:  builder,
		factory:  factory,
		store:    store,
		hooks:    hooks,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// StartPipeline builds a config for the requested mode, constructs a handle
// and starts it under supervision. Any existing pipeline is fully stopped
// first so exactly one context exists afterward. It reports whether the new
// pipeline is running.
func (c *Coordinator) StartPipeline(ctx context.Context, mode Mode, params Params) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopCurrent()

	cfg, err := c.builder.Build(ctx, mode, params)
	if err != nil {
		c.logger.Error("pipeline config rejected", "mode", mode.String(), "error", err)
		c.recorder.PipelineStartFailed(mode.String())
		c.record(history.Event{Kind: history.EventStartFailed, Mode: mode.String(), Detail: err.Error()})
		return false
	}
	handle := c.factory.Create(mode, cfg)
	if handle == nil {
		c.recorder.PipelineStartFailed(mode.String())
		rtmpURL, peer := cfg.Summary()
		c.record(history.Event{Kind: history.EventStartFailed, Mode: mode.String(), RTMPURL: rtmpURL, Peer: peer, Detail: "handle construction failed"})
		return false
	}

	manager := NewLifecycleManager(handle, c.hooks, c.logger, c.recorder)
	if err := manager.Start(); err != nil {
		c.logger.Error("pipeline start failed", "mode", mode.String(), "error", err)
		manager.Stop()
		c.recorder.PipelineStartFailed(mode.String())
		rtmpURL, peer := cfg.Summary()
		c.record(history.Event{Kind: history.EventStartFailed, Mode: mode.String(), RTMPURL: rtmpURL, Peer: peer, Detail: err.Error()})
		return false
	}

	pc := &PipelineContext{
		mode:      mode,
		config:    cfg,
		lifecycle: manager,
		monitor:   newHealthMonitor(c, c.logger),
		runID:     newRunID(),
		startedAt: c.now(),
	}
	c.mu.Lock()
	c.current = pc
	c.mu.Unlock()
	pc.monitor.Start()

	rtmpURL, peer := cfg.Summary()
	c.recorder.PipelineStarted(mode.String())
	c.record(history.Event{RunID: pc.runID, Kind: history.EventStarted, Mode: mode.String(), RTMPURL: rtmpURL, Peer: peer})
	c.logger.Info("pipeline running", "mode", mode.String(), "run_id", pc.runID, "rtmp_url", rtmpURL, "peer", peer)
	return true
}

// StopPipeline stops the active pipeline if one exists. With no active
// context it is a no-op.
func (c *Coordinator) StopPipeline(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopCurrent()
}

// IsRunning reports whether a context exists and its handle verifies as
// live.
func (c *Coordinator) IsRunning() bool {
	alive, _ := c.checkLiveness()
	return alive
}

// CurrentMode returns the active pipeline's mode, if any.
func (c *Coordinator) CurrentMode() (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0, false
	}
	return c.current.mode, true
}

// PipelineConfig returns the active pipeline's config, if any.
func (c *Coordinator) PipelineConfig() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	return c.current.config, true
}

// Stats returns the merged statistics for the active pipeline, or nil when
// no pipeline is running. Running time is computed from the context's start
// timestamp and is monotonic within one context's life.
func (c *Coordinator) Stats() *Stats {
	c.mu.Lock()
	pc := c.current
	var startedAt time.Time
	if pc != nil {
		startedAt = pc.startedAt
	}
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	var engineStats engine.Stats
	if handle := pc.lifecycle.Handle(); handle != nil {
		engineStats = handle.Stats()
	}
	return &Stats{
		RunID:       pc.runID,
		Mode:        pc.mode.String(),
		State:       engineStats.State,
		RunningTime: c.now().Sub(startedAt).Seconds(),
		FrameDrops:  engineStats.FrameDrops,
		Errors:      engineStats.Errors,
		Warnings:    engineStats.Warnings,
		Retries:     pc.lifecycle.RetryCount(),
	}
}

// History returns the most recent lifecycle events, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]history.Event, error) {
	return c.store.Recent(ctx, limit)
}

// stopCurrent tears down the active context. The monitor is stopped before
// the state mutex is taken so its loop can finish any in-flight call back
// into the coordinator.
func (c *Coordinator) stopCurrent() {
	c.mu.Lock()
	pc := c.current
	c.mu.Unlock()
	if pc == nil {
		return
	}
	pc.monitor.Stop()
	pc.lifecycle.Stop()
	c.mu.Lock()
	if c.current == pc {
		c.current = nil
	}
	c.mu.Unlock()

	rtmpURL, peer := pc.config.Summary()
	c.recorder.PipelineStopped(pc.mode.String())
	c.record(history.Event{RunID: pc.runID, Kind: history.EventStopped, Mode: pc.mode.String(), RTMPURL: rtmpURL, Peer: peer})
}

// checkLiveness reports whether the current handle verifies as live and
// whether a context exists at all.
func (c *Coordinator) checkLiveness() (alive, exists bool) {
	c.mu.Lock()
	pc := c.current
	c.mu.Unlock()
	if pc == nil {
		return false, false
	}
	handle := pc.lifecycle.Handle()
	if handle == nil {
		return false, true
	}
	return handle.VerifyStream(), true
}

func (c *Coordinator) currentLifecycle() *LifecycleManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.lifecycle
}

// stopForRestart stops the failed handle ahead of the restart cooldown
// without clearing the context: the saved mode and config must survive for
// the replay.
func (c *Coordinator) stopForRestart() {
	c.mu.Lock()
	pc := c.current
	c.mu.Unlock()
	if pc != nil {
		pc.lifecycle.Stop()
	}
}

// restartCurrent rebuilds a handle from the saved config and starts it under
// the same lifecycle manager. The config is replayed verbatim: nothing is
// re-derived, so a topology shift mid-run cannot change which peer the
// pipeline is bound to.
func (c *Coordinator) restartCurrent() bool {
	c.mu.Lock()
	pc := c.current
	c.mu.Unlock()
	if pc == nil {
		return false
	}

	rtmpURL, peer := pc.config.Summary()
	handle := c.factory.Create(pc.mode, pc.config)
	if handle == nil {
		c.record(history.Event{RunID: pc.runID, Kind: history.EventStartFailed, Mode: pc.mode.String(), RTMPURL: rtmpURL, Peer: peer, Detail: "restart construction failed"})
		return false
	}
	pc.lifecycle.rebind(handle)
	if err := pc.lifecycle.Start(); err != nil {
		c.logger.Warn("restart start failed", "mode", pc.mode.String(), "run_id", pc.runID, "error", err)
		pc.lifecycle.Stop()
		c.record(history.Event{RunID: pc.runID, Kind: history.EventStartFailed, Mode: pc.mode.String(), RTMPURL: rtmpURL, Peer: peer, Detail: err.Error()})
		return false
	}
	pc.lifecycle.ResetRetryCount()

	c.mu.Lock()
	if c.current != pc {
		c.mu.Unlock()
		pc.lifecycle.Stop()
		return false
	}
	pc.startedAt = c.now()
	c.mu.Unlock()

	c.recorder.PipelineRestarted(pc.mode.String())
	c.record(history.Event{RunID: pc.runID, Kind: history.EventRestarted, Mode: pc.mode.String(), RTMPURL: rtmpURL, Peer: peer})
	return true
}

// markTerminal clears the context after the retry bound is exhausted. The
// pipeline stays down until an operator issues a fresh start.
func (c *Coordinator) markTerminal() {
	c.mu.Lock()
	pc := c.current
	c.current = nil
	c.mu.Unlock()
	if pc == nil {
		return
	}
	pc.lifecycle.Stop()

	rtmpURL, peer := pc.config.Summary()
	c.recorder.PipelineTerminal(pc.mode.String())
	c.record(history.Event{RunID: pc.runID, Kind: history.EventTerminal, Mode: pc.mode.String(), RTMPURL: rtmpURL, Peer: peer, Detail: "retry limit exhausted"})
	c.logger.Error("pipeline terminal, operator restart required", "mode", pc.mode.String(), "run_id", pc.runID)
}

func (c *Coordinator) record(event history.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.Append(ctx, event); err != nil {
		c.logger.Warn("record pipeline event", "kind", string(event.Kind), "error", err)
	}
}

func newRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
