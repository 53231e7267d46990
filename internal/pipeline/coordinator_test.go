package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"vanb/internal/discovery"
	"vanb/internal/engine"
	"vanb/internal/history"
	"vanb/internal/observability/metrics"
)

type testScanner struct {
	names []string
	err   error
}

func (s *testScanner) Scan(ctx context.Context, timeout time.Duration) ([]string, error) {
	return s.names, s.err
}

// handleFactory hands out fake handles and records every config the
// coordinator asked it to build.
type handleFactory struct {
	mu      sync.Mutex
	handles []*fakeHandle
	configs []Config
	next    func() *fakeHandle
}

func newHandleFactory() *handleFactory {
	f := &handleFactory{}
	f.next = func() *fakeHandle { return &fakeHandle{} }
	return f
}

func (f *handleFactory) constructor(cfg Config) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.next()
	f.handles = append(f.handles, handle)
	f.configs = append(f.configs, cfg)
	return handle, nil
}

func (f *handleFactory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func (f *handleFactory) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *handleFactory) config(i int) Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[i]
}

func newTestCoordinator(scanner discovery.Scanner, handles *handleFactory, store history.Store) *Coordinator {
	recorder := metrics.New()
	manager := discovery.NewManager(scanner, nil, recorder)
	builder := NewBuilder(manager, nil)
	factory := NewFactoryWithConstructors(map[Mode]HandleConstructor{
		ModeReceive:  handles.constructor,
		ModeTransmit: handles.constructor,
	}, nil)
	return NewCoordinator(builder, factory, store, Hooks{}, nil, recorder)
}

func TestStartPipelineReceive(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{}, handles, nil)

	ok := c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://ingest/live/key"})
	if !ok {
		t.Fatal("StartPipeline returned false")
	}
	defer c.StopPipeline(context.Background())

	if !c.IsRunning() {
		t.Fatal("IsRunning = false after successful start")
	}
	mode, exists := c.CurrentMode()
	if !exists || mode != ModeReceive {
		t.Fatalf("CurrentMode = %v/%v, want receive/true", mode, exists)
	}
	cfg, _ := c.PipelineConfig()
	rtmpURL, peer := cfg.Summary()
	if rtmpURL != "rtmp://ingest/live/key" {
		t.Fatalf("config rtmp url = %q", rtmpURL)
	}
	if peer != "VANB-Rx-1" {
		t.Fatalf("allocated peer = %q, want VANB-Rx-1", peer)
	}
}

func TestStartPipelineReplacesActiveContext(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{}, handles, nil)

	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://a/live/1"}) {
		t.Fatal("first start failed")
	}
	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://b/live/2"}) {
		t.Fatal("second start failed")
	}
	defer c.StopPipeline(context.Background())

	if handles.built() != 2 {
		t.Fatalf("expected 2 handles built, got %d", handles.built())
	}
	if handles.handle(0).stopCount() == 0 {
		t.Fatal("first handle was not stopped before the replacement started")
	}
	if !handles.handle(1).VerifyStream() {
		t.Fatal("replacement handle not live")
	}
	cfg, _ := c.PipelineConfig()
	rtmpURL, _ := cfg.Summary()
	if rtmpURL != "rtmp://b/live/2" {
		t.Fatalf("active config rtmp url = %q, want the replacement's", rtmpURL)
	}
}

func TestStopPipelineWithoutContextIsNoop(t *testing.T) {
	c := newTestCoordinator(&testScanner{}, newHandleFactory(), nil)
	c.StopPipeline(context.Background())
	if c.IsRunning() {
		t.Fatal("IsRunning = true with no context")
	}
	if c.Stats() != nil {
		t.Fatal("Stats should be nil with no context")
	}
}

func TestTransmitSourceSelection(t *testing.T) {
	t.Run("first active in sorted order", func(t *testing.T) {
		handles := newHandleFactory()
		c := newTestCoordinator(&testScanner{names: []string{"Stage B", "Stage A"}}, handles, nil)
		if !c.StartPipeline(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"}) {
			t.Fatal("transmit start failed")
		}
		defer c.StopPipeline(context.Background())
		cfg, _ := c.PipelineConfig()
		_, peer := cfg.Summary()
		if peer != "Stage A" {
			t.Fatalf("selected source = %q, want Stage A", peer)
		}
	})

	t.Run("no sources found", func(t *testing.T) {
		handles := newHandleFactory()
		c := newTestCoordinator(&testScanner{}, handles, nil)
		if c.StartPipeline(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"}) {
			t.Fatal("transmit start should fail with no sources")
		}
		if handles.built() != 0 {
			t.Fatal("no handle may be built when config resolution fails")
		}
		if c.IsRunning() {
			t.Fatal("no context may exist after a failed start")
		}
	})
}

func TestStatsRunningTimeIsMonotonic(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{}, handles, nil)

	base := time.Now()
	current := base
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://a/live/1", NDIName: "Out"}) {
		t.Fatal("start failed")
	}
	defer c.StopPipeline(context.Background())

	stats := c.Stats()
	if stats == nil {
		t.Fatal("Stats returned nil while running")
	}
	if stats.RunningTime != 0 {
		t.Fatalf("initial running time = %v, want 0", stats.RunningTime)
	}

	mu.Lock()
	current = base.Add(42 * time.Second)
	mu.Unlock()
	stats = c.Stats()
	if stats.RunningTime != 42 {
		t.Fatalf("running time = %v, want 42", stats.RunningTime)
	}
	if stats.Mode != "receive" {
		t.Fatalf("stats mode = %q", stats.Mode)
	}
}

func TestRestartReplaysSavedConfig(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{names: []string{"Stage A"}}, handles, nil)

	if !c.StartPipeline(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"}) {
		t.Fatal("start failed")
	}
	defer c.StopPipeline(context.Background())

	manager := c.currentLifecycle()
	manager.HandleError(ErrRuntime)
	handles.handle(0).kill()
	c.stopForRestart()

	if !c.restartCurrent() {
		t.Fatal("restart failed")
	}
	if handles.built() != 2 {
		t.Fatalf("expected a second handle, got %d", handles.built())
	}
	if handles.config(0) != handles.config(1) {
		t.Fatalf("restart rebuilt from %v, want the saved config %v", handles.config(1), handles.config(0))
	}
	if got := manager.RetryCount(); got != 0 {
		t.Fatalf("retry count after verified restart = %d, want 0", got)
	}
	if !c.IsRunning() {
		t.Fatal("pipeline not live after restart")
	}
}

func TestSupervisionExhaustsRetries(t *testing.T) {
	handles := newHandleFactory()
	// Every replacement handle fails to start, so each supervision turn
	// burns one retry.
	first := true
	handles.next = func() *fakeHandle {
		if first {
			first = false
			return &fakeHandle{}
		}
		return &fakeHandle{startErr: ErrRuntime}
	}
	store := history.NewMemoryStore(16)
	c := newTestCoordinator(&testScanner{}, handles, store)

	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://a/live/1", NDIName: "Out"}) {
		t.Fatal("start failed")
	}
	handles.handle(0).kill()

	monitor := newHealthMonitor(c, nil)
	monitor.sleep = func(time.Duration) {}
	monitor.monitoring.Store(true)

	if monitor.poll() {
		t.Fatal("poll should deregister once retries are exhausted")
	}
	if c.IsRunning() {
		t.Fatal("pipeline must stay down after terminal failure")
	}
	if _, exists := c.CurrentMode(); exists {
		t.Fatal("terminal failure must clear the context")
	}

	events, err := store.Recent(context.Background(), 16)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(events) == 0 || events[0].Kind != history.EventTerminal {
		t.Fatalf("newest event = %+v, want terminal", events)
	}
}

func TestSupervisionRestartsFailedPipeline(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{}, handles, nil)

	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://a/live/1", NDIName: "Out"}) {
		t.Fatal("start failed")
	}
	defer c.StopPipeline(context.Background())
	handles.handle(0).kill()

	monitor := newHealthMonitor(c, nil)
	monitor.sleep = func(time.Duration) {}
	monitor.monitoring.Store(true)

	if !monitor.poll() {
		t.Fatal("poll should keep monitoring after a successful restart")
	}
	if !c.IsRunning() {
		t.Fatal("pipeline not live after supervised restart")
	}
	if handles.built() != 2 {
		t.Fatalf("expected 2 handles, got %d", handles.built())
	}
}

func TestMonitorTickAfterStopIsNoop(t *testing.T) {
	handles := newHandleFactory()
	c := newTestCoordinator(&testScanner{}, handles, nil)

	if !c.StartPipeline(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://a/live/1", NDIName: "Out"}) {
		t.Fatal("start failed")
	}
	c.StopPipeline(context.Background())

	monitor := newHealthMonitor(c, nil)
	monitor.monitoring.Store(true)
	if monitor.poll() {
		t.Fatal("poll with no context should deregister, not error")
	}
	if handles.built() != 1 {
		t.Fatal("no restart may happen after an operator stop")
	}
}
