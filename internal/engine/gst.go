package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"vanb/internal/observability/metrics"
)

// DefaultBinary is the launcher executable used when none is configured.
const DefaultBinary = "gst-launch-1.0"

// stopTimeout bounds how long Stop waits for the subprocess to exit after
// cancellation before giving up on it.
const stopTimeout = 10 * time.Second

var errNotCreated = errors.New("engine process not created")

// Config describes one engine subprocess.
type Config struct {
	// Description is the opaque textual graph handed to the engine.
	Description string
	// Binary overrides the launcher executable, mainly for tests.
	Binary   string
	Logger   *slog.Logger
	Recorder *metrics.Recorder
}

// Process is a Handle backed by a launcher subprocess. Engine output is
// scanned line by line, classified into event kinds, and dispatched; fatal
// kinds mark the graph dead so VerifyStream fails on the next poll.
type Process struct {
	description string
	binary      string
	logger      *slog.Logger
	recorder    *metrics.Recorder

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	exited    bool
	dead      bool
	state     string
	startedAt time.Time
	drops     uint64
	errCount  uint64
	warnings  uint64
}

// New constructs an engine process for the given graph description. The
// process is not created until Create is called.
func New(cfg Config) *Process {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = DefaultBinary
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Process{
		description: cfg.Description,
		binary:      binary,
		logger:      logger,
		recorder:    recorder,
	}
}

// Available reports whether the launcher binary can be found. It backs the
// pre-start readiness hook.
func Available(binary string) error {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("engine launcher not found: %w", err)
	}
	return nil
}

// Create resolves the launcher and prepares the subprocess without starting
// it. Calling Create on an already-created process is an error.
func (p *Process) Create() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.New("engine process already created")
	}
	if strings.TrimSpace(p.description) == "" {
		return errors.New("graph description is empty")
	}
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("engine launcher not found: %w", err)
	}

	args := splitDescription(p.description)
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdout = &eventWriter{process: p, stream: "stdout"}
	cmd.Stderr = &eventWriter{process: p, stream: "stderr"}

	p.cmd = cmd
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = "NULL"
	p.logger.Debug("engine graph prepared", "binary", p.binary, "args", len(args))
	return nil
}

// Start launches the subprocess and begins supervising its exit.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return errNotCreated
	}
	if p.started {
		return errors.New("engine process already started")
	}
	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return fmt.Errorf("start engine: %w", err)
	}
	p.started = true
	p.startedAt = time.Now()

	cmd := p.cmd
	done := p.done
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		if err != nil {
			p.dead = true
			p.errCount++
		}
		p.state = "NULL"
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn("engine exited with error", "error", err)
		} else {
			p.logger.Info("engine exited")
		}
		close(done)
	}()
	return nil
}

// Stop tears the subprocess down best-effort: it never returns an error and
// is safe to call repeatedly, before Create, or after exit.
func (p *Process) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	started := p.started
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if !started || done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.logger.Warn("timeout waiting for engine to stop")
	}
}

// VerifyStream reports whether the engine is actively processing: started,
// still running, and with no fatal event observed.
func (p *Process) VerifyStream() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.exited && !p.dead
}

// Stats returns a snapshot of the engine counters.
func (p *Process) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		State:      p.state,
		FrameDrops: p.drops,
		Errors:     p.errCount,
		Warnings:   p.warnings,
	}
	if p.started && !p.exited {
		stats.Uptime = time.Since(p.startedAt)
	}
	return stats
}

// Run blocks until the subprocess exits. It mirrors the engine's own
// blocking run loop; Stop unblocks it.
func (p *Process) Run() error {
	p.mu.Lock()
	done := p.done
	started := p.started
	p.mu.Unlock()
	if !started || done == nil {
		return errNotCreated
	}
	<-done
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return errors.New("engine terminated abnormally")
	}
	return nil
}

// handleEvent dispatches one classified engine event. Terminal kinds mark
// the graph dead; everything else is logged and counted.
func (p *Process) handleEvent(kind EventKind, line string) {
	p.recorder.ObserveEngineEvent(kind.String())
	switch kind {
	case EventError:
		p.mu.Lock()
		p.dead = true
		p.errCount++
		p.mu.Unlock()
		p.logger.Error("engine error", "detail", line)
	case EventEOS:
		p.mu.Lock()
		p.dead = true
		p.mu.Unlock()
		p.logger.Info("engine reached end of stream", "detail", line)
	case EventWarning:
		p.mu.Lock()
		p.warnings++
		p.mu.Unlock()
		p.logger.Warn("engine warning", "detail", line)
	case EventFrameDrop:
		p.mu.Lock()
		p.drops++
		drops := p.drops
		p.mu.Unlock()
		if drops%100 == 1 {
			p.logger.Debug("engine dropping frames", "total", drops)
		}
	case EventStateChange:
		if state := stateFromLine(line); state != "" {
			p.mu.Lock()
			p.state = state
			p.mu.Unlock()
		}
		p.logger.Debug("engine state change", "detail", line)
	case EventProgress:
		p.logger.Debug("engine progress", "detail", line)
	}
}

// eventWriter splits engine output into lines and feeds them through the
// classifier. Unclassified lines are logged at debug level.
type eventWriter struct {
	process *Process
	stream  string
	pending []byte
}

func (w *eventWriter) Write(data []byte) (int, error) {
	total := len(data)
	w.pending = append(w.pending, data...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSpace(w.pending[:idx]))
		w.pending = w.pending[idx+1:]
		if line == "" {
			continue
		}
		if kind, ok := classifyLine(line); ok {
			w.process.handleEvent(kind, line)
		} else {
			w.process.logger.Debug("engine output", "stream", w.stream, "line", line)
		}
	}
	return total, nil
}

// splitDescription tokenises a graph description, honouring double-quoted
// values so names with spaces survive as single arguments.
func splitDescription(description string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	for _, r := range description {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
