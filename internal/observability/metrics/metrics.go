package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// PipelineEventLabel identifies a pipeline lifecycle event by mode
// ("receive" or "transmit") and outcome ("start", "stop", "restart",
// "start_failed", "terminal").
type PipelineEventLabel struct {
	Mode   string
	Status string
}

// Recorder aggregates in-memory counters and gauges for control-API requests,
// pipeline lifecycle events, discovery scans, and engine activity. It
// coordinates concurrent writers via a RWMutex while exposing a thread-safe
// gauge for the active pipeline.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	pipelineEvents   map[PipelineEventLabel]uint64
	engineEvents     map[string]uint64
	scanAttempts     uint64
	scanFailures     uint64
	peersLastSeen    int64
	frameDrops       uint64
	activePipelines  atomic.Int64
	restartsApproved uint64
	restartsDenied   uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		pipelineEvents:  make(map[PipelineEventLabel]uint64),
		engineEvents:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, path, and status.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// PipelineStarted records a successful pipeline start for the given mode and
// increments the active pipeline gauge.
func (r *Recorder) PipelineStarted(mode string) {
	r.recordPipelineEvent(mode, "start")
	r.activePipelines.Add(1)
}

// PipelineStopped records a stop for the given mode and decrements the active
// pipeline gauge, guarding against negative counts.
func (r *Recorder) PipelineStopped(mode string) {
	r.recordPipelineEvent(mode, "stop")
	r.decrementGauge(&r.activePipelines)
}

// PipelineStartFailed records a start attempt that produced no context.
func (r *Recorder) PipelineStartFailed(mode string) {
	r.recordPipelineEvent(mode, "start_failed")
}

// PipelineRestarted records a supervisor-driven restart of the given mode.
func (r *Recorder) PipelineRestarted(mode string) {
	r.recordPipelineEvent(mode, "restart")
}

// PipelineTerminal records a pipeline entering the retry-exhausted state.
func (r *Recorder) PipelineTerminal(mode string) {
	r.recordPipelineEvent(mode, "terminal")
	r.decrementGauge(&r.activePipelines)
}

func (r *Recorder) recordPipelineEvent(mode, status string) {
	label := PipelineEventLabel{Mode: normalizeName(mode), Status: normalizeName(status)}
	r.mu.Lock()
	r.pipelineEvents[label]++
	r.mu.Unlock()
}

// RestartDecision records the outcome of a HandleError call on the lifecycle
// manager: approved means the supervisor will attempt a restart.
func (r *Recorder) RestartDecision(approved bool) {
	r.mu.Lock()
	if approved {
		r.restartsApproved++
	} else {
		r.restartsDenied++
	}
	r.mu.Unlock()
}

// ObserveScan records a discovery scan and the number of peers it returned.
// Failed scans (discovery init failures) pass failed=true and a zero count.
func (r *Recorder) ObserveScan(failed bool, peers int) {
	r.mu.Lock()
	r.scanAttempts++
	if failed {
		r.scanFailures++
	} else {
		r.peersLastSeen = int64(peers)
	}
	r.mu.Unlock()
}

// ObserveEngineEvent counts engine bus events by kind ("error", "warning",
// "frame_drop", "state_change", "eos", "progress").
func (r *Recorder) ObserveEngineEvent(kind string) {
	normalized := normalizeName(kind)
	r.mu.Lock()
	r.engineEvents[normalized]++
	if normalized == "frame_drop" {
		r.frameDrops++
	}
	r.mu.Unlock()
}

// ActivePipelines exposes the current gauge of running pipelines. The
// orchestrator holds at most one, so values other than 0 and 1 indicate a
// bookkeeping bug.
func (r *Recorder) ActivePipelines() int64 {
	return r.activePipelines.Load()
}

// PipelineEventCounts returns a copy of the lifecycle event counters.
func (r *Recorder) PipelineEventCounts() map[PipelineEventLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[PipelineEventLabel]uint64, len(r.pipelineEvents))
	for k, v := range r.pipelineEvents {
		events[k] = v
	}
	return events
}

// ScanCounts returns the discovery scan attempt and failure totals.
func (r *Recorder) ScanCounts() (attempts, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanAttempts, r.scanFailures
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.pipelineEvents = make(map[PipelineEventLabel]uint64)
	r.engineEvents = make(map[string]uint64)
	r.scanAttempts = 0
	r.scanFailures = 0
	r.peersLastSeen = 0
	r.frameDrops = 0
	r.restartsApproved = 0
	r.restartsDenied = 0
	r.activePipelines.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	pipelineLabels := r.sortedPipelineLabels()
	engineKinds := r.sortedEngineKinds()

	fmt.Fprintln(w, "# HELP vanb_http_requests_total Total number of control-API requests processed")
	fmt.Fprintln(w, "# TYPE vanb_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vanb_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vanb_http_request_duration_seconds_sum Cumulative duration of control-API requests in seconds")
	fmt.Fprintln(w, "# TYPE vanb_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "vanb_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP vanb_pipeline_events_total Pipeline lifecycle events by mode and status")
	fmt.Fprintln(w, "# TYPE vanb_pipeline_events_total counter")
	for _, label := range pipelineLabels {
		count := r.pipelineEvents[label]
		fmt.Fprintf(w, "vanb_pipeline_events_total{mode=\"%s\",status=\"%s\"} %d\n", label.Mode, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP vanb_active_pipelines Current number of running pipelines (0 or 1)")
	fmt.Fprintln(w, "# TYPE vanb_active_pipelines gauge")
	fmt.Fprintf(w, "vanb_active_pipelines %d\n", r.activePipelines.Load())

	fmt.Fprintln(w, "# HELP vanb_restart_decisions_total Supervisor restart decisions by outcome")
	fmt.Fprintln(w, "# TYPE vanb_restart_decisions_total counter")
	fmt.Fprintf(w, "vanb_restart_decisions_total{outcome=\"approved\"} %d\n", r.restartsApproved)
	fmt.Fprintf(w, "vanb_restart_decisions_total{outcome=\"denied\"} %d\n", r.restartsDenied)

	fmt.Fprintln(w, "# HELP vanb_discovery_scans_total Total NDI discovery scans attempted")
	fmt.Fprintln(w, "# TYPE vanb_discovery_scans_total counter")
	fmt.Fprintf(w, "vanb_discovery_scans_total %d\n", r.scanAttempts)

	fmt.Fprintln(w, "# HELP vanb_discovery_scan_failures_total Discovery scans that failed to initialise")
	fmt.Fprintln(w, "# TYPE vanb_discovery_scan_failures_total counter")
	fmt.Fprintf(w, "vanb_discovery_scan_failures_total %d\n", r.scanFailures)

	fmt.Fprintln(w, "# HELP vanb_discovery_peers Peers returned by the most recent successful scan")
	fmt.Fprintln(w, "# TYPE vanb_discovery_peers gauge")
	fmt.Fprintf(w, "vanb_discovery_peers %d\n", r.peersLastSeen)

	fmt.Fprintln(w, "# HELP vanb_engine_events_total Engine bus events by kind")
	fmt.Fprintln(w, "# TYPE vanb_engine_events_total counter")
	for _, kind := range engineKinds {
		count := r.engineEvents[kind]
		fmt.Fprintf(w, "vanb_engine_events_total{kind=\"%s\"} %d\n", kind, count)
	}

	fmt.Fprintln(w, "# HELP vanb_frame_drops_total Frame drops reported by the engine")
	fmt.Fprintln(w, "# TYPE vanb_frame_drops_total counter")
	fmt.Fprintf(w, "vanb_frame_drops_total %d\n", r.frameDrops)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedPipelineLabels() []PipelineEventLabel {
	labels := make([]PipelineEventLabel, 0, len(r.pipelineEvents))
	for label := range r.pipelineEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Mode != labels[j].Mode {
			return labels[i].Mode < labels[j].Mode
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedEngineKinds() []string {
	kinds := make([]string, 0, len(r.engineEvents))
	for kind := range r.engineEvents {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
