// Package engine drives the external media engine as an opaque subprocess.
// The engine consumes a textual graph description and is supervised purely
// through process liveness and the event stream it emits; the grammar of the
// description is entirely the engine's concern.
package engine

import "time"

// Stats is a snapshot of engine-reported counters for the running graph.
type Stats struct {
	State      string        `json:"state"`
	FrameDrops uint64        `json:"frameDrops"`
	Errors     uint64        `json:"errors"`
	Warnings   uint64        `json:"warnings"`
	Uptime     time.Duration `json:"uptime"`
}

// Handle is the consumed media-engine abstraction. Create prepares the
// graph, Start launches it, Stop tears it down best-effort, VerifyStream is
// a liveness check confirming the engine is actively processing (not merely
// instantiated), and Run blocks until the engine exits on its own.
type Handle interface {
	Create() error
	Start() error
	Stop()
	VerifyStream() bool
	Stats() Stats
	Run() error
}
