package engine

import "strings"

// EventKind enumerates the engine bus events the supervisor reacts to. The
// set is closed: every kind has exactly one arm in the dispatch switch.
type EventKind int

const (
	// EventError is a fatal engine error; the graph is considered dead.
	EventError EventKind = iota
	// EventEOS signals the end of the stream; the graph is done.
	EventEOS
	// EventWarning is a non-fatal diagnostic.
	EventWarning
	// EventFrameDrop is a dropped-buffer warning, counted separately
	// because it feeds the stats surface.
	EventFrameDrop
	// EventStateChange reports a graph state transition.
	EventStateChange
	// EventProgress covers prerolling, clock, latency, and redistribution
	// notices emitted while the graph runs normally.
	EventProgress
)

// String returns the metric label for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	case EventWarning:
		return "warning"
	case EventFrameDrop:
		return "frame_drop"
	case EventStateChange:
		return "state_change"
	case EventProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// classifyLine maps one line of engine output to an event kind. Lines that
// carry no signal return ok=false and are logged verbatim at debug level.
func classifyLine(line string) (EventKind, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0, false
	}
	switch {
	case strings.HasPrefix(trimmed, "ERROR:") || strings.Contains(trimmed, "Execution ended after"):
		return EventError, true
	case strings.Contains(trimmed, "Got EOS from element") || strings.HasPrefix(trimmed, "EOS on shutdown"):
		return EventEOS, true
	case strings.Contains(trimmed, "Dropping"):
		return EventFrameDrop, true
	case strings.HasPrefix(trimmed, "WARNING:"):
		return EventWarning, true
	case strings.Contains(trimmed, "Setting pipeline to") || strings.Contains(trimmed, "Pipeline is live") || strings.Contains(trimmed, "Pipeline is PREROLLED"):
		return EventStateChange, true
	case strings.Contains(trimmed, "Prerolling") || strings.Contains(trimmed, "New clock") || strings.Contains(trimmed, "Redistribute latency"):
		return EventProgress, true
	default:
		return 0, false
	}
}

// stateFromLine extracts the target state from a state-change line, e.g.
// "Setting pipeline to PLAYING ..." yields "PLAYING".
func stateFromLine(line string) string {
	const marker = "Setting pipeline to "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(marker):]
	if end := strings.IndexAny(rest, " ."); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
