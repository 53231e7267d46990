// Package pipeline contains the orchestration core: mode-tagged pipeline
// configuration, the closed pipeline factory, the lifecycle manager with its
// bounded retry state, the health monitor, and the coordinator that owns the
// single active pipeline context.
package pipeline

import (
	"fmt"
	"strings"
)

// Mode selects the bridge direction. It is fixed for the lifetime of a
// pipeline context.
type Mode int

const (
	// ModeReceive pulls from an RTMP endpoint and publishes an NDI output.
	ModeReceive Mode = iota + 1
	// ModeTransmit consumes an NDI source and pushes to an RTMP endpoint.
	ModeTransmit
)

// String returns the lowercase mode tag used in logs, metrics, and the
// control API.
func (m Mode) String() string {
	switch m {
	case ModeReceive:
		return "receive"
	case ModeTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode tag (long or short form) to a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "receive", "rx":
		return ModeReceive, nil
	case "transmit", "tx":
		return ModeTransmit, nil
	default:
		return 0, fmt.Errorf("unsupported pipeline mode %q", value)
	}
}
