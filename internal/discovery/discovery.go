// Package discovery locates NDI peers on the local network and allocates
// collision-free output names against the currently visible peer set.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"vanb/internal/observability/metrics"
)

// Source is a discovered NDI peer. Sources are produced fresh on every scan
// and never persisted.
type Source struct {
	Name   string
	Active bool
}

// ErrScanFailed indicates the discovery mechanism itself failed to
// initialise. It is distinct from a scan that completed and found nothing.
var ErrScanFailed = errors.New("discovery scan failed to initialise")

// Scanner performs a bounded-timeout scan of the network, returning the
// identifiers of every peer seen before the timeout elapsed. Implementations
// must return ErrScanFailed (possibly wrapped) when the underlying transport
// could not be set up, and an empty slice when the scan ran but saw nothing.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]string, error)
}

// DefaultScanTimeout bounds a discovery scan when the caller does not supply
// its own timeout.
const DefaultScanTimeout = 3 * time.Second

// scanPollInterval is the accumulation sub-interval within one scan window.
const scanPollInterval = 500 * time.Millisecond

// Manager wraps a Scanner with logging, metrics, and name allocation.
type Manager struct {
	scanner  Scanner
	logger   *slog.Logger
	recorder *metrics.Recorder

	// DefaultTimeout is used when a caller passes a non-positive scan
	// timeout. Zero falls back to DefaultScanTimeout.
	DefaultTimeout time.Duration
}

// NewManager constructs a Manager around the provided scanner.
func NewManager(scanner Scanner, logger *slog.Logger, recorder *metrics.Recorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Manager{scanner: scanner, logger: logger, recorder: recorder}
}

// ScanSources scans for peers and returns them sorted by name. Every peer
// that answered during the scan window is reported active. A nil slice with
// an error means discovery itself failed; an empty slice means the scan ran
// and found nothing.
func (m *Manager) ScanSources(ctx context.Context, timeout time.Duration) ([]Source, error) {
	if timeout <= 0 {
		timeout = m.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	names, err := m.scanner.Scan(ctx, timeout)
	if err != nil {
		m.recorder.ObserveScan(true, 0)
		m.logger.Error("NDI discovery failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	m.recorder.ObserveScan(false, len(names))

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, Source{Name: name, Active: true})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	if len(sources) == 0 {
		m.logger.Debug("no NDI sources found", "timeout", timeout)
	} else {
		for _, source := range sources {
			m.logger.Debug("discovered NDI source", "name", source.Name)
		}
	}
	return sources, nil
}

// AllocateName scans the current peer namespace and returns a free
// `prefix-<n>` output name. A failed scan is soft: allocation proceeds
// against an empty namespace, matching the behaviour of a network with no
// visible peers.
func (m *Manager) AllocateName(ctx context.Context, prefix string) (string, error) {
	sources, err := m.ScanSources(ctx, 0)
	if err != nil {
		sources = nil
	}
	existing := make([]string, 0, len(sources))
	for _, source := range sources {
		existing = append(existing, source.Name)
	}
	name, err := AllocateName(prefix, existing)
	if err != nil {
		return "", err
	}
	m.logger.Info("allocated NDI output name", "name", name)
	return name, nil
}
