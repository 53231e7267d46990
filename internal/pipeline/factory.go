package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"vanb/internal/engine"
	"vanb/internal/observability/metrics"
)

// ErrConstruction indicates the factory could not build an engine handle.
var ErrConstruction = errors.New("pipeline construction failed")

// HandleConstructor builds an engine handle from a validated config.
type HandleConstructor func(Config) (engine.Handle, error)

// Factory maps modes to handle constructors. The mode set is closed; there
// is no runtime registration.
type Factory struct {
	constructors map[Mode]HandleConstructor
	logger       *slog.Logger
}

// NewFactory constructs the factory with engine-subprocess constructors for
// both modes. binary overrides the engine launcher (empty means default).
func NewFactory(binary string, logger *slog.Logger, recorder *metrics.Recorder) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	build := func(cfg Config) (engine.Handle, error) {
		return engine.New(engine.Config{
			Description: cfg.Description(),
			Binary:      binary,
			Logger:      logger,
			Recorder:    recorder,
		}), nil
	}
	return &Factory{
		constructors: map[Mode]HandleConstructor{
			ModeReceive:  build,
			ModeTransmit: build,
		},
		logger: logger,
	}
}

// NewFactoryWithConstructors builds a factory over an explicit constructor
// table. It exists for tests and for embedding the orchestrator against a
// non-subprocess engine.
func NewFactoryWithConstructors(constructors map[Mode]HandleConstructor, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[Mode]HandleConstructor, len(constructors))
	for mode, ctor := range constructors {
		table[mode] = ctor
	}
	return &Factory{constructors: table, logger: logger}
}

// Create builds an engine handle for the mode. The config is revalidated
// even though the builder already did so; on any failure Create logs and
// returns nil, never a partial handle.
func (f *Factory) Create(mode Mode, cfg Config) engine.Handle {
	constructor, ok := f.constructors[mode]
	if !ok {
		f.logger.Error("unknown pipeline mode", "mode", mode.String())
		return nil
	}
	if cfg == nil {
		f.logger.Error("nil pipeline config", "mode", mode.String())
		return nil
	}
	if cfg.Mode() != mode {
		f.logger.Error("config mode mismatch", "mode", mode.String(), "config_mode", cfg.Mode().String())
		return nil
	}
	if err := cfg.Validate(); err != nil {
		f.logger.Error("pipeline config failed validation", "mode", mode.String(), "error", err)
		return nil
	}
	handle, err := constructor(cfg)
	if err != nil || handle == nil {
		f.logger.Error("pipeline construction failed", "mode", mode.String(), "error", fmt.Errorf("%w: %v", ErrConstruction, err))
		return nil
	}
	f.logger.Info("pipeline handle created", "mode", mode.String())
	return handle
}
