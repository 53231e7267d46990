package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"vanb/internal/config"
	"vanb/internal/discovery"
	"vanb/internal/engine"
	"vanb/internal/history"
	"vanb/internal/observability/logging"
	"vanb/internal/observability/metrics"
	"vanb/internal/pipeline"
	"vanb/internal/server"
	"vanb/internal/status"
)

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func main() {
	addr := flag.String("addr", "", "control API listen address (overrides VANB_ADDR)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	hashToken := flag.String("hash-token", "", "print the PBKDF2 hash for a control token and exit")
	flag.Parse()

	if *hashToken != "" {
		hashed, err := server.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hashed)
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store history.Store
	if cfg.HistoryDSN != "" {
		pgStore, err := history.NewPostgresStore(ctx, cfg.HistoryDSN)
		if err != nil {
			logger.Error("postgres history unavailable", "error", err)
			os.Exit(1)
		}
		store = pgStore
		logger.Info("run history backed by postgres")
	} else {
		store = history.NewMemoryStore(cfg.HistoryCapacity)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("close history store", "error", err)
		}
	}()

	var publisher status.Publisher = status.NoopPublisher{}
	if cfg.RedisAddr != "" {
		redisPublisher, err := status.NewRedisPublisher(status.RedisConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			Key:      cfg.StatusKey,
			TTL:      cfg.StatusTTL,
		})
		if err != nil {
			logger.Error("redis status publisher unavailable", "error", err)
			os.Exit(1)
		}
		publisher = redisPublisher
		logger.Info("status snapshots published to redis", "key", cfg.StatusKey)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close status publisher", "error", err)
		}
	}()

	scanner := discovery.NewMDNSScanner(logger)
	manager := discovery.NewManager(scanner, logger, recorder)
	manager.DefaultTimeout = cfg.ScanTimeout
	builder := pipeline.NewBuilder(manager, logger)
	builder.DefaultPrefix = cfg.NamePrefix
	factory := pipeline.NewFactory(cfg.LauncherBinary, logger, recorder)
	hooks := pipeline.Hooks{
		PreStart: func() error { return engine.Available(cfg.LauncherBinary) },
	}
	coordinator := pipeline.NewCoordinator(builder, factory, store, hooks, logger, recorder)
	defer coordinator.StopPipeline(context.Background())

	handler := server.NewHandler(coordinator, manager)
	srv, err := server.New(handler, server.Config{
		Addr:     firstNonEmpty(*addr, cfg.Addr),
		TLS:      server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		Logger:   logger,
		Metrics:  recorder,
		Verifier: server.NewTokenVerifier(cfg.ControlTokenHash, cfg.ControlToken),
	})
	if err != nil {
		logger.Error("configure control server", "error", err)
		os.Exit(1)
	}

	reporter := status.NewReporter(publisher, func() status.Snapshot {
		snapshot := status.Snapshot{Running: coordinator.IsRunning()}
		if mode, ok := coordinator.CurrentMode(); ok {
			snapshot.Mode = mode.String()
		}
		snapshot.Stats = coordinator.Stats()
		return snapshot
	}, cfg.StatusInterval, logger)

	logger.Info("vanbd starting", "addr", firstNonEmpty(*addr, cfg.Addr), "launcher", cfg.LauncherBinary)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		err := reporter.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("vanbd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("vanbd stopped")
}
