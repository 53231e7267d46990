package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vanb/internal/discovery"
	"vanb/internal/engine"
	"vanb/internal/observability/logging"
	"vanb/internal/observability/metrics"
	"vanb/internal/pipeline"
)

func main() {
	rtmpURL := flag.String("url", "", "RTMP source URL to pull from (required)")
	ndiName := flag.String("name", "", "NDI output name (auto-allocated when empty)")
	prefix := flag.String("prefix", discovery.DefaultNamePrefix, "prefix for auto-allocated NDI names")
	binary := flag.String("binary", engine.DefaultBinary, "pipeline launcher binary")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *rtmpURL == "" {
		fmt.Fprintln(os.Stderr, "usage: vanb-rx -url rtmp://host/app/stream [-name NDI-NAME]")
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: *logLevel})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := discovery.NewMDNSScanner(logger)
	manager := discovery.NewManager(scanner, logger, recorder)
	builder := pipeline.NewBuilder(manager, logger)
	factory := pipeline.NewFactory(*binary, logger, recorder)
	hooks := pipeline.Hooks{
		PreStart: func() error { return engine.Available(*binary) },
	}
	coordinator := pipeline.NewCoordinator(builder, factory, nil, hooks, logger, recorder)

	params := pipeline.Params{
		RTMPURL:    *rtmpURL,
		NDIName:    *ndiName,
		NamePrefix: *prefix,
	}
	if !coordinator.StartPipeline(ctx, pipeline.ModeReceive, params) {
		logger.Error("receive pipeline failed to start")
		os.Exit(1)
	}

	<-ctx.Done()
	coordinator.StopPipeline(context.Background())
	logger.Info("vanb-rx stopped")
}
