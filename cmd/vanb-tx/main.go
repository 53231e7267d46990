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
	rtmpURL := flag.String("url", "", "RTMP destination URL to push to (required)")
	source := flag.String("source", "", "NDI source name (first active source when empty)")
	videoBitrate := flag.Int("video-bitrate", pipeline.DefaultVideoBitrate, "video bitrate in kbit/s")
	audioBitrate := flag.Int("audio-bitrate", pipeline.DefaultAudioBitrate, "audio bitrate in bit/s")
	binary := flag.String("binary", engine.DefaultBinary, "pipeline launcher binary")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *rtmpURL == "" {
		fmt.Fprintln(os.Stderr, "usage: vanb-tx -url rtmp://host/app/stream [-source NDI-SOURCE]")
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
		RTMPURL:      *rtmpURL,
		NDISource:    *source,
		VideoBitrate: *videoBitrate,
		AudioBitrate: *audioBitrate,
	}
	if !coordinator.StartPipeline(ctx, pipeline.ModeTransmit, params) {
		logger.Error("transmit pipeline failed to start")
		os.Exit(1)
	}

	<-ctx.Done()
	coordinator.StopPipeline(context.Background())
	logger.Info("vanb-tx stopped")
}
