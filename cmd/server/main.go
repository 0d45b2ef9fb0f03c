package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/server"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "realtime-meeting-transcription"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		slog.String("mode", string(cfg.Server.Mode)),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.String("provider", cfg.Provider.ID),
		slog.String("provider_endpoint", cfg.Provider.Endpoint),
		slog.Bool("recording_enabled", cfg.Recording.Enabled),
		slog.Bool("transcript_enabled", cfg.Transcript.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	adapter, err := provider.New(cfg.Provider)
	if err != nil {
		logger.Error("Failed to create provider adapter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Provider adapter initialized", slog.String("provider", adapter.ID()))

	sess := session.New(session.Options{
		Logger:     logger,
		Metrics:    appMetrics,
		Adapter:    adapter,
		Mode:       cfg.Server.Mode,
		Audio:      cfg.Audio,
		Provider:   cfg.Provider,
		Recording:  cfg.Recording,
		Transcript: cfg.Transcript,
	})

	srv := server.New(cfg, logger, appMetrics, sess)
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully",
		slog.String("address", srv.Addr()),
		slog.String("session_id", sess.ID),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		sess.Drain("shutdown signal")
	case <-sess.Done():
		logger.Info("Session completed")
	}

	// Drain is idempotent; make sure teardown ran before stopping the
	// listener.
	sess.Drain("service stopping")
	<-sess.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped", slog.Int("exit_code", sess.ExitCode()))
	os.Exit(sess.ExitCode())
}

// initLogger creates the structured logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
