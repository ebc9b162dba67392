package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taocao/diart/internal/config"
	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/metrics"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/server"
	"github.com/taocao/diart/internal/stream"
	"github.com/taocao/diart/internal/transcription"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming HTTP/WebSocket service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Logging)

			logger.Info("Service starting",
				slog.String("service", serviceName),
				slog.String("version", serviceVersion),
				slog.String("config_path", configPath),
			)
			logger.Info("Configuration loaded",
				slog.String("bind_address", cfg.Server.Address),
				slog.Int("port", cfg.Server.Port),
				slog.Int("sample_rate", cfg.Audio.SampleRate),
				slog.Float64("step", cfg.Audio.Step),
				slog.String("latency", cfg.VAD.Latency),
				slog.Float64("tau_active", cfg.VAD.TauActive),
				slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
				slog.String("log_level", cfg.Logging.Level),
			)

			appMetrics := metrics.NewMetrics()
			logger.Info("Prometheus metrics initialized")

			factory, err := newPipelineFactory(cfg, appMetrics, logger)
			if err != nil {
				return err
			}

			manager, err := stream.NewManager(logger, appMetrics, factory, cfg.Server.GetSessionTimeout())
			if err != nil {
				return fmt.Errorf("failed to create session manager: %w", err)
			}
			logger.Info("Session manager initialized",
				slog.Duration("session_timeout", cfg.Server.GetSessionTimeout()),
			)

			httpServer := server.NewHTTPServer(cfg, logger, manager, appMetrics)
			if err := httpServer.Start(); err != nil {
				return fmt.Errorf("failed to start HTTP server: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			logger.Info("Service started successfully, waiting for signals...",
				slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
			)

			select {
			case sig := <-sigChan:
				logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			case <-cmd.Context().Done():
				logger.Info("Context cancelled, shutting down")
			}

			logger.Info("Starting graceful shutdown...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}

			manager.Stop()

			logger.Info("Service stopped")
			return nil
		},
	}
}

// newPipelineFactory wires the configured models into per-session pipelines.
// Every session gets a fresh pipeline instance so that rolling buffers are
// never shared across streams.
func newPipelineFactory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (stream.PipelineFactory, error) {
	// The transcription client is stateless per request and safe to share;
	// validate its configuration once if transcription sessions are possible.
	var recognizer inference.SpeechRecognizer
	if cfg.Transcription.Endpoint != "" {
		if err := cfg.Transcription.Validate(); err != nil {
			return nil, err
		}
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
			ChunkDuration: cfg.Audio.Duration,
			SampleRate:    cfg.Audio.SampleRate,
		}, m)
		if err != nil {
			return nil, err
		}
		recognizer = client
	}

	return func(kind stream.Kind) (pipeline.StreamingPipeline, error) {
		switch kind {
		case stream.KindVoiceActivity:
			segmenter, err := buildSegmenter(cfg)
			if err != nil {
				return nil, err
			}
			pipeCfg, err := cfg.ResolveVAD(segmenter)
			if err != nil {
				return nil, err
			}
			return pipeline.NewVoiceActivityDetection(pipeCfg, segmenter, logger)

		case stream.KindTranscription:
			if recognizer == nil {
				return nil, fmt.Errorf("transcription endpoint is not configured")
			}
			var segmenter inference.Segmenter
			if cfg.Transcription.EnableVoiceFilter {
				var err error
				segmenter, err = buildSegmenter(cfg)
				if err != nil {
					return nil, err
				}
			}
			pipeCfg, err := cfg.ResolveTranscription(recognizer)
			if err != nil {
				return nil, err
			}
			return pipeline.NewTranscription(pipeCfg, recognizer, segmenter, logger)

		default:
			return nil, fmt.Errorf("unknown pipeline kind %q", kind)
		}
	}, nil
}
