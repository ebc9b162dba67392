package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/taocao/diart/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "diart"
	serviceVersion    = "1.0.0"
)

var (
	configPath string

	// Hyperparameter overrides; negative means "use the config value".
	flagStep    float64
	flagLatency string
	flagTau     float64
)

func main() {
	root := &cobra.Command{
		Use:     serviceName,
		Short:   "Streaming voice activity detection and transcription pipelines",
		Version: serviceVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().Float64Var(&flagStep, "step", -1, "Seconds of new audio admitted per chunk")
	root.PersistentFlags().StringVar(&flagLatency, "latency", "", "Look-ahead in seconds, or \"min\"/\"max\"")
	root.PersistentFlags().Float64Var(&flagTau, "tau-active", -1, "Voice activation threshold")

	root.AddCommand(newVADCommand())
	root.AddCommand(newTranscribeCommand())
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// No config file: run on defaults.
		cfg = config.Default()
	}

	if flagStep > 0 {
		cfg.Audio.Step = flagStep
	}
	if flagLatency != "" {
		cfg.VAD.Latency = flagLatency
	}
	if flagTau >= 0 {
		cfg.VAD.TauActive = flagTau
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
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
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
