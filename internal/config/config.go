package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/pipeline"
)

// Config represents the complete service configuration.
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains chunking parameters shared by all pipelines.
type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Duration   float64 `yaml:"duration"` // seconds; 0 defaults to the model's chunk duration
	Step       float64 `yaml:"step"`     // seconds
}

// SegmentationConfig configures the energy-based segmentation model stand-in.
type SegmentationConfig struct {
	FramesPerChunk int     `yaml:"frames_per_chunk"`
	ReferenceLevel float64 `yaml:"reference_level"` // RMS amplitude mapped to score 1.0
}

// VADConfig contains the voice activity pipeline hyperparameters.
type VADConfig struct {
	TauActive   float64 `yaml:"tau_active"`
	Latency     string  `yaml:"latency"` // seconds, or "min"/"max"; empty means "min"
	MergeCollar float64 `yaml:"merge_collar"`
}

// TranscriptionConfig contains the transcription pipeline and ASR client
// configuration.
type TranscriptionConfig struct {
	Endpoint          string `yaml:"endpoint"`
	APIKey            string `yaml:"api_key"`
	Timeout           int    `yaml:"timeout"` // seconds
	MaxRetries        int    `yaml:"max_retries"`
	MaxConcurrent     int    `yaml:"max_concurrent"`
	Language          string `yaml:"language"`
	Model             string `yaml:"model"`
	EnableVoiceFilter bool   `yaml:"enable_voice_filter"`
}

// ServerConfig contains HTTP/WebSocket server configuration.
type ServerConfig struct {
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	SessionTimeout int    `yaml:"session_timeout"` // seconds of idle before a session is evicted
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			Duration:   0, // from the model
			Step:       0.5,
		},
		Segmentation: SegmentationConfig{
			FramesPerChunk: 100,
			ReferenceLevel: 0.1,
		},
		VAD: VADConfig{
			TauActive:   0.5,
			Latency:     "min",
			MergeCollar: 0.05,
		},
		Transcription: TranscriptionConfig{
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           8080,
			SessionTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applying defaults for
// absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the full configuration.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Duration < 0 {
		return fmt.Errorf("duration cannot be negative, got %f", a.Duration)
	}
	if a.Step <= 0 {
		return fmt.Errorf("step must be positive, got %f", a.Step)
	}
	return nil
}

// Validate validates segmentation configuration.
func (s *SegmentationConfig) Validate() error {
	if s.FramesPerChunk <= 0 {
		return fmt.Errorf("frames_per_chunk must be positive, got %d", s.FramesPerChunk)
	}
	if s.ReferenceLevel <= 0 {
		return fmt.Errorf("reference_level must be positive, got %f", s.ReferenceLevel)
	}
	return nil
}

// Validate validates VAD configuration.
func (v *VADConfig) Validate() error {
	if v.TauActive < 0 || v.TauActive > 1 {
		return fmt.Errorf("tau_active must be between 0 and 1, got %f", v.TauActive)
	}
	if v.MergeCollar < 0 {
		return fmt.Errorf("merge_collar cannot be negative, got %f", v.MergeCollar)
	}
	if v.Latency != "" && v.Latency != "min" && v.Latency != "max" {
		if _, err := strconv.ParseFloat(v.Latency, 64); err != nil {
			return fmt.Errorf("latency must be a number in seconds, \"min\" or \"max\", got %q", v.Latency)
		}
	}
	return nil
}

// Validate validates transcription configuration. Called only when the
// transcription pipeline is in use: the endpoint is not required otherwise.
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration.
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetSessionTimeout returns the session idle timeout as a time.Duration.
func (s *ServerConfig) GetSessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// resolveLatency resolves the latency field against the step and duration,
// handling the "min" and "max" aliases.
func (v *VADConfig) resolveLatency(step, duration float64) (float64, error) {
	switch v.Latency {
	case "", "min":
		return step, nil
	case "max":
		return duration, nil
	default:
		latency, err := strconv.ParseFloat(v.Latency, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid latency %q: %w", v.Latency, err)
		}
		return latency, nil
	}
}

// ResolveVAD produces the immutable voice activity pipeline configuration,
// defaulting the chunk duration and sample rate from the segmentation model.
func (c *Config) ResolveVAD(segmenter inference.Segmenter) (pipeline.Config, error) {
	duration := c.Audio.Duration
	if duration == 0 {
		duration = segmenter.ChunkDuration()
	}
	sampleRate := c.Audio.SampleRate
	if sampleRate == 0 {
		sampleRate = segmenter.SampleRate()
	}

	latency, err := c.VAD.resolveLatency(c.Audio.Step, duration)
	if err != nil {
		return pipeline.Config{}, err
	}

	cfg := pipeline.Config{
		Duration:    duration,
		Step:        c.Audio.Step,
		Latency:     latency,
		SampleRate:  sampleRate,
		TauActive:   c.VAD.TauActive,
		MergeCollar: c.VAD.MergeCollar,
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// ResolveTranscription produces the immutable transcription pipeline
// configuration. The transcription pipeline admits a full chunk of new audio
// per call, so step and latency both equal the chunk duration.
func (c *Config) ResolveTranscription(recognizer inference.SpeechRecognizer) (pipeline.Config, error) {
	duration := c.Audio.Duration
	if duration == 0 {
		duration = recognizer.ChunkDuration()
	}
	sampleRate := c.Audio.SampleRate
	if sampleRate == 0 {
		sampleRate = recognizer.SampleRate()
	}

	cfg := pipeline.Config{
		Duration:    duration,
		Step:        duration,
		Latency:     duration,
		SampleRate:  sampleRate,
		TauActive:   c.VAD.TauActive,
		MergeCollar: c.VAD.MergeCollar,
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}
