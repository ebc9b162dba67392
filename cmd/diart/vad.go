package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/config"
	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/sinks"
)

// defaultChunkDuration is used when neither the configuration nor the
// segmentation model pins the chunk length.
const defaultChunkDuration = 5.0

func newVADCommand() *cobra.Command {
	var (
		outputDir string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "vad <audio.wav>",
		Short: "Run streaming voice activity detection over an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Logging)

			segmenter, err := buildSegmenter(cfg)
			if err != nil {
				return err
			}

			pipeCfg, err := cfg.ResolveVAD(segmenter)
			if err != nil {
				return err
			}

			vad, err := pipeline.NewVoiceActivityDetection(pipeCfg, segmenter, logger)
			if err != nil {
				return err
			}

			path := args[0]
			source, err := audio.NewFileChunkSource(path, pipeCfg.SampleRate, pipeCfg.Duration, pipeCfg.Step)
			if err != nil {
				return err
			}

			batches, err := source.Batches(batchSize)
			if err != nil {
				return err
			}

			var outputs []pipeline.Output
			for _, batch := range batches {
				out, err := vad.Process(cmd.Context(), batch)
				if err != nil {
					return err
				}
				outputs = append(outputs, out...)
			}

			final := vad.JoinPredictions(outputs)
			uri := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			if outputDir != "" {
				if err := os.MkdirAll(outputDir, 0755); err != nil {
					return err
				}
				if err := vad.WritePrediction(uri, final, outputDir); err != nil {
					return err
				}
				logger.Info("Wrote RTTM prediction",
					"uri", uri,
					"path", filepath.Join(outputDir, uri+".rttm"),
				)
			}

			if final.Annotation != nil {
				annotation := *final.Annotation
				annotation.URI = uri
				if err := sinks.WriteRTTM(os.Stdout, &annotation); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to write the RTTM prediction into")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "Chunks per inference batch")
	return cmd
}

// buildSegmenter constructs the energy segmentation model from configuration.
func buildSegmenter(cfg *config.Config) (inference.Segmenter, error) {
	duration := cfg.Audio.Duration
	if duration == 0 {
		duration = defaultChunkDuration
	}
	sampleRate := cfg.Audio.SampleRate
	if sampleRate == 0 {
		return nil, fmt.Errorf("audio sample rate must be configured")
	}
	return inference.NewEnergySegmenter(duration, sampleRate, cfg.Segmentation.FramesPerChunk, cfg.Segmentation.ReferenceLevel)
}
