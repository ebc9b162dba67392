package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/sinks"
	"github.com/taocao/diart/internal/transcription"
)

func newTranscribeCommand() *cobra.Command {
	var (
		outputDir string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio.wav>",
		Short: "Transcribe an audio file through the remote ASR service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Logging)

			if err := cfg.Transcription.Validate(); err != nil {
				return err
			}

			recognizer, err := transcription.NewClient(transcription.Config{
				Endpoint:      cfg.Transcription.Endpoint,
				APIKey:        cfg.Transcription.APIKey,
				Timeout:       cfg.Transcription.GetTimeoutDuration(),
				MaxRetries:    cfg.Transcription.MaxRetries,
				MaxConcurrent: cfg.Transcription.MaxConcurrent,
				Language:      cfg.Transcription.Language,
				Model:         cfg.Transcription.Model,
				ChunkDuration: cfg.Audio.Duration,
				SampleRate:    cfg.Audio.SampleRate,
			}, nil)
			if err != nil {
				return err
			}

			var segmenter inference.Segmenter
			if cfg.Transcription.EnableVoiceFilter {
				segmenter, err = buildSegmenter(cfg)
				if err != nil {
					return err
				}
			}

			pipeCfg, err := cfg.ResolveTranscription(recognizer)
			if err != nil {
				return err
			}

			asr, err := pipeline.NewTranscription(pipeCfg, recognizer, segmenter, logger)
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
				out, err := asr.Process(cmd.Context(), batch)
				if err != nil {
					return err
				}
				outputs = append(outputs, out...)
			}

			final := asr.JoinPredictions(outputs)
			uri := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			if outputDir != "" {
				if err := os.MkdirAll(outputDir, 0755); err != nil {
					return err
				}
				if err := asr.WritePrediction(uri, final, outputDir); err != nil {
					return err
				}
				logger.Info("Wrote transcription",
					"uri", uri,
					"path", filepath.Join(outputDir, uri+".txt"),
				)
			}

			if final.Text == "" {
				fmt.Fprintln(os.Stderr, "no speech detected")
				return nil
			}
			return sinks.WriteText(os.Stdout, final.Text)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to write the transcription into")
	cmd.Flags().IntVar(&batchSize, "batch-size", 4, "Chunks per inference batch")
	return cmd
}
