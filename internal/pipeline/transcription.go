package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/sinks"
	"github.com/taocao/diart/internal/window"
)

// Transcription transcribes a stream chunk by chunk. It keeps no state
// across calls. When a segmenter is provided, chunks without detected voice
// skip speech recognition entirely and yield empty strings, preserving batch
// order and alignment.
type Transcription struct {
	cfg        Config
	recognizer inference.SpeechRecognizer
	segmenter  inference.Segmenter // nil disables the voice pre-filter
	logger     *slog.Logger
}

// NewTranscription creates a transcription pipeline. The segmenter is
// optional: pass nil to transcribe every chunk.
func NewTranscription(cfg Config, recognizer inference.SpeechRecognizer, segmenter inference.Segmenter, logger *slog.Logger) (*Transcription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transcription config: %w", err)
	}
	if recognizer == nil {
		return nil, fmt.Errorf("speech recognizer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Transcription{
		cfg:        cfg,
		recognizer: recognizer,
		segmenter:  segmenter,
		logger:     logger,
	}, nil
}

// Config returns the resolved pipeline configuration.
func (p *Transcription) Config() Config {
	return p.cfg
}

// Reset is a no-op: the pipeline keeps no state across calls.
func (p *Transcription) Reset() {}

// SetTimestampShift is a no-op: transcription output carries no timestamps.
func (p *Transcription) SetTimestampShift(shift float64) {}

// Process transcribes the batch, running speech recognition only on chunks
// flagged as having voice. Outputs align one to one with the input batch:
// silent chunks yield empty strings at their original indices.
func (p *Transcription) Process(ctx context.Context, batch []window.Feature) ([]Output, error) {
	if err := validateBatch(p.cfg, batch); err != nil {
		return nil, err
	}

	hasVoice, err := p.voiceFlaggedIndices(ctx, batch)
	if err != nil {
		return nil, err
	}

	outputs := make([]Output, len(batch))
	for i, chunk := range batch {
		outputs[i] = Output{Waveform: chunk}
	}

	// The whole batch may be silent. Not an error: empty strings keep the
	// batch alignment.
	if len(hasVoice) == 0 {
		p.logger.Debug("No voice detected in batch", slog.Int("batch_size", len(batch)))
		return outputs, nil
	}

	voiced := make([]window.Feature, len(hasVoice))
	for i, idx := range hasVoice {
		voiced[i] = batch[idx]
	}

	transcripts, err := p.recognizer.Transcribe(ctx, voiced)
	if err != nil {
		return nil, err
	}
	if len(transcripts) != len(voiced) {
		return nil, fmt.Errorf("recognizer returned %d transcripts for %d chunks", len(transcripts), len(voiced))
	}

	// Re-splice transcripts back into the original batch order.
	for i, idx := range hasVoice {
		outputs[idx].Text = transcripts[i].Text
	}

	return outputs, nil
}

// voiceFlaggedIndices returns the batch indices that should be transcribed,
// in ascending order. Without a segmenter every chunk is flagged.
func (p *Transcription) voiceFlaggedIndices(ctx context.Context, batch []window.Feature) ([]int, error) {
	if p.segmenter == nil {
		all := make([]int, len(batch))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	segmentations, err := p.segmenter.Segment(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(segmentations) != len(batch) {
		return nil, fmt.Errorf("segmenter returned %d predictions for %d chunks", len(segmentations), len(batch))
	}

	var flagged []int
	for i, scores := range segmentations {
		voice := collapseSpeakers(scores)
		for _, frame := range voice {
			if float64(frame[0]) >= p.cfg.TauActive {
				flagged = append(flagged, i)
				break
			}
		}
	}
	return flagged, nil
}

// JoinPredictions concatenates the per-chunk transcriptions with newlines,
// skipping silent chunks.
func (p *Transcription) JoinPredictions(outputs []Output) Output {
	texts := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if out.Text != "" {
			texts = append(texts, out.Text)
		}
	}
	return Output{Text: strings.Join(texts, "\n")}
}

// WritePrediction persists the transcription as a plain-text file named
// after the stream URI.
func (p *Transcription) WritePrediction(uri string, output Output, dirPath string) error {
	path := filepath.Join(dirPath, uri+".txt")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	return sinks.WriteText(file, output.Text)
}
