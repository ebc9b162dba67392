package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taocao/diart/internal/aggregation"
	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/sinks"
	"github.com/taocao/diart/internal/window"
)

// SpeechLabel is the single label attached to voice activity annotations.
const SpeechLabel = "speech"

// VoiceActivityDetection detects speech intervals in a simulated or live
// audio stream. Each incoming chunk advances a rolling buffer of overlapping
// predictions; settled output trails the stream head by the configured
// latency.
type VoiceActivityDetection struct {
	cfg       Config
	segmenter inference.Segmenter
	logger    *slog.Logger

	predAggregation  *aggregation.DelayedAggregation
	audioAggregation *aggregation.DelayedAggregation
	binarizer        *aggregation.Binarizer

	// Internal state, reset between streaming runs.
	timestampShift float64
	chunkBuffer    []window.Feature
	predBuffer     []window.Feature
}

// NewVoiceActivityDetection creates a voice activity pipeline. The
// configuration must already be resolved; latency outside [step, duration]
// is rejected here, at construction time.
func NewVoiceActivityDetection(cfg Config, segmenter inference.Segmenter, logger *slog.Logger) (*VoiceActivityDetection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("voice activity config: %w", err)
	}
	if segmenter == nil {
		return nil, fmt.Errorf("segmenter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	predAgg, err := aggregation.NewDelayedAggregation(cfg.Step, cfg.Latency, aggregation.StrategyHamming, window.CropLoose)
	if err != nil {
		return nil, fmt.Errorf("prediction aggregation: %w", err)
	}
	audioAgg, err := aggregation.NewDelayedAggregation(cfg.Step, cfg.Latency, aggregation.StrategyFirst, window.CropCenter)
	if err != nil {
		return nil, fmt.Errorf("audio aggregation: %w", err)
	}
	binarizer, err := aggregation.NewBinarizer(cfg.TauActive)
	if err != nil {
		return nil, fmt.Errorf("binarizer: %w", err)
	}

	return &VoiceActivityDetection{
		cfg:              cfg,
		segmenter:        segmenter,
		logger:           logger,
		predAggregation:  predAgg,
		audioAggregation: audioAgg,
		binarizer:        binarizer,
	}, nil
}

// Config returns the resolved pipeline configuration.
func (p *VoiceActivityDetection) Config() Config {
	return p.cfg
}

// Reset clears the rolling buffers and zeroes the timestamp shift.
func (p *VoiceActivityDetection) Reset() {
	p.SetTimestampShift(0)
	p.chunkBuffer = nil
	p.predBuffer = nil
}

// SetTimestampShift sets the offset added to all output timestamps.
func (p *VoiceActivityDetection) SetTimestampShift(shift float64) {
	p.timestampShift = shift
}

// BufferLength returns the number of chunks currently buffered.
func (p *VoiceActivityDetection) BufferLength() int {
	return len(p.chunkBuffer)
}

// Process runs segmentation on the batch and produces one settled,
// binarized, timestamp-shifted speech annotation per chunk, along with the
// settled audio span. Chunks are processed in order and each advances the
// same buffer state.
func (p *VoiceActivityDetection) Process(ctx context.Context, batch []window.Feature) ([]Output, error) {
	if err := validateBatch(p.cfg, batch); err != nil {
		return nil, err
	}

	segmentations, err := p.segmenter.Segment(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(segmentations) != len(batch) {
		return nil, fmt.Errorf("segmenter returned %d predictions for %d chunks", len(segmentations), len(batch))
	}

	outputs := make([]Output, 0, len(batch))
	for i, chunk := range batch {
		voice := collapseSpeakers(segmentations[i])

		// Tag frame scores with their absolute position in the stream.
		resolution := chunk.Extent().Duration() / float64(len(voice))
		pred := window.NewFeature(voice, window.SlidingWindow{
			Start:    chunk.Extent().Start,
			Duration: resolution,
			Step:     resolution,
		})

		p.chunkBuffer = append(p.chunkBuffer, chunk)
		p.predBuffer = append(p.predBuffer, pred)

		settledAudio, err := p.audioAggregation.Aggregate(p.chunkBuffer)
		if err != nil {
			return nil, fmt.Errorf("audio aggregation: %w", err)
		}
		settledPred, err := p.predAggregation.Aggregate(p.predBuffer)
		if err != nil {
			return nil, fmt.Errorf("prediction aggregation: %w", err)
		}

		timeline := p.binarizer.Binarize(settledPred)
		if p.timestampShift != 0 {
			timeline = timeline.Shift(p.timestampShift)
		}

		outputs = append(outputs, Output{
			Annotation: window.NewAnnotation("", SpeechLabel, timeline),
			Waveform:   settledAudio,
		})

		// Make room for the next chunk once the look-ahead is satisfied.
		if len(p.chunkBuffer) == p.predAggregation.NumOverlappingWindows() {
			p.chunkBuffer = p.chunkBuffer[1:]
			p.predBuffer = p.predBuffer[1:]
		}

		p.logger.Debug("Chunk processed",
			slog.Int("buffer_length", len(p.chunkBuffer)),
			slog.Int("speech_segments", timeline.Len()),
			slog.Float64("chunk_start", chunk.Extent().Start),
		)
	}

	return outputs, nil
}

// JoinPredictions unions all per-chunk timelines and merges gaps below the
// merge collar, producing the session-level annotation.
func (p *VoiceActivityDetection) JoinPredictions(outputs []Output) Output {
	joined := window.NewAnnotation("", SpeechLabel, nil)
	for _, out := range outputs {
		if out.Annotation != nil {
			if joined.URI == "" {
				joined.URI = out.Annotation.URI
			}
			joined.Update(out.Annotation)
		}
	}
	return Output{Annotation: joined.Support(p.cfg.MergeCollar)}
}

// WritePrediction persists the annotation as an RTTM file named after the
// stream URI.
func (p *VoiceActivityDetection) WritePrediction(uri string, output Output, dirPath string) error {
	if output.Annotation == nil {
		return fmt.Errorf("voice activity output has no annotation")
	}

	path := filepath.Join(dirPath, uri+".rttm")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	annotation := *output.Annotation
	annotation.URI = uri
	return sinks.WriteRTTM(file, &annotation)
}
