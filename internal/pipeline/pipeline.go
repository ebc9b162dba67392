package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/taocao/diart/internal/window"
)

// ErrPrecondition marks batch validation failures: the input was rejected
// before any inference ran and no partial output was produced. Callers can
// distinguish these from inference errors with errors.Is.
var ErrPrecondition = errors.New("precondition violated")

// Config is the fully-resolved, immutable configuration of a streaming
// pipeline. All defaulting (duration from the model, latency from the step)
// happens before construction; pipelines never mutate their configuration.
type Config struct {
	// Duration of each incoming chunk in seconds.
	Duration float64
	// Step is the duration of new audio admitted per chunk in seconds.
	Step float64
	// Latency is the look-ahead accumulated before a window is settled,
	// in seconds. Must satisfy Step <= Latency <= Duration.
	Latency float64
	// SampleRate of the incoming audio in Hz.
	SampleRate int
	// TauActive is the voice activation threshold.
	TauActive float64
	// MergeCollar is the maximum gap in seconds below which adjacent
	// intervals are fused when joining predictions.
	MergeCollar float64
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", c.Duration)
	}
	if c.Step <= 0 {
		return fmt.Errorf("step must be positive, got %f", c.Step)
	}
	if c.Latency < c.Step || c.Latency > c.Duration {
		return fmt.Errorf("latency should be in the range [%f, %f], got %f", c.Step, c.Duration, c.Latency)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.TauActive < 0 || c.TauActive > 1 {
		return fmt.Errorf("tau_active must be between 0 and 1, got %f", c.TauActive)
	}
	if c.MergeCollar < 0 {
		return fmt.Errorf("merge_collar cannot be negative, got %f", c.MergeCollar)
	}
	return nil
}

// ExpectedSamples returns the exact number of samples every chunk must
// carry.
func (c Config) ExpectedSamples() int {
	return int(math.Round(c.Duration * float64(c.SampleRate)))
}

// Output is the settled result produced for one incoming chunk, or the
// joined session-level result.
type Output struct {
	// Annotation holds the binarized, timestamp-shifted speech activity.
	// Nil for transcription pipelines.
	Annotation *window.Annotation `json:"annotation,omitempty"`
	// Text holds the transcription. Empty for chunks without voice and
	// for voice activity pipelines.
	Text string `json:"text,omitempty"`
	// Waveform is the settled audio span (voice activity) or the
	// originating chunk (transcription).
	Waveform window.Feature `json:"-"`
}

// StreamingPipeline is the capability set shared by all pipeline variants.
type StreamingPipeline interface {
	// Config returns the resolved pipeline configuration.
	Config() Config

	// Reset returns the pipeline to its fresh state between independent
	// streaming runs: buffers cleared, timestamp shift zeroed.
	Reset()

	// SetTimestampShift sets the offset added to all output timestamps,
	// used to keep timestamps globally monotonic across restarts.
	SetTimestampShift(shift float64)

	// Process consumes one batch of chunks and returns one settled output
	// per chunk, in order. An empty batch or a chunk with an unexpected
	// sample count is a fatal precondition violation: an error is
	// returned and no partial output is produced.
	Process(ctx context.Context, batch []window.Feature) ([]Output, error)

	// JoinPredictions reconciles the outputs of a whole session into a
	// single result.
	JoinPredictions(outputs []Output) Output

	// WritePrediction persists a final aggregated result for a stream.
	WritePrediction(uri string, output Output, dirPath string) error
}

// validateBatch enforces the shared batch preconditions.
func validateBatch(cfg Config, batch []window.Feature) error {
	if len(batch) < 1 {
		return fmt.Errorf("%w: pipeline expected at least 1 input", ErrPrecondition)
	}
	expected := cfg.ExpectedSamples()
	for i, chunk := range batch {
		if chunk.NumFrames() != expected {
			return fmt.Errorf("%w: expected %d samples per chunk, but chunk %d has %d", ErrPrecondition, expected, i, chunk.NumFrames())
		}
	}
	return nil
}

// collapseSpeakers reduces a frames-by-speakers score matrix to a single
// voice activity channel by taking the max across speakers.
func collapseSpeakers(scores [][]float32) [][]float32 {
	out := make([][]float32, len(scores))
	for i, frame := range scores {
		max := float32(0)
		for _, v := range frame {
			if v > max {
				max = v
			}
		}
		out[i] = []float32{max}
	}
	return out
}
