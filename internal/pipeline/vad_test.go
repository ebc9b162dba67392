package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/taocao/diart/internal/window"
)

// testChunk builds an audio chunk of the given value starting at start
// seconds, with one sample per frame.
func testChunk(start float64, samples, sampleRate int, value float32) window.Feature {
	data := make([][]float32, samples)
	for i := range data {
		data[i] = []float32{value}
	}
	period := 1.0 / float64(sampleRate)
	return window.NewFeature(data, window.SlidingWindow{
		Start:    start,
		Duration: period,
		Step:     period,
	})
}

// fakeSegmenter returns a scripted constant score per batch position. Chunks
// past the end of the script get the last scripted score.
type fakeSegmenter struct {
	chunkDuration float64
	sampleRate    int
	frames        int
	script        []float32
	calls         int
}

func (f *fakeSegmenter) ChunkDuration() float64 { return f.chunkDuration }
func (f *fakeSegmenter) SampleRate() int        { return f.sampleRate }

func (f *fakeSegmenter) Segment(ctx context.Context, batch []window.Feature) ([][][]float32, error) {
	f.calls++
	out := make([][][]float32, len(batch))
	for i := range batch {
		score := f.script[len(f.script)-1]
		if i < len(f.script) {
			score = f.script[i]
		}
		frames := make([][]float32, f.frames)
		for j := range frames {
			frames[j] = []float32{score}
		}
		out[i] = frames
	}
	return out, nil
}

func testVADConfig() Config {
	return Config{
		Duration:    1.0,
		Step:        0.5,
		Latency:     0.5,
		SampleRate:  100,
		TauActive:   0.5,
		MergeCollar: 0.05,
	}
}

func speechSegmenter() *fakeSegmenter {
	return &fakeSegmenter{chunkDuration: 1.0, sampleRate: 100, frames: 10, script: []float32{1}}
}

func TestNewVoiceActivityDetectionValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, expectErr: false},
		{name: "latency below step", mutate: func(c *Config) { c.Latency = 0.3 }, expectErr: true},
		{name: "latency above duration", mutate: func(c *Config) { c.Latency = 1.5 }, expectErr: true},
		{name: "zero duration", mutate: func(c *Config) { c.Duration = 0 }, expectErr: true},
		{name: "zero sample rate", mutate: func(c *Config) { c.SampleRate = 0 }, expectErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.TauActive = 1.1 }, expectErr: true},
		{name: "negative collar", mutate: func(c *Config) { c.MergeCollar = -1 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testVADConfig()
			tt.mutate(&cfg)
			_, err := NewVoiceActivityDetection(cfg, speechSegmenter(), nil)
			if tt.expectErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}

	t.Run("nil segmenter", func(t *testing.T) {
		if _, err := NewVoiceActivityDetection(testVADConfig(), nil, nil); err == nil {
			t.Error("Expected error for nil segmenter")
		}
	})
}

func TestVADRejectsWrongSampleCount(t *testing.T) {
	vad, err := NewVoiceActivityDetection(testVADConfig(), speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	// 99 samples instead of the expected 100.
	_, err = vad.Process(context.Background(), []window.Feature{testChunk(0, 99, 100, 0.5)})
	if err == nil {
		t.Fatal("Expected error for wrong sample count")
	}
	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("Expected a precondition error, got %v", err)
	}

	_, err = vad.Process(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error for empty batch")
	}
	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("Expected a precondition error, got %v", err)
	}
}

func TestVADDetectsSpeech(t *testing.T) {
	vad, err := NewVoiceActivityDetection(testVADConfig(), speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	outputs, err := vad.Process(context.Background(), []window.Feature{testChunk(0, 100, 100, 0.5)})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("Expected 1 output, got %d", len(outputs))
	}

	segments := outputs[0].Annotation.Timeline.Segments()
	if len(segments) != 1 {
		t.Fatalf("Expected 1 speech segment, got %d", len(segments))
	}

	// With latency 0.5 the settled region of the first chunk is [0.5, 1.0).
	if math.Abs(segments[0].Start-0.5) > 1e-6 {
		t.Errorf("Expected segment start 0.5, got %f", segments[0].Start)
	}
	if math.Abs(segments[0].End-1.0) > 1e-6 {
		t.Errorf("Expected segment end 1.0, got %f", segments[0].End)
	}
	if outputs[0].Annotation.Label != SpeechLabel {
		t.Errorf("Expected label %q, got %q", SpeechLabel, outputs[0].Annotation.Label)
	}

	// The settled waveform covers the same region.
	wave := outputs[0].Waveform.Extent()
	if math.Abs(wave.Start-0.5) > 1e-6 || math.Abs(wave.Duration()-0.5) > 1e-6 {
		t.Errorf("Expected settled waveform [0.5, 1.0], got %v", wave)
	}
}

func TestVADSilenceProducesNoSegments(t *testing.T) {
	silent := &fakeSegmenter{chunkDuration: 1.0, sampleRate: 100, frames: 10, script: []float32{0.1}}
	vad, err := NewVoiceActivityDetection(testVADConfig(), silent, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	outputs, err := vad.Process(context.Background(), []window.Feature{testChunk(0, 100, 100, 0)})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outputs[0].Annotation.Timeline.Len() != 0 {
		t.Errorf("Expected no segments for silence, got %d", outputs[0].Annotation.Timeline.Len())
	}
}

func TestVADBufferEviction(t *testing.T) {
	cfg := testVADConfig()
	cfg.Latency = 1.0 // two overlapping windows with step 0.5

	vad, err := NewVoiceActivityDetection(cfg, speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	maxBuffer := vad.predAggregation.NumOverlappingWindows()
	for i := 0; i < 10; i++ {
		chunk := testChunk(float64(i)*cfg.Step, 100, 100, 0.5)
		if _, err := vad.Process(context.Background(), []window.Feature{chunk}); err != nil {
			t.Fatalf("Process failed at chunk %d: %v", i, err)
		}
		if vad.BufferLength() > maxBuffer {
			t.Fatalf("Buffer grew to %d after chunk %d, limit is %d", vad.BufferLength(), i, maxBuffer)
		}
	}

	// Steady state: the buffer sits one below its capacity between calls.
	if vad.BufferLength() != maxBuffer-1 {
		t.Errorf("Expected steady-state buffer %d, got %d", maxBuffer-1, vad.BufferLength())
	}
}

func TestVADTimestampShift(t *testing.T) {
	vad, err := NewVoiceActivityDetection(testVADConfig(), speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	vad.SetTimestampShift(100)
	outputs, err := vad.Process(context.Background(), []window.Feature{testChunk(0, 100, 100, 0.5)})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	segments := outputs[0].Annotation.Timeline.Segments()
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if math.Abs(segments[0].Start-100.5) > 1e-6 {
		t.Errorf("Expected shifted segment start 100.5, got %f", segments[0].Start)
	}
	if math.Abs(segments[0].Duration()-0.5) > 1e-6 {
		t.Errorf("Shift changed segment duration to %f", segments[0].Duration())
	}
}

func TestVADReset(t *testing.T) {
	vad, err := NewVoiceActivityDetection(testVADConfig(), speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	vad.SetTimestampShift(50)
	if _, err := vad.Process(context.Background(), []window.Feature{testChunk(0, 100, 100, 0.5)}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	vad.Reset()
	if vad.BufferLength() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", vad.BufferLength())
	}

	outputs, err := vad.Process(context.Background(), []window.Feature{testChunk(0, 100, 100, 0.5)})
	if err != nil {
		t.Fatalf("Process failed after reset: %v", err)
	}
	segments := outputs[0].Annotation.Timeline.Segments()
	if len(segments) != 1 || segments[0].Start > 1 {
		t.Errorf("Expected unshifted segments after reset, got %v", segments)
	}
}

func TestVADJoinPredictions(t *testing.T) {
	vad, err := NewVoiceActivityDetection(testVADConfig(), speechSegmenter(), nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	makeOutput := func(start, end float64) Output {
		tl := window.NewTimeline()
		tl.Add(window.Segment{Start: start, End: end})
		return Output{Annotation: window.NewAnnotation("stream", SpeechLabel, tl)}
	}

	// Gaps of 0.02 are below the 0.05 collar, the 0.5 gap is not.
	joined := vad.JoinPredictions([]Output{
		makeOutput(0, 1),
		makeOutput(1.02, 2),
		makeOutput(2.5, 3),
	})

	segments := joined.Annotation.Timeline.Segments()
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments after join, got %d: %v", len(segments), segments)
	}
	if math.Abs(segments[0].End-2.0) > 1e-6 {
		t.Errorf("Expected first merged segment to end at 2.0, got %f", segments[0].End)
	}
	if joined.Annotation.URI != "stream" {
		t.Errorf("Expected URI to carry over, got %q", joined.Annotation.URI)
	}
}
