package aggregation

import (
	"math"
	"testing"

	"github.com/taocao/diart/internal/window"
)

// constantChunk builds a single-channel prediction chunk holding the same
// score in every frame.
func constantChunk(start float64, frames int, frameStep float64, score float32) window.Feature {
	data := make([][]float32, frames)
	for i := range data {
		data[i] = []float32{score}
	}
	return window.NewFeature(data, window.SlidingWindow{
		Start:    start,
		Duration: frameStep,
		Step:     frameStep,
	})
}

func TestNewDelayedAggregationValidation(t *testing.T) {
	tests := []struct {
		name      string
		step      float64
		latency   float64
		expectErr bool
	}{
		{name: "minimum latency", step: 0.5, latency: 0.5, expectErr: false},
		{name: "maximum latency", step: 0.5, latency: 5.0, expectErr: false},
		{name: "zero step", step: 0, latency: 1, expectErr: true},
		{name: "negative step", step: -1, latency: 1, expectErr: true},
		{name: "latency below step", step: 0.5, latency: 0.4, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDelayedAggregation(tt.step, tt.latency, StrategyHamming, window.CropLoose)
			if tt.expectErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNumOverlappingWindows(t *testing.T) {
	tests := []struct {
		name    string
		step    float64
		latency float64
		want    int
	}{
		{name: "minimum latency", step: 0.5, latency: 0.5, want: 1},
		{name: "maximum latency", step: 0.5, latency: 5.0, want: 10},
		{name: "fractional ratio", step: 0.5, latency: 1.2, want: 3},
		{name: "exact multiple", step: 0.25, latency: 1.0, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewDelayedAggregation(tt.step, tt.latency, StrategyHamming, window.CropLoose)
			if err != nil {
				t.Fatalf("Failed to create aggregation: %v", err)
			}
			if got := agg.NumOverlappingWindows(); got != tt.want {
				t.Errorf("Expected %d overlapping windows, got %d", tt.want, got)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("hamming"); err != nil || s != StrategyHamming {
		t.Errorf("Expected StrategyHamming, got %v (err %v)", s, err)
	}
	if s, err := ParseStrategy("first"); err != nil || s != StrategyFirst {
		t.Errorf("Expected StrategyFirst, got %v (err %v)", s, err)
	}
	if _, err := ParseStrategy("mean"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestAggregateEmptyBuffer(t *testing.T) {
	agg, err := NewDelayedAggregation(0.5, 0.5, StrategyFirst, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}
	if _, err := agg.Aggregate(nil); err == nil {
		t.Error("Expected error for empty buffer")
	}
}

func TestAggregateFocusRegion(t *testing.T) {
	// Chunks of 1s (10 frames of 0.1s) advancing by 0.5s, latency 1s.
	agg, err := NewDelayedAggregation(0.5, 1.0, StrategyFirst, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	buffers := []window.Feature{
		constantChunk(0.0, 10, 0.1, 1),
		constantChunk(0.5, 10, 0.1, 1),
	}

	out, err := agg.Aggregate(buffers)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	// Newest window ends at 1.5s, so the settled region is [0.5, 1.0).
	extent := out.Extent()
	if math.Abs(extent.Start-0.5) > 1e-6 {
		t.Errorf("Expected settled region start 0.5, got %f", extent.Start)
	}
	if math.Abs(extent.Duration()-0.5) > 1e-6 {
		t.Errorf("Expected settled region duration 0.5, got %f", extent.Duration())
	}
	if out.NumFrames() != 5 {
		t.Errorf("Expected 5 frames, got %d", out.NumFrames())
	}
}

func TestAggregateStartup(t *testing.T) {
	// With a single buffered chunk the merge operates on what is available.
	agg, err := NewDelayedAggregation(0.5, 2.0, StrategyHamming, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	out, err := agg.Aggregate([]window.Feature{constantChunk(0, 20, 0.1, 0.8)})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	// Chunk ends at 2.0s, latency 2.0s puts the settled region at [0, 0.5).
	if math.Abs(out.Extent().Start) > 1e-6 {
		t.Errorf("Expected settled region start 0, got %f", out.Extent().Start)
	}
	for i, frame := range out.Data {
		if math.Abs(float64(frame[0])-0.8) > 1e-6 {
			t.Errorf("Frame %d: expected 0.8, got %f", i, frame[0])
		}
	}
}

func TestAggregateHammingBlendsConstantInput(t *testing.T) {
	// A weighted average of identical values is that value, regardless of
	// taper shape or the number of contributing windows.
	agg, err := NewDelayedAggregation(0.5, 1.5, StrategyHamming, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	buffers := []window.Feature{
		constantChunk(0.0, 20, 0.1, 0.7),
		constantChunk(0.5, 20, 0.1, 0.7),
		constantChunk(1.0, 20, 0.1, 0.7),
	}

	out, err := agg.Aggregate(buffers)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out.NumFrames() != 5 {
		t.Fatalf("Expected 5 frames, got %d", out.NumFrames())
	}
	for i, frame := range out.Data {
		if math.Abs(float64(frame[0])-0.7) > 1e-6 {
			t.Errorf("Frame %d: expected 0.7, got %f", i, frame[0])
		}
	}
}

func TestAggregateFirstTakesOldestWindow(t *testing.T) {
	agg, err := NewDelayedAggregation(0.5, 1.0, StrategyFirst, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	// The oldest chunk scores 0.2, the newest 0.9. With the first strategy
	// the settled region comes entirely from the oldest chunk.
	buffers := []window.Feature{
		constantChunk(0.0, 10, 0.1, 0.2),
		constantChunk(0.5, 10, 0.1, 0.9),
	}

	out, err := agg.Aggregate(buffers)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for i, frame := range out.Data {
		if math.Abs(float64(frame[0])-0.2) > 1e-6 {
			t.Errorf("Frame %d: expected 0.2 from the oldest window, got %f", i, frame[0])
		}
	}
}

// rampChunk builds a single-channel chunk where every frame's score is its
// own absolute start time, so any misaligned blend is immediately visible.
func rampChunk(start float64, frames int, frameStep float64) window.Feature {
	data := make([][]float32, frames)
	for i := range data {
		data[i] = []float32{float32(start + float64(i)*frameStep)}
	}
	return window.NewFeature(data, window.SlidingWindow{
		Start:    start,
		Duration: frameStep,
		Step:     frameStep,
	})
}

func TestAggregateHammingAlignsPartialWindows(t *testing.T) {
	// With latency 1.2 and step 0.5 the oldest buffered window ends 0.3s
	// before the settled region does. Its contribution must stay aligned
	// in absolute time: blending ramp-valued chunks, where every frame
	// scores its own start time, must reproduce the identity.
	agg, err := NewDelayedAggregation(0.5, 1.2, StrategyHamming, window.CropLoose)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	buffers := []window.Feature{
		rampChunk(0.0, 20, 0.1),
		rampChunk(0.5, 20, 0.1),
		rampChunk(1.0, 20, 0.1),
	}

	out, err := agg.Aggregate(buffers)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	// Newest window ends at 3.0s, so the settled region is [1.8, 2.3).
	if math.Abs(out.Window.Start-1.8) > 1e-6 {
		t.Errorf("Expected settled region start 1.8, got %f", out.Window.Start)
	}
	if out.NumFrames() != 5 {
		t.Fatalf("Expected 5 frames, got %d", out.NumFrames())
	}
	for i, frame := range out.Data {
		want := 1.8 + float64(i)*0.1
		if math.Abs(float64(frame[0])-want) > 1e-5 {
			t.Errorf("Frame %d: expected %f, got %f", i, want, frame[0])
		}
	}
}

func TestAggregateFirstFallsThroughPartialWindows(t *testing.T) {
	// Same non-multiple latency: the oldest window covers only the first
	// 0.2s of the settled region. The uncovered positions must come from
	// the next-oldest window, never from time-shifted frames of the
	// oldest one.
	agg, err := NewDelayedAggregation(0.5, 1.2, StrategyFirst, window.CropCenter)
	if err != nil {
		t.Fatalf("Failed to create aggregation: %v", err)
	}

	buffers := []window.Feature{
		constantChunk(0.0, 20, 0.1, 0.1),
		constantChunk(0.5, 20, 0.1, 0.5),
		constantChunk(1.0, 20, 0.1, 0.9),
	}

	out, err := agg.Aggregate(buffers)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if math.Abs(out.Window.Start-1.8) > 1e-6 {
		t.Errorf("Expected settled region start 1.8, got %f", out.Window.Start)
	}
	want := []float32{0.1, 0.1, 0.5, 0.5, 0.5}
	if out.NumFrames() != len(want) {
		t.Fatalf("Expected %d frames, got %d", len(want), out.NumFrames())
	}
	for i, frame := range out.Data {
		if math.Abs(float64(frame[0]-want[i])) > 1e-6 {
			t.Errorf("Frame %d: expected %f, got %f", i, want[i], frame[0])
		}
	}
}

func TestHammingAt(t *testing.T) {
	if got := hammingAt(0, 1); got != 1 {
		t.Errorf("Expected weight 1 for single-frame window, got %f", got)
	}

	// The taper peaks at the center and is symmetric.
	n := 11
	center := hammingAt(5, n)
	if math.Abs(center-1.0) > 1e-9 {
		t.Errorf("Expected peak weight 1.0 at center, got %f", center)
	}
	for i := 0; i <= 5; i++ {
		left, right := hammingAt(i, n), hammingAt(n-1-i, n)
		if math.Abs(left-right) > 1e-9 {
			t.Errorf("Taper not symmetric at %d: %f vs %f", i, left, right)
		}
		if left <= 0 {
			t.Errorf("Taper reached zero at %d", i)
		}
	}
}
