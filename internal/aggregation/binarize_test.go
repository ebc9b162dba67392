package aggregation

import (
	"math"
	"testing"

	"github.com/taocao/diart/internal/window"
)

// predFromScores builds a single-channel prediction with 0.1s frames
// starting at t=0.
func predFromScores(scores []float32) window.Feature {
	data := make([][]float32, len(scores))
	for i, s := range scores {
		data[i] = []float32{s}
	}
	return window.NewFeature(data, window.SlidingWindow{Start: 0, Duration: 0.1, Step: 0.1})
}

func TestNewBinarizerValidation(t *testing.T) {
	tests := []struct {
		name      string
		tauActive float64
		expectErr bool
	}{
		{name: "valid threshold", tauActive: 0.5, expectErr: false},
		{name: "zero threshold", tauActive: 0, expectErr: false},
		{name: "unit threshold", tauActive: 1, expectErr: false},
		{name: "negative threshold", tauActive: -0.1, expectErr: true},
		{name: "threshold above one", tauActive: 1.1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBinarizer(tt.tauActive)
			if tt.expectErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestBinarize(t *testing.T) {
	tests := []struct {
		name   string
		scores []float32
		tau    float64
		want   []window.Segment
	}{
		{
			name:   "all silent",
			scores: []float32{0.1, 0.2, 0.3},
			tau:    0.5,
			want:   nil,
		},
		{
			name:   "all active",
			scores: []float32{0.9, 0.8, 0.7},
			tau:    0.5,
			want:   []window.Segment{{Start: 0, End: 0.3}},
		},
		{
			name:   "single region",
			scores: []float32{0.1, 0.9, 0.8, 0.1},
			tau:    0.5,
			want:   []window.Segment{{Start: 0.1, End: 0.3}},
		},
		{
			name:   "two regions",
			scores: []float32{0.9, 0.1, 0.1, 0.9, 0.9},
			tau:    0.5,
			want:   []window.Segment{{Start: 0, End: 0.1}, {Start: 0.3, End: 0.5}},
		},
		{
			name:   "threshold is inclusive",
			scores: []float32{0.5, 0.49},
			tau:    0.5,
			want:   []window.Segment{{Start: 0, End: 0.1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBinarizer(tt.tau)
			if err != nil {
				t.Fatalf("Failed to create binarizer: %v", err)
			}

			got := b.Binarize(predFromScores(tt.scores)).Segments()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d segments, got %d: %v", len(tt.want), len(got), got)
			}
			for i := range got {
				if math.Abs(got[i].Start-tt.want[i].Start) > 1e-6 ||
					math.Abs(got[i].End-tt.want[i].End) > 1e-6 {
					t.Errorf("Segment %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestBinarizeCollapsesChannelsByMax(t *testing.T) {
	data := [][]float32{
		{0.1, 0.9},
		{0.2, 0.1},
	}
	pred := window.NewFeature(data, window.SlidingWindow{Start: 0, Duration: 0.1, Step: 0.1})

	b, err := NewBinarizer(0.5)
	if err != nil {
		t.Fatalf("Failed to create binarizer: %v", err)
	}

	got := b.Binarize(pred).Segments()
	if len(got) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(got))
	}
	if math.Abs(got[0].End-0.1) > 1e-6 {
		t.Errorf("Expected segment ending at 0.1, got %v", got[0])
	}
}

func TestBinarizeIdempotentOnBinaryInput(t *testing.T) {
	b, err := NewBinarizer(0.5)
	if err != nil {
		t.Fatalf("Failed to create binarizer: %v", err)
	}

	binary := []float32{1, 1, 0, 0, 1, 0, 1, 1, 1}
	first := b.Binarize(predFromScores(binary)).Segments()

	// Rebuild a binary signal from the first pass and binarize again.
	rebuilt := make([]float32, len(binary))
	for i := range rebuilt {
		frameStart := float64(i) * 0.1
		for _, seg := range first {
			if frameStart >= seg.Start-1e-9 && frameStart < seg.End-1e-9 {
				rebuilt[i] = 1
			}
		}
	}
	second := b.Binarize(predFromScores(rebuilt)).Segments()

	if len(first) != len(second) {
		t.Fatalf("Binarization not idempotent: %v vs %v", first, second)
	}
	for i := range first {
		if math.Abs(first[i].Start-second[i].Start) > 1e-6 ||
			math.Abs(first[i].End-second[i].End) > 1e-6 {
			t.Errorf("Segment %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}
