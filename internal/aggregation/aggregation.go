package aggregation

import (
	"fmt"
	"math"

	"github.com/taocao/diart/internal/window"
)

// Strategy selects how overlapping frame-level predictions covering the same
// absolute time are combined.
type Strategy int

const (
	// StrategyHamming blends contributions with a Hamming taper peaking at
	// the center of each window's coverage, then normalizes. It reduces
	// boundary artifacts from chunk edges.
	StrategyHamming Strategy = iota
	// StrategyFirst takes the value from the earliest (most delayed)
	// buffered window covering each position. Used for raw audio, where
	// blending is not desired, only overlap trimming.
	StrategyFirst
)

// ParseStrategy converts a configuration tag into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "hamming":
		return StrategyHamming, nil
	case "first":
		return StrategyFirst, nil
	default:
		return 0, fmt.Errorf("unknown aggregation strategy %q (expected hamming or first)", name)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyHamming:
		return "hamming"
	case StrategyFirst:
		return "first"
	}
	return "unknown"
}

// mergeFunc combines the buffered windows over a focus region.
type mergeFunc func(buffers []window.Feature, focus window.Segment) window.Feature

// DelayedAggregation merges a rolling buffer of overlapping windowed
// predictions into one settled output per incoming chunk. The settled region
// trails the stream head by the configured latency and advances by step on
// every call. The aggregator holds no buffer itself: callers own the buffer
// and are responsible for eviction.
type DelayedAggregation struct {
	step    float64
	latency float64

	numOverlappingWindows int
	merge                 mergeFunc
	cropMode              window.CropMode
}

// NewDelayedAggregation creates an aggregator. Step and latency are in
// seconds and must satisfy 0 < step <= latency; the merge strategy and
// cropping mode are resolved to concrete functions here, once.
func NewDelayedAggregation(step, latency float64, strategy Strategy, cropMode window.CropMode) (*DelayedAggregation, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %f", step)
	}
	if latency < step {
		return nil, fmt.Errorf("latency (%f) must be at least the step (%f)", latency, step)
	}

	d := &DelayedAggregation{
		step:                  step,
		latency:               latency,
		numOverlappingWindows: int(math.Ceil(latency/step - 1e-9)),
		cropMode:              cropMode,
	}

	switch strategy {
	case StrategyHamming:
		d.merge = d.mergeHamming
	case StrategyFirst:
		d.merge = d.mergeFirst
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %d", strategy)
	}

	return d, nil
}

// NumOverlappingWindows returns the number of chunks whose coverage windows
// overlap the settled region given the configured latency, i.e. the buffer
// capacity callers must maintain.
func (d *DelayedAggregation) NumOverlappingWindows() int {
	return d.numOverlappingWindows
}

// Step returns the configured step in seconds.
func (d *DelayedAggregation) Step() float64 {
	return d.step
}

// Latency returns the configured latency in seconds.
func (d *DelayedAggregation) Latency() float64 {
	return d.latency
}

// Aggregate merges the buffered windows (oldest first) over the settled
// region, which starts latency seconds behind the end of the newest window
// and spans one step. The buffer is not mutated. During startup, with fewer
// than NumOverlappingWindows entries, the merge operates on whatever is
// available: first outputs have less smoothing support than steady-state
// outputs.
func (d *DelayedAggregation) Aggregate(buffers []window.Feature) (window.Feature, error) {
	if len(buffers) == 0 {
		return window.Feature{}, fmt.Errorf("aggregation requires at least one buffered window")
	}

	start := buffers[len(buffers)-1].Extent().End - d.latency
	focus := window.Segment{Start: start, End: start + d.step}

	return d.merge(buffers, focus), nil
}

// fixedFrameCount returns the number of frames spanning the focus region at
// the given frame step.
func fixedFrameCount(focus window.Segment, frameStep float64) int {
	n := int(math.Round(focus.Duration() / frameStep))
	if n < 1 {
		n = 1
	}
	return n
}

// outputWindow returns the frame grid of the settled output. The newest
// buffered window always covers the whole focus region, since latency never
// exceeds the chunk duration, so its crop anchors the grid.
func (d *DelayedAggregation) outputWindow(buffers []window.Feature, focus window.Segment, fixed int) window.SlidingWindow {
	return buffers[len(buffers)-1].Crop(focus, d.cropMode, fixed).Window
}

// mergeFirst takes each settled position from the oldest buffered window
// covering it. When latency is not a multiple of step the oldest window
// ends before the focus region does, and the remaining positions fall
// through to the next-oldest window.
func (d *DelayedAggregation) mergeFirst(buffers []window.Feature, focus window.Segment) window.Feature {
	frameStep := buffers[0].Window.Step
	fixed := fixedFrameCount(focus, frameStep)
	anchor := d.outputWindow(buffers, focus, fixed)

	out := make([][]float32, fixed)
	for _, buf := range buffers {
		cropped := buf.Crop(focus, d.cropMode, 0)
		pos := int(math.Round((cropped.Window.Start - anchor.Start) / frameStep))
		for i := 0; i < cropped.NumFrames(); i++ {
			idx := pos + i
			if idx < 0 || idx >= fixed || out[idx] != nil {
				continue
			}
			out[idx] = cropped.Data[i]
		}
	}

	channels := buffers[0].NumChannels()
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, channels)
		}
	}

	return window.NewFeature(out, anchor)
}

// mergeHamming computes a per-position weighted average of all buffered
// windows covering the focus region, weighting each contribution by a
// Hamming taper over its source window. Contributions are aligned by
// absolute frame position: positions a window does not cover receive no
// weight from it, so partially covering windows never smear values across
// the settled region.
func (d *DelayedAggregation) mergeHamming(buffers []window.Feature, focus window.Segment) window.Feature {
	frameStep := buffers[0].Window.Step
	fixed := fixedFrameCount(focus, frameStep)
	channels := buffers[0].NumChannels()
	anchor := d.outputWindow(buffers, focus, fixed)

	sum := make([][]float64, fixed)
	weight := make([][]float64, fixed)
	for i := range sum {
		sum[i] = make([]float64, channels)
		weight[i] = make([]float64, channels)
	}

	for _, buf := range buffers {
		cropped := buf.Crop(focus, d.cropMode, 0)
		if cropped.NumFrames() == 0 {
			continue
		}

		// Frame position of the crop within the output grid, and its
		// offset within the source window, used to evaluate the taper
		// at the right position of the source chunk.
		pos := int(math.Round((cropped.Window.Start - anchor.Start) / frameStep))
		offset := int(math.Round((cropped.Window.Start - buf.Window.Start) / buf.Window.Step))

		for i := 0; i < cropped.NumFrames(); i++ {
			idx := pos + i
			if idx < 0 || idx >= fixed {
				continue
			}
			w := hammingAt(offset+i, buf.NumFrames())
			for c := 0; c < channels && c < len(cropped.Data[i]); c++ {
				sum[idx][c] += w * float64(cropped.Data[i][c])
				weight[idx][c] += w
			}
		}
	}

	out := make([][]float32, fixed)
	for i := range out {
		out[i] = make([]float32, channels)
		for c := range out[i] {
			if weight[i][c] > 0 {
				out[i][c] = float32(sum[i][c] / weight[i][c])
			}
		}
	}

	return window.NewFeature(out, anchor)
}

// hammingAt evaluates a Hamming window of length n at index i. The taper
// peaks at the center of the window and never reaches zero, so every
// contributing chunk retains some weight.
func hammingAt(i, n int) float64 {
	if n <= 1 {
		return 1
	}
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	return 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
}
