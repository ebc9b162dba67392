package window

import (
	"fmt"
	"math"
)

// cropEps absorbs floating point noise when mapping times to frame indices.
const cropEps = 1e-9

// SlidingWindow describes the frame geometry of a feature matrix: the start
// time of the first frame, the duration covered by each frame, and the step
// between consecutive frame starts, all in seconds.
type SlidingWindow struct {
	Start    float64
	Duration float64
	Step     float64
}

// FrameSegment returns the time interval covered by frame i.
func (w SlidingWindow) FrameSegment(i int) Segment {
	start := w.Start + float64(i)*w.Step
	return Segment{Start: start, End: start + w.Duration}
}

// CropMode selects which frames survive when a feature is trimmed to a
// focus region.
type CropMode int

const (
	// CropLoose keeps every frame overlapping the focus region.
	CropLoose CropMode = iota
	// CropStrict keeps only frames fully contained in the focus region.
	CropStrict
	// CropCenter keeps frames whose center lies inside the focus region.
	CropCenter
)

// ParseCropMode converts a configuration tag into a CropMode.
func ParseCropMode(name string) (CropMode, error) {
	switch name {
	case "loose":
		return CropLoose, nil
	case "strict":
		return CropStrict, nil
	case "center":
		return CropCenter, nil
	default:
		return 0, fmt.Errorf("unknown cropping mode %q (expected loose, strict or center)", name)
	}
}

func (m CropMode) String() string {
	switch m {
	case CropLoose:
		return "loose"
	case CropStrict:
		return "strict"
	case CropCenter:
		return "center"
	}
	return "unknown"
}

// Feature is a frames-by-channels matrix tagged with a sliding-window
// descriptor. It represents either raw audio samples (one channel, frame
// step equal to the sampling period) or model scores over a chunk.
type Feature struct {
	Data   [][]float32
	Window SlidingWindow
}

// NewFeature creates a feature from a data matrix and its frame geometry.
func NewFeature(data [][]float32, w SlidingWindow) Feature {
	return Feature{Data: data, Window: w}
}

// NumFrames returns the number of frames in the feature.
func (f Feature) NumFrames() int {
	return len(f.Data)
}

// NumChannels returns the number of channels per frame.
func (f Feature) NumChannels() int {
	if len(f.Data) == 0 {
		return 0
	}
	return len(f.Data[0])
}

// Extent returns the time interval covered by the feature, from the start
// of the first frame to the end of the last one.
func (f Feature) Extent() Segment {
	if len(f.Data) == 0 {
		return Segment{Start: f.Window.Start, End: f.Window.Start}
	}
	last := f.Window.FrameSegment(len(f.Data) - 1)
	return Segment{Start: f.Window.Start, End: last.End}
}

// firstFrame returns the index of the first frame kept when cropping to
// focus under the given mode.
func (f Feature) firstFrame(focus Segment, mode CropMode) int {
	w := f.Window
	switch mode {
	case CropStrict:
		return int(math.Ceil((focus.Start-w.Start)/w.Step - cropEps))
	case CropCenter:
		return int(math.Ceil((focus.Start-w.Start-w.Duration/2)/w.Step - cropEps))
	default: // CropLoose
		return int(math.Floor((focus.Start-w.Start-w.Duration)/w.Step + cropEps)) + 1
	}
}

// lastFrame returns the index one past the last frame kept when cropping to
// focus under the given mode.
func (f Feature) lastFrame(focus Segment, mode CropMode) int {
	w := f.Window
	switch mode {
	case CropStrict:
		return int(math.Floor((focus.End-w.Duration-w.Start)/w.Step + cropEps)) + 1
	case CropCenter:
		return int(math.Ceil((focus.End-w.Start-w.Duration/2)/w.Step - cropEps))
	default: // CropLoose
		return int(math.Ceil((focus.End-w.Start)/w.Step - cropEps))
	}
}

// Crop trims the feature to the frames selected by the focus region and
// crop mode. When fixedFrames is positive, at most that many frames are
// returned, anchored at the first selected frame. Only frames the feature
// genuinely covers are returned: a focus extending past either end yields a
// shorter, possibly empty, crop. The selection never slides to compensate,
// so the returned window stays aligned with the focus in absolute time.
// The returned feature shares the underlying rows with the receiver.
func (f Feature) Crop(focus Segment, mode CropMode, fixedFrames int) Feature {
	n := len(f.Data)
	first := f.firstFrame(focus, mode)
	if first < 0 {
		first = 0
	}
	if first > n {
		first = n
	}

	count := 0
	if fixedFrames > 0 {
		count = fixedFrames
	} else {
		count = f.lastFrame(focus, mode) - first
	}
	if count > n-first {
		count = n - first
	}
	if count < 0 {
		count = 0
	}

	return Feature{
		Data: f.Data[first : first+count],
		Window: SlidingWindow{
			Start:    f.Window.Start + float64(first)*f.Window.Step,
			Duration: f.Window.Duration,
			Step:     f.Window.Step,
		},
	}
}
