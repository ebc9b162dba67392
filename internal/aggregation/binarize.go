package aggregation

import (
	"fmt"

	"github.com/taocao/diart/internal/window"
)

// Binarizer converts continuous frame-level activity scores into discrete
// active intervals using a threshold. It carries no state: binarization is a
// pure function of the prediction and the threshold, and is idempotent on
// already-binary input for any threshold in (0, 1).
type Binarizer struct {
	tauActive float64
}

// NewBinarizer creates a binarizer with the given activation threshold.
func NewBinarizer(tauActive float64) (*Binarizer, error) {
	if tauActive < 0 || tauActive > 1 {
		return nil, fmt.Errorf("tau_active must be between 0 and 1, got %f", tauActive)
	}
	return &Binarizer{tauActive: tauActive}, nil
}

// TauActive returns the activation threshold.
func (b *Binarizer) TauActive() float64 {
	return b.tauActive
}

// Binarize returns the timeline of intervals where the activity score
// reaches the threshold. Scores across channels are collapsed by max, and
// adjacent active frames are merged into contiguous intervals.
func (b *Binarizer) Binarize(pred window.Feature) *window.Timeline {
	tl := window.NewTimeline()

	active := false
	var start, end float64
	for i, frame := range pred.Data {
		score := float32(0)
		for _, v := range frame {
			if v > score {
				score = v
			}
		}

		seg := pred.Window.FrameSegment(i)
		if float64(score) >= b.tauActive {
			if !active {
				start = seg.Start
				active = true
			}
			end = seg.End
		} else if active {
			tl.Add(window.Segment{Start: start, End: end})
			active = false
		}
	}
	if active {
		tl.Add(window.Segment{Start: start, End: end})
	}

	return tl
}
