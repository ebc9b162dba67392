package window

import (
	"fmt"
	"sort"
)

// Segment represents a time interval in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Valid returns whether the segment has strictly positive duration.
func (s Segment) Valid() bool {
	return s.End > s.Start
}

// Shift returns the segment translated by offset seconds.
func (s Segment) Shift(offset float64) Segment {
	return Segment{Start: s.Start + offset, End: s.End + offset}
}

// Intersects returns whether the two segments overlap.
func (s Segment) Intersects(o Segment) bool {
	return s.Start < o.End && o.Start < s.End
}

// Gap returns the distance between two segments, or 0 if they overlap or touch.
func (s Segment) Gap(o Segment) float64 {
	if s.Intersects(o) {
		return 0
	}
	if o.Start >= s.End {
		return o.Start - s.End
	}
	return s.Start - o.End
}

// Union returns the smallest segment covering both segments.
func (s Segment) Union(o Segment) Segment {
	u := s
	if o.Start < u.Start {
		u.Start = o.Start
	}
	if o.End > u.End {
		u.End = o.End
	}
	return u
}

func (s Segment) String() string {
	return fmt.Sprintf("[%.3f, %.3f]", s.Start, s.End)
}

// Timeline is an ordered collection of segments.
type Timeline struct {
	segments []Segment
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Add inserts a segment keeping the timeline ordered by start time.
// Invalid (zero or negative duration) segments are ignored.
func (t *Timeline) Add(s Segment) {
	if !s.Valid() {
		return
	}
	i := sort.Search(len(t.segments), func(i int) bool {
		if t.segments[i].Start == s.Start {
			return t.segments[i].End >= s.End
		}
		return t.segments[i].Start > s.Start
	})
	t.segments = append(t.segments, Segment{})
	copy(t.segments[i+1:], t.segments[i:])
	t.segments[i] = s
}

// Len returns the number of segments in the timeline.
func (t *Timeline) Len() int {
	return len(t.segments)
}

// Segments returns a copy of the ordered segments.
func (t *Timeline) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Extent returns the smallest segment covering the whole timeline.
func (t *Timeline) Extent() Segment {
	if len(t.segments) == 0 {
		return Segment{}
	}
	extent := t.segments[0]
	for _, s := range t.segments[1:] {
		extent = extent.Union(s)
	}
	return extent
}

// Update adds all segments from the other timeline.
func (t *Timeline) Update(o *Timeline) {
	if o == nil {
		return
	}
	for _, s := range o.segments {
		t.Add(s)
	}
}

// Shift returns a new timeline with every segment translated by offset
// seconds. Segment order is unchanged.
func (t *Timeline) Shift(offset float64) *Timeline {
	shifted := &Timeline{segments: make([]Segment, len(t.segments))}
	for i, s := range t.segments {
		shifted.segments[i] = s.Shift(offset)
	}
	return shifted
}

// Support returns a new timeline where segments separated by a gap of at
// most collar seconds are merged into one. Touching or overlapping segments
// are always merged; with collar 0 a strictly positive gap keeps segments
// apart.
func (t *Timeline) Support(collar float64) *Timeline {
	merged := NewTimeline()
	if len(t.segments) == 0 {
		return merged
	}
	current := t.segments[0]
	for _, s := range t.segments[1:] {
		if s.Start-current.End <= collar {
			current = current.Union(s)
		} else {
			merged.Add(current)
			current = s
		}
	}
	merged.Add(current)
	return merged
}

// Annotation is a timeline carrying a single label and a stream identifier.
type Annotation struct {
	URI      string
	Label    string
	Timeline *Timeline
}

// NewAnnotation wraps a timeline as a single-label annotation.
func NewAnnotation(uri, label string, tl *Timeline) *Annotation {
	if tl == nil {
		tl = NewTimeline()
	}
	return &Annotation{URI: uri, Label: label, Timeline: tl}
}

// Update adds the segments of another annotation. The receiver keeps its
// own URI and label.
func (a *Annotation) Update(o *Annotation) {
	if o == nil {
		return
	}
	a.Timeline.Update(o.Timeline)
}

// Support merges segments separated by at most collar seconds, returning
// a new annotation with the same URI and label.
func (a *Annotation) Support(collar float64) *Annotation {
	return NewAnnotation(a.URI, a.Label, a.Timeline.Support(collar))
}
