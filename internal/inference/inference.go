package inference

import (
	"context"

	"github.com/taocao/diart/internal/window"
)

// Segmenter produces frame-level speaker activity scores for a batch of
// audio chunks. The result holds one score matrix per input chunk, in input
// order, with shape frames x speakers and values in [0, 1]. Frame resolution
// is implied by the chunk duration divided by the frame count.
//
// Errors from the model are propagated unchanged to pipeline callers: the
// pipelines have no recovery strategy for a failed inference call.
type Segmenter interface {
	Segment(ctx context.Context, batch []window.Feature) ([][][]float32, error)

	// ChunkDuration returns the chunk duration the model was trained on,
	// in seconds. Used as the default pipeline duration.
	ChunkDuration() float64

	// SampleRate returns the sample rate the model expects.
	SampleRate() int
}

// TranscriptSegment is a piece of transcribed text with its timing relative
// to the chunk start.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the recognized text for one audio chunk.
type Transcript struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// SpeechRecognizer transcribes a batch of audio chunks, returning exactly
// one transcript per input chunk in the same order.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, batch []window.Feature) ([]Transcript, error)

	// ChunkDuration returns the default chunk duration in seconds.
	ChunkDuration() float64

	// SampleRate returns the sample rate the model expects.
	SampleRate() int
}
