package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/taocao/diart/internal/window"
)

// ChunkSource replays pre-loaded audio as a simulated stream of
// fixed-duration chunks. Consecutive chunks overlap by duration-step
// seconds; the final chunk is zero-padded to the full duration so every
// emitted chunk carries exactly round(duration*sampleRate) samples.
type ChunkSource struct {
	samples    []float32
	sampleRate int

	chunkSamples int
	stepSamples  int
	position     int
	emitted      int
}

// NewChunkSource creates a source over mono float32 samples.
func NewChunkSource(samples []float32, sampleRate int, duration, step float64) (*ChunkSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %f", duration)
	}
	if step <= 0 || step > duration {
		return nil, fmt.Errorf("step must be in (0, %f], got %f", duration, step)
	}

	return &ChunkSource{
		samples:      samples,
		sampleRate:   sampleRate,
		chunkSamples: round(duration * float64(sampleRate)),
		stepSamples:  round(step * float64(sampleRate)),
	}, nil
}

// NewFileChunkSource creates a source reading a mono 16-bit PCM WAV file.
// The file sample rate must match the expected rate.
func NewFileChunkSource(path string, sampleRate int, duration, step float64) (*ChunkSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if rate != sampleRate {
		return nil, fmt.Errorf("audio file %s has sample rate %d, expected %d", path, rate, sampleRate)
	}

	return NewChunkSource(SamplesToFloat(samples), sampleRate, duration, step)
}

// Next returns the next chunk of the stream, or io.EOF once the audio is
// exhausted.
func (s *ChunkSource) Next() (window.Feature, error) {
	if s.position >= len(s.samples) {
		return window.Feature{}, io.EOF
	}

	end := s.position + s.chunkSamples
	chunk := make([]float32, s.chunkSamples)
	if end <= len(s.samples) {
		copy(chunk, s.samples[s.position:end])
	} else {
		copy(chunk, s.samples[s.position:])
	}

	start := float64(s.emitted) * float64(s.stepSamples) / float64(s.sampleRate)
	s.position += s.stepSamples
	s.emitted++

	return NewChunk(chunk, start, s.sampleRate), nil
}

// NumChunks returns how many chunks the source will emit in total.
func (s *ChunkSource) NumChunks() int {
	if len(s.samples) == 0 {
		return 0
	}
	return (len(s.samples) + s.stepSamples - 1) / s.stepSamples
}

// Batches collects all remaining chunks into batches of at most batchSize.
func (s *ChunkSource) Batches(batchSize int) ([][]window.Feature, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	var batches [][]window.Feature
	var current []window.Feature
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		current = append(current, chunk)
		if len(current) == batchSize {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

// Assembler incrementally slices a live PCM stream into fixed-duration
// chunks advancing by step. Feed samples as they arrive; complete chunks are
// returned as soon as enough audio has accumulated.
type Assembler struct {
	sampleRate   int
	chunkSamples int
	stepSamples  int

	buffer []float32
	offset int // absolute sample index of buffer[0]
	next   int // absolute sample index of the next chunk start
}

// NewAssembler creates a streaming chunk assembler.
func NewAssembler(sampleRate int, duration, step float64) (*Assembler, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %f", duration)
	}
	if step <= 0 || step > duration {
		return nil, fmt.Errorf("step must be in (0, %f], got %f", duration, step)
	}

	return &Assembler{
		sampleRate:   sampleRate,
		chunkSamples: round(duration * float64(sampleRate)),
		stepSamples:  round(step * float64(sampleRate)),
	}, nil
}

// Push adds samples to the assembler and returns every chunk completed by
// the new audio, possibly none.
func (a *Assembler) Push(samples []float32) []window.Feature {
	a.buffer = append(a.buffer, samples...)

	var chunks []window.Feature
	for a.next+a.chunkSamples <= a.offset+len(a.buffer) {
		begin := a.next - a.offset
		data := make([]float32, a.chunkSamples)
		copy(data, a.buffer[begin:begin+a.chunkSamples])

		start := float64(a.next) / float64(a.sampleRate)
		chunks = append(chunks, NewChunk(data, start, a.sampleRate))
		a.next += a.stepSamples
	}

	// Drop audio that no future chunk can reference.
	if drop := a.next - a.offset; drop > 0 {
		if drop > len(a.buffer) {
			drop = len(a.buffer)
		}
		a.buffer = a.buffer[drop:]
		a.offset += drop
	}

	return chunks
}

// Flush returns a final zero-padded chunk covering any buffered tail, or
// false when no audio is pending.
func (a *Assembler) Flush() (window.Feature, bool) {
	pending := a.offset + len(a.buffer) - a.next
	if pending <= 0 {
		return window.Feature{}, false
	}

	data := make([]float32, a.chunkSamples)
	copy(data, a.buffer[a.next-a.offset:])
	start := float64(a.next) / float64(a.sampleRate)

	a.buffer = nil
	a.offset = a.next
	return NewChunk(data, start, a.sampleRate), true
}

// Reset discards all buffered audio and restarts stream time at zero.
func (a *Assembler) Reset() {
	a.buffer = nil
	a.offset = 0
	a.next = 0
}

func round(v float64) int {
	if v < 0 {
		return -round(-v)
	}
	return int(v + 0.5)
}
