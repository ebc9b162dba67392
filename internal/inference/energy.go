package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/taocao/diart/internal/window"
)

// EnergySegmenter scores voice activity from per-frame RMS energy. It stands
// in for a neural segmentation model in tests and offline runs: scores are
// normalized against a reference level and clamped to [0, 1], with a single
// speaker channel.
type EnergySegmenter struct {
	chunkDuration  float64
	sampleRate     int
	framesPerChunk int
	referenceLevel float64
}

// NewEnergySegmenter creates an energy segmenter producing framesPerChunk
// scores per chunk. The reference level is the RMS amplitude (on samples in
// [-1, 1]) mapped to a score of 1.
func NewEnergySegmenter(chunkDuration float64, sampleRate, framesPerChunk int, referenceLevel float64) (*EnergySegmenter, error) {
	if chunkDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %f", chunkDuration)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if framesPerChunk <= 0 {
		return nil, fmt.Errorf("frames per chunk must be positive, got %d", framesPerChunk)
	}
	if referenceLevel <= 0 {
		return nil, fmt.Errorf("reference level must be positive, got %f", referenceLevel)
	}

	return &EnergySegmenter{
		chunkDuration:  chunkDuration,
		sampleRate:     sampleRate,
		framesPerChunk: framesPerChunk,
		referenceLevel: referenceLevel,
	}, nil
}

// ChunkDuration returns the configured chunk duration in seconds.
func (e *EnergySegmenter) ChunkDuration() float64 {
	return e.chunkDuration
}

// SampleRate returns the configured sample rate.
func (e *EnergySegmenter) SampleRate() int {
	return e.sampleRate
}

// Segment computes one RMS-based activity score per frame for every chunk in
// the batch.
func (e *EnergySegmenter) Segment(ctx context.Context, batch []window.Feature) ([][][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make([][][]float32, len(batch))
	for b, chunk := range batch {
		numSamples := chunk.NumFrames()
		frames := make([][]float32, e.framesPerChunk)
		samplesPerFrame := numSamples / e.framesPerChunk
		if samplesPerFrame < 1 {
			samplesPerFrame = 1
		}

		for f := range frames {
			begin := f * samplesPerFrame
			end := begin + samplesPerFrame
			if end > numSamples {
				end = numSamples
			}

			var energy float64
			for i := begin; i < end; i++ {
				v := float64(chunk.Data[i][0])
				energy += v * v
			}
			if end > begin {
				energy = math.Sqrt(energy / float64(end-begin))
			}

			score := energy / e.referenceLevel
			if score > 1 {
				score = 1
			}
			frames[f] = []float32{float32(score)}
		}
		scores[b] = frames
	}

	return scores, nil
}
