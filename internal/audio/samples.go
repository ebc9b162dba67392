package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/taocao/diart/internal/window"
)

// SamplesToFloat converts PCM-16 samples to float32 values in [-1, 1).
func SamplesToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FloatToSamples converts float32 values in [-1, 1] back to PCM-16 samples,
// clamping out-of-range values.
func FloatToSamples(values []float32) []int16 {
	out := make([]int16, len(values))
	for i, v := range values {
		scaled := v * 32768.0
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out[i] = int16(scaled)
	}
	return out
}

// DecodePCM16 converts little-endian PCM-16 bytes to samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// NewChunk wraps mono float32 samples as a windowed feature starting at the
// given time. Each sample becomes one single-channel frame with a step equal
// to the sampling period, so a chunk's extent maps directly to stream time.
func NewChunk(samples []float32, startTime float64, sampleRate int) window.Feature {
	data := make([][]float32, len(samples))
	for i, s := range samples {
		data[i] = []float32{s}
	}
	period := 1.0 / float64(sampleRate)
	return window.NewFeature(data, window.SlidingWindow{
		Start:    startTime,
		Duration: period,
		Step:     period,
	})
}

// ChunkSamples extracts the mono samples of a chunk feature.
func ChunkSamples(chunk window.Feature) []float32 {
	out := make([]float32, len(chunk.Data))
	for i, frame := range chunk.Data {
		if len(frame) > 0 {
			out[i] = frame[0]
		}
	}
	return out
}
