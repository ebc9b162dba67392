// Package audio handles WAV encoding/decoding, PCM sample conversion, and
// the slicing of live or file-backed audio into fixed-duration, fixed-rate
// overlapping chunks for the streaming pipelines.
package audio
