// Package inference defines the contracts with the external model
// collaborators (segmentation and speech recognition) and provides an
// energy-based segmenter usable without any model runtime.
package inference
