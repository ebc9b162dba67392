// Package pipeline wires model inference, delayed aggregation, and
// binarization into per-batch streaming pipelines. Two variants are provided:
// voice activity detection with buffered look-ahead smoothing, and
// transcription with an optional voice pre-filter. A pipeline instance must
// only ever be driven by one caller at a time: buffers and the timestamp
// shift are private, sequentially mutated state.
package pipeline
