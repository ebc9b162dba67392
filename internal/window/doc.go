// Package window provides the time-aligned data model for streaming speech
// processing: segments, timelines, sliding-window descriptors, and windowed
// feature matrices with cropping support.
package window
