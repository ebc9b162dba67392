// Package sinks writes final aggregated pipeline results: RTTM interval
// files for voice activity annotations and plain text for transcriptions.
package sinks
