// Package transcription provides an HTTP speech recognition client that
// uploads WAV-encoded chunks to an external ASR service with bounded
// concurrency and retry with exponential backoff.
package transcription
