// Package stream provides streaming session management and lifecycle
// handling. Each session owns exactly one pipeline instance and its chunk
// assembler, guaranteeing strictly sequential buffer mutation; idle sessions
// are evicted after a configurable timeout.
package stream
