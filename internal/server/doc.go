// Package server exposes the streaming pipelines over HTTP: whole-file
// processing endpoints, monitoring and Prometheus metrics, and a WebSocket
// endpoint for live PCM streaming with incremental results.
package server
