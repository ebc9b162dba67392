package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/window"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost:8081/transcribe"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Zero values get usable defaults.
	if client.ChunkDuration() != 3 {
		t.Errorf("Expected default chunk duration 3, got %f", client.ChunkDuration())
	}
	if client.SampleRate() != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", client.SampleRate())
	}
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file field: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		file.Close()

		if r.FormValue("request_id") == "" {
			t.Error("Missing request_id field")
		}
		if r.FormValue("language") != "uk" {
			t.Errorf("Expected language uk, got %q", r.FormValue("language"))
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", auth)
		}

		chunkStart := r.FormValue("chunk_start")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"text": "transcript at " + chunkStart,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		Language:   "uk",
		SampleRate: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	batch := []window.Feature{
		audio.NewChunk(make([]float32, 100), 0, 100),
		audio.NewChunk(make([]float32, 100), 1, 100),
	}
	transcripts, err := client.Transcribe(context.Background(), batch)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if len(transcripts) != 2 {
		t.Fatalf("Expected 2 transcripts, got %d", len(transcripts))
	}
	// Order must match the batch even though requests run concurrently.
	if transcripts[0].Text != "transcript at 0.000" {
		t.Errorf("Expected transcript for chunk 0, got %q", transcripts[0].Text)
	}
	if transcripts[1].Text != "transcript at 1.000" {
		t.Errorf("Expected transcript for chunk 1, got %q", transcripts[1].Text)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 2 || stats.SuccessRequests != 2 {
		t.Errorf("Expected 2 successful requests, got %+v", stats)
	}
}

func TestTranscribeEmptyBatch(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost:8081/transcribe"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Error("Expected error for empty batch")
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text": "recovered"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:   server.URL,
		MaxRetries: 2,
		SampleRate: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	transcripts, err := client.Transcribe(context.Background(),
		[]window.Feature{audio.NewChunk(make([]float32, 100), 0, 100)})
	if err != nil {
		t.Fatalf("Expected retry to recover, got error: %v", err)
	}
	if transcripts[0].Text != "recovered" {
		t.Errorf("Expected recovered transcript, got %q", transcripts[0].Text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 requests, got %d", calls)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.TotalRetries)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:   server.URL,
		MaxRetries: 3,
		SampleRate: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(),
		[]window.Feature{audio.NewChunk(make([]float32, 100), 0, 100)}); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected exactly 1 request for a non-retryable error, got %d", calls)
	}
}

func TestTranscribeHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, SampleRate: 100}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Transcribe(ctx,
		[]window.Feature{audio.NewChunk(make([]float32, 100), 0, 100)}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
