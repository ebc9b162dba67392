// Command mockasr is a stand-in ASR endpoint for local development. It
// accepts the multipart requests produced by the transcription client and
// answers with a canned transcript derived from the request metadata.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type response struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments,omitempty"`
}

var processingDelay = flag.Duration("delay", 100*time.Millisecond, "simulated processing time per request")

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	requestID := r.FormValue("request_id")
	chunkStart := r.FormValue("chunk_start")
	duration := r.FormValue("duration")
	language := r.FormValue("language")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioSize, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusBadRequest)
		return
	}

	log.Printf("Received chunk: request_id=%s start=%ss duration=%ss language=%s file=%s size=%d",
		requestID, chunkStart, duration, language, header.Filename, audioSize)

	// Simulate model inference time.
	time.Sleep(*processingDelay)

	start, _ := strconv.ParseFloat(chunkStart, 64)
	dur, _ := strconv.ParseFloat(duration, 64)

	resp := response{
		Text: fmt.Sprintf("mock transcription of chunk at %.3fs", start),
		Segments: []segment{
			{Start: start, End: start + dur, Text: fmt.Sprintf("mock transcription of chunk at %.3fs", start)},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"healthy"}`)
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/health", healthHandler)

	log.Printf("Mock ASR server listening on %s", *addr)
	log.Printf("Point the transcription endpoint at http://localhost%s/transcribe", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
