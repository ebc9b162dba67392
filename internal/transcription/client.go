package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/inference"
	"github.com/taocao/diart/internal/metrics"
	"github.com/taocao/diart/internal/window"
)

// Client is an HTTP speech recognition client implementing
// inference.SpeechRecognizer. Each chunk is uploaded as a WAV file; requests
// run concurrently up to MaxConcurrent, and retryable failures back off
// exponentially. Retries live here, in the external adapter: the pipelines
// themselves never retry.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// Config contains speech recognition client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Language      string
	Model         string

	// ChunkDuration and SampleRate describe the audio the remote model
	// expects; they become the pipeline defaults.
	ChunkDuration float64
	SampleRate    int
}

// apiResponse is the JSON body returned by the ASR service.
type apiResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments,omitempty"`
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

// NewClient creates a new speech recognition HTTP client. The metrics
// argument may be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = 3
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
	}, nil
}

// ChunkDuration returns the default chunk duration in seconds.
func (c *Client) ChunkDuration() float64 {
	return c.config.ChunkDuration
}

// SampleRate returns the sample rate the remote model expects.
func (c *Client) SampleRate() int {
	return c.config.SampleRate
}

// Transcribe uploads every chunk of the batch and returns one transcript
// per chunk, in input order. Chunks are sent concurrently up to the
// configured limit; the first error aborts the whole batch.
func (c *Client) Transcribe(ctx context.Context, batch []window.Feature) ([]inference.Transcript, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("transcription batch cannot be empty")
	}

	transcripts := make([]inference.Transcript, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, chunk := range batch {
		wg.Add(1)
		go func(i int, chunk window.Feature) {
			defer wg.Done()
			transcripts[i], errs[i] = c.transcribeChunk(ctx, chunk)
		}(i, chunk)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return transcripts, nil
}

// transcribeChunk sends one chunk with retry and backoff.
func (c *Client) transcribeChunk(ctx context.Context, chunk window.Feature) (inference.Transcript, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return inference.Transcript{}, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	if c.metrics != nil {
		c.metrics.RecordASRRequest()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordASRRetry()
			}

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return inference.Transcript{}, ctx.Err()
			}
		}

		transcript, err := c.doRequest(ctx, chunk)
		if err == nil {
			c.incrementSuccessRequests()
			if c.metrics != nil {
				c.metrics.RecordASRSuccess(time.Since(startTime).Seconds())
			}
			return transcript, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	if c.metrics != nil {
		c.metrics.RecordASRFailure(time.Since(startTime).Seconds())
	}
	return inference.Transcript{}, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request for one chunk.
func (c *Client) doRequest(ctx context.Context, chunk window.Feature) (inference.Transcript, error) {
	body, contentType, err := c.createMultipartRequest(chunk)
	if err != nil {
		return inference.Transcript{}, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return inference.Transcript{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return inference.Transcript{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return inference.Transcript{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return inference.Transcript{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return inference.Transcript{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	transcript := inference.Transcript{Text: strings.TrimSpace(parsed.Text)}
	for _, seg := range parsed.Segments {
		transcript.Segments = append(transcript.Segments, inference.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return transcript, nil
}

// createMultipartRequest builds a multipart/form-data body carrying the
// chunk as a WAV file plus request metadata.
func (c *Client) createMultipartRequest(chunk window.Feature) (io.Reader, string, error) {
	samples := audio.FloatToSamples(audio.ChunkSamples(chunk))
	wav, err := audio.EncodeWAV(samples, c.config.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode chunk: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	requestID := uuid.NewString()
	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"request_id":  requestID,
		"chunk_start": fmt.Sprintf("%.3f", chunk.Extent().Start),
		"duration":    fmt.Sprintf("%.3f", chunk.Extent().Duration()),
		"sample_rate": fmt.Sprintf("%d", c.config.SampleRate),
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is worth retrying.
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable.
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network and connection errors are typically transient.
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused")
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		ActiveRequests:  len(c.semaphore),
	}
}
