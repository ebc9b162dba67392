package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/metrics"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/window"
)

// Kind selects which pipeline variant a session runs.
type Kind string

const (
	KindVoiceActivity Kind = "vad"
	KindTranscription Kind = "transcription"
)

// ParseKind validates a pipeline kind tag.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindVoiceActivity, KindTranscription:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("unknown pipeline kind %q (expected vad or transcription)", name)
	}
}

// PipelineFactory builds a fresh pipeline instance for a new session.
type PipelineFactory func(kind Kind) (pipeline.StreamingPipeline, error)

// Session is one live audio stream bound to a private pipeline instance.
// All access goes through its mutex: the pipeline state below is mutated
// strictly sequentially.
type Session struct {
	ID           string
	Kind         Kind
	StartTime    time.Time
	LastActivity time.Time

	pipeline  pipeline.StreamingPipeline
	assembler *audio.Assembler
	outputs   []pipeline.Output

	// Statistics
	chunksProcessed uint64
	samplesReceived uint64

	mu sync.Mutex
}

// SessionStats is a monitoring snapshot of a session.
type SessionStats struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	StartTime       time.Time `json:"start_time"`
	LastActivity    time.Time `json:"last_activity"`
	ChunksProcessed uint64    `json:"chunks_processed"`
	SamplesReceived uint64    `json:"samples_received"`
	SpeechSegments  int       `json:"speech_segments,omitempty"`
}

// Manager owns all active streaming sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	logger  *slog.Logger
	metrics *metrics.Metrics
	factory PipelineFactory
	timeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager. The factory is called once per new
// session so that pipeline state is never shared across sessions.
func NewManager(logger *slog.Logger, m *metrics.Metrics, factory PipelineFactory, timeout time.Duration) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("pipeline factory cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
		factory:  factory,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a new session running a fresh pipeline of the given
// kind and returns its identifier.
func (m *Manager) CreateSession(kind Kind) (*Session, error) {
	p, err := m.factory(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pipeline: %w", kind, err)
	}

	cfg := p.Config()
	assembler, err := audio.NewAssembler(cfg.SampleRate, cfg.Duration, cfg.Step)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk assembler: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		Kind:         kind,
		StartTime:    now,
		LastActivity: now,
		pipeline:     p,
		assembler:    assembler,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(count)
	}

	m.logger.Info("Created new streaming session",
		slog.String("session_id", session.ID),
		slog.String("kind", string(kind)),
		slog.Float64("duration", cfg.Duration),
		slog.Float64("step", cfg.Step),
		slog.Float64("latency", cfg.Latency),
	)

	return session, nil
}

// GetSession retrieves an existing session.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[id]
	return session, exists
}

// PushPCM feeds mono float32 samples into a session and runs the pipeline
// over every chunk completed by the new audio. It returns the settled
// outputs produced by this call, possibly none while look-ahead accumulates.
func (m *Manager) PushPCM(ctx context.Context, id string, samples []float32) ([]pipeline.Output, error) {
	session, exists := m.GetSession(id)
	if !exists {
		return nil, fmt.Errorf("unknown session %s", id)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	session.LastActivity = time.Now()
	session.samplesReceived += uint64(len(samples))

	batch := session.assembler.Push(samples)
	if len(batch) == 0 {
		return nil, nil
	}

	start := time.Now()
	outputs, err := session.pipeline.Process(ctx, batch)
	if err != nil {
		if m.metrics != nil {
			if errors.Is(err, pipeline.ErrPrecondition) {
				m.metrics.RecordPreconditionError()
			} else {
				m.metrics.RecordInferenceError()
			}
		}
		return nil, err
	}

	session.chunksProcessed += uint64(len(batch))
	session.outputs = append(session.outputs, outputs...)

	if m.metrics != nil {
		m.metrics.RecordBatch(len(batch), time.Since(start).Seconds())
		for _, out := range outputs {
			if out.Annotation != nil {
				recordSpeech(m.metrics, out, session.pipeline.Config().Step)
			}
		}
	}

	return outputs, nil
}

// CloseSession flushes any pending audio through the pipeline, joins all
// outputs of the session into the final prediction, removes the session,
// and returns the joined result.
func (m *Manager) CloseSession(ctx context.Context, id string) (pipeline.Output, error) {
	session, exists := m.GetSession(id)
	if !exists {
		return pipeline.Output{}, fmt.Errorf("unknown session %s", id)
	}

	session.mu.Lock()
	if tail, ok := session.assembler.Flush(); ok {
		outputs, err := session.pipeline.Process(ctx, []window.Feature{tail})
		if err != nil {
			session.mu.Unlock()
			return pipeline.Output{}, err
		}
		session.chunksProcessed++
		session.outputs = append(session.outputs, outputs...)
	}
	final := session.pipeline.JoinPredictions(session.outputs)
	session.mu.Unlock()

	m.removeSession(id, false)
	return final, nil
}

// removeSession deletes a session and records its lifetime.
func (m *Manager) removeSession(id string, evicted bool) {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordSessionClosed(time.Since(session.StartTime).Seconds(), evicted)
		m.metrics.SetActiveSessions(count)
	}

	m.logger.Info("Streaming session removed",
		slog.String("session_id", id),
		slog.Bool("evicted", evicted),
		slog.Duration("lifetime", time.Since(session.StartTime)),
		slog.Uint64("chunks_processed", session.chunksProcessed),
	)
}

// GetActiveSessionCount returns the number of currently active sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllStats returns a monitoring snapshot of every active session.
func (m *Manager) GetAllStats() []SessionStats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	stats := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}

// Config returns the session's resolved pipeline configuration.
func (s *Session) Config() pipeline.Config {
	return s.pipeline.Config()
}

// Abort removes a session without producing a final prediction.
func (m *Manager) Abort(id string) {
	m.removeSession(id, false)
}

// Stats returns a monitoring snapshot of the session.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := 0
	for _, out := range s.outputs {
		if out.Annotation != nil {
			segments += out.Annotation.Timeline.Len()
		}
	}

	return SessionStats{
		ID:              s.ID,
		Kind:            string(s.Kind),
		StartTime:       s.StartTime,
		LastActivity:    s.LastActivity,
		ChunksProcessed: s.chunksProcessed,
		SamplesReceived: s.samplesReceived,
		SpeechSegments:  segments,
	}
}

// Stop gracefully stops the manager and its cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager")
	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	remaining := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.logger.Info("Session manager stopped", slog.Int("discarded_sessions", remaining))
}

// startCleanupRoutine periodically evicts idle sessions.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions idle longer than the timeout.
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	var expired []string

	m.mu.RLock()
	for id, session := range m.sessions {
		session.mu.Lock()
		idle := now.Sub(session.LastActivity)
		session.mu.Unlock()

		if idle > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Warn("Evicting idle session", slog.String("session_id", id))
		m.removeSession(id, true)
	}
}

// recordSpeech observes the speech coverage of one settled output.
func recordSpeech(m *metrics.Metrics, out pipeline.Output, step float64) {
	total := 0.0
	for _, seg := range out.Annotation.Timeline.Segments() {
		total += seg.Duration()
	}
	ratio := 0.0
	if step > 0 {
		ratio = total / step
		if ratio > 1 {
			ratio = 1
		}
	}
	m.RecordSpeech(out.Annotation.Timeline.Len(), ratio)
}
