package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/correct"
	"github.com/weftlabs/weft/internal/observe"
	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/sink"
	"github.com/weftlabs/weft/pkg/provider/stt"
)

// ErrSessionExists is returned by [Manager.Open] when a session with the
// requested ID is already live.
var ErrSessionExists = errors.New("session: already exists")

// ErrSessionNotFound is returned by Manager methods addressing an unknown
// session ID.
var ErrSessionNotFound = errors.New("session: not found")

// Manager opens and tracks live transcription sessions against a single STT
// provider. Every session it opens shares the same stream configuration,
// sinks, promotion policy, and postprocessor.
//
// All methods are safe for concurrent use.
type Manager struct {
	provider  stt.Provider
	streamCfg stt.StreamConfig

	sinks           []sink.DeltaSink
	policy          reconcile.PromotionPolicy
	promoteInterval time.Duration
	post            correct.PostProcessor
	postInterval    time.Duration

	metrics *observe.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Provider opens provider streams for new sessions. Required.
	Provider stt.Provider

	// Stream is the audio format and recognition hints passed to the
	// provider for every session.
	Stream stt.StreamConfig

	// Sinks receive every session's deltas.
	Sinks []sink.DeltaSink

	// Policy and PromoteInterval configure held-word promotion for every
	// session. Nil Policy disables promotion.
	Policy          reconcile.PromotionPolicy
	PromoteInterval time.Duration

	// Post and PostInterval configure background correction for every
	// session. Nil Post disables it.
	Post         correct.PostProcessor
	PostInterval time.Duration

	// Metrics receives session telemetry. Nil uses the package default.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewManager creates a manager from cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: provider is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider:        cfg.Provider,
		streamCfg:       cfg.Stream,
		sinks:           cfg.Sinks,
		policy:          cfg.Policy,
		promoteInterval: cfg.PromoteInterval,
		post:            cfg.Post,
		postInterval:    cfg.PostInterval,
		metrics:         metrics,
		logger:          logger,
		sessions:        make(map[string]*Session),
	}, nil
}

// Open starts a new transcription session under id. The provider stream is
// opened, the session goroutines are launched, and the session is returned
// ready to accept audio.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, id)
	}
	m.mu.Unlock()

	handle, err := m.provider.StartStream(ctx, m.streamCfg)
	if err != nil {
		return nil, fmt.Errorf("session: open %q: %w", id, err)
	}

	s, err := New(Config{
		ID:              id,
		Handle:          handle,
		Sinks:           m.sinks,
		Policy:          m.policy,
		PromoteInterval: m.promoteInterval,
		Post:            m.post,
		PostInterval:    m.postInterval,
		Metrics:         m.metrics,
		Logger:          m.logger,
	})
	if err != nil {
		_ = handle.Close()
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		_ = handle.Close()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, id)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	s.Start(ctx)
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.logger.Info("session opened", "session_id", id)
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns the IDs of all live sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close drains and removes the session with the given ID, blocking until its
// terminal delta has been delivered.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	err := s.Close()
	m.metrics.ActiveSessions.Add(ctx, -1)
	m.logger.Info("session closed", "session_id", id)
	if err != nil {
		return fmt.Errorf("session: close %q: %w", id, err)
	}
	return nil
}

// CloseAll drains every live session. Errors are joined; all sessions are
// closed regardless.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
