// Package session owns the live transcription lifecycle: it pumps provider
// stream responses through the reconciliation engine, fans the resulting
// deltas out to sinks, promotes stable partial words on a timer, and runs
// background correction passes over committed words.
//
// A Session serializes all accumulator access behind a mutex and delivers
// deltas to sinks from a single goroutine, so sinks observe deltas in the
// exact order the engine produced them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weftlabs/weft/internal/correct"
	"github.com/weftlabs/weft/internal/observe"
	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/sink"
	"github.com/weftlabs/weft/pkg/provider/stt"
)

// defaultPostprocessInterval is the default period between background
// correction passes.
const defaultPostprocessInterval = 5 * time.Second

// Session drives one streaming transcription session end to end.
//
// All methods are safe for concurrent use.
type Session struct {
	id      string
	handle  stt.SessionHandle
	sinks   []sink.DeltaSink
	policy  reconcile.PromotionPolicy
	post    correct.PostProcessor
	metrics *observe.Metrics
	logger  *slog.Logger

	promoteInterval time.Duration
	postInterval    time.Duration

	mu  sync.Mutex
	acc *reconcile.Accumulator
	// postCursor is the index into the accumulator's word log of the first
	// word not yet offered to the postprocessor.
	postCursor int

	deltas    chan reconcile.Delta
	done      chan struct{}
	delivered chan struct{}
	cancel    context.CancelFunc
	stopOnce  sync.Once
	closeErr  error
}

// Config configures a [Session].
type Config struct {
	// ID identifies the session towards sinks and logs.
	ID string

	// Handle is the open provider stream the session consumes. Required.
	Handle stt.SessionHandle

	// Sinks receive every delta in order. Delivery errors are logged and
	// counted, never fatal.
	Sinks []sink.DeltaSink

	// Policy decides when a stable partial word is committed without waiting
	// for a final batch. Nil disables promotion.
	Policy reconcile.PromotionPolicy

	// PromoteInterval is how often buffered partials are re-examined against
	// Policy. Required when Policy is set.
	PromoteInterval time.Duration

	// Post runs background correction over committed words. Nil disables
	// postprocessing.
	Post correct.PostProcessor

	// PostInterval is how often a correction pass runs. Defaults to 5s.
	PostInterval time.Duration

	// Gen assigns word identities. Nil uses random UUIDs.
	Gen reconcile.IDGenerator

	// Metrics receives session telemetry. Nil uses the package default.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New creates a session from cfg. The session does nothing until
// [Session.Start] is called.
func New(cfg Config) (*Session, error) {
	if cfg.Handle == nil {
		return nil, fmt.Errorf("session: handle is required")
	}
	if cfg.Policy != nil && cfg.PromoteInterval <= 0 {
		return nil, fmt.Errorf("session: promote interval is required when a promotion policy is set")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	postInterval := cfg.PostInterval
	if postInterval <= 0 {
		postInterval = defaultPostprocessInterval
	}
	return &Session{
		id:              cfg.ID,
		handle:          cfg.Handle,
		sinks:           cfg.Sinks,
		policy:          cfg.Policy,
		post:            cfg.Post,
		metrics:         metrics,
		logger:          logger.With("session_id", cfg.ID),
		promoteInterval: cfg.PromoteInterval,
		postInterval:    postInterval,
		acc:             reconcile.NewAccumulator(cfg.Gen),
		deltas:          make(chan reconcile.Delta, 64),
		done:            make(chan struct{}),
		delivered:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SendAudio forwards raw audio to the provider stream.
func (s *Session) SendAudio(chunk []byte) error {
	return s.handle.SendAudio(chunk)
}

// Words returns a snapshot of all committed words so far, in emission order.
func (s *Session) Words() []reconcile.Word {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Words()
}

// Start launches the session's goroutines: the response reader, the delta
// delivery loop, and the optional promotion and postprocess tickers. It
// returns immediately.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	if s.policy != nil {
		g.Go(func() error { return s.promoteLoop(gctx) })
	}
	if s.post != nil {
		g.Go(func() error { return s.postprocessLoop(gctx) })
	}
	go func() {
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			s.logger.Warn("session worker exited", "error", err)
		}
		close(s.deltas)
	}()
	go func() {
		defer close(s.delivered)
		s.deliverLoop(ctx)
	}()
}

// Close terminates the session: the provider stream is closed, outstanding
// batches are drained into a terminal delta, and the call blocks until that
// delta has been delivered to every sink. Correction passes still in flight
// are discarded. Safe to call multiple times.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.closeErr = s.handle.Close()
		if s.cancel != nil {
			// Started: wait for the drain delta to reach every sink before
			// tearing down the delivery context.
			<-s.delivered
			s.cancel()
		}
	})
	return s.closeErr
}

// readLoop consumes the provider response channel until it closes, then
// drains the accumulator and emits the terminal delta.
func (s *Session) readLoop(ctx context.Context) error {
	fmt.Println("DEBUG readLoop start", s.id)
	for resp := range s.handle.Responses() {
		in, ok := reconcile.InputFromStreamResponse(resp)
		fmt.Println("DEBUG readLoop resp", s.id, ok, resp.IsFinal, len(resp.Channels))
		if !ok {
			continue
		}

		s.mu.Lock()
		var d reconcile.Delta
		if in.IsFinal {
			d = s.acc.ApplyFinal(in)
		} else {
			d = s.acc.ApplyPartial(in)
		}
		s.mu.Unlock()

		kind := "partial"
		if in.IsFinal {
			kind = "final"
		}
		status := "applied"
		if d.Empty() && len(d.Partials) == 0 {
			status = "empty"
		}
		s.metrics.RecordBatch(ctx, kind, status)

		if status == "applied" {
			if err := s.emit(ctx, d); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	d := s.acc.Drain()
	s.mu.Unlock()
	if !d.Empty() {
		return s.emit(ctx, d)
	}
	return nil
}

// promoteLoop periodically commits partial words the policy considers stable.
func (s *Session) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			s.mu.Lock()
			d := s.acc.PromoteReady(s.policy)
			s.mu.Unlock()
			if !d.Empty() {
				if err := s.emit(ctx, d); err != nil {
					return err
				}
			}
		}
	}
}

// postprocessLoop periodically runs the corrector over newly committed words
// and merges accepted corrections back into the transcript. Passes are
// sequential; a slow model round trip delays the next tick rather than
// overlapping it.
func (s *Session) postprocessLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.postInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			if err := s.runPostprocess(ctx); err != nil {
				return err
			}
		}
	}
}

// runPostprocess runs one correction pass. The model call happens outside
// the accumulator lock; results are merged by word ID afterwards, so words
// replaced or drained in the meantime are dropped as stale.
//
// Each pass offers every word past the cursor plus any still-Pending word
// behind it: speculative replacements from earlier passes keep coming back
// until a review confirms or revises them.
func (s *Session) runPostprocess(ctx context.Context) error {
	s.mu.Lock()
	words := s.acc.Words()
	var batch []reconcile.Word
	for _, w := range words[:s.postCursor] {
		if w.State == reconcile.StatePending {
			batch = append(batch, w)
		}
	}
	batch = append(batch, words[s.postCursor:]...)
	advance := len(words) - s.postCursor
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	corrected, err := s.post.Process(ctx, batch)
	if err != nil {
		s.metrics.RecordPostprocess(ctx, time.Since(start).Seconds(), "failed")
		s.logger.Warn("postprocess pass failed", "words", len(batch), "error", err)
		return nil
	}

	s.mu.Lock()
	if s.acc.Drained() {
		s.mu.Unlock()
		s.metrics.RecordPostprocess(ctx, time.Since(start).Seconds(), "stale")
		return nil
	}
	d := s.acc.ApplyPostprocess(changedWords(batch, corrected))
	s.postCursor += advance
	s.mu.Unlock()

	status := "applied"
	if d.Empty() {
		status = "stale"
	}
	s.metrics.RecordPostprocess(ctx, time.Since(start).Seconds(), status)

	if !d.Empty() {
		return s.emit(ctx, d)
	}
	return nil
}

// changedWords filters the corrector output down to words whose text or
// state actually changed, so untouched words keep their identity.
func changedWords(before, after []reconcile.Word) []reconcile.Word {
	var out []reconcile.Word
	for i, w := range after {
		if i >= len(before) {
			break
		}
		if w.Text != before[i].Text || w.State != before[i].State {
			out = append(out, w)
		}
	}
	return out
}

// emit queues a delta for delivery.
func (s *Session) emit(ctx context.Context, d reconcile.Delta) error {
	select {
	case s.deltas <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliverLoop pushes queued deltas to every sink, in order, from a single
// goroutine. Sink errors are logged and counted but never stop delivery.
func (s *Session) deliverLoop(ctx context.Context) {
	for d := range s.deltas {
		s.recordFinalized(ctx, d)
		for _, sk := range s.sinks {
			if err := sk.ApplyDelta(ctx, s.id, d); err != nil {
				name := fmt.Sprintf("%T", sk)
				s.logger.Warn("sink rejected delta", "sink", name, "error", err)
				s.metrics.RecordSinkError(ctx, name)
			}
		}
	}
}

// recordFinalized counts newly committed words per channel. Replacement
// words from postprocess passes are excluded so corrected words are not
// counted twice.
func (s *Session) recordFinalized(ctx context.Context, d reconcile.Delta) {
	if len(d.NewWords) == 0 || len(d.ReplacedIDs) > 0 {
		return
	}
	perChannel := make(map[int]int64)
	for _, w := range d.NewWords {
		perChannel[w.Channel]++
	}
	for ch, n := range perChannel {
		s.metrics.RecordWordsFinalized(ctx, ch, n)
	}
}
