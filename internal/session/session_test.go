package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/sink"
	"github.com/weftlabs/weft/pkg/provider/stt"
	"github.com/weftlabs/weft/pkg/provider/stt/mock"
)

// scriptedHandle wraps the stt mock so that Close also closes the response
// channel, the way a real transport ends its stream.
type scriptedHandle struct {
	*mock.Session
	closeOnce sync.Once
}

func newScriptedHandle() *scriptedHandle {
	return &scriptedHandle{Session: &mock.Session{ResponsesCh: make(chan stt.StreamResponse, 16)}}
}

func (h *scriptedHandle) Close() error {
	err := h.Session.Close()
	h.closeOnce.Do(func() { close(h.ResponsesCh) })
	return err
}

// recordSink captures every delivered delta.
type recordSink struct {
	mu     sync.Mutex
	deltas []reconcile.Delta
	err    error
}

func (r *recordSink) ApplyDelta(_ context.Context, _ string, d reconcile.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
	return r.err
}

func (r *recordSink) all() []reconcile.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reconcile.Delta, len(r.deltas))
	copy(out, r.deltas)
	return out
}

// finalTexts flattens the committed words across all recorded deltas,
// skipping replacement deltas.
func (r *recordSink) finalTexts() []string {
	var out []string
	for _, d := range r.all() {
		if len(d.ReplacedIDs) > 0 {
			continue
		}
		for _, w := range d.NewWords {
			out = append(out, w.Text)
		}
	}
	return out
}

func wordInfo(text string, startMS, endMS int64) stt.WordInfo {
	return stt.WordInfo{Word: text, StartMS: startMS, EndMS: endMS}
}

func response(isFinal bool, words ...stt.WordInfo) stt.StreamResponse {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
	}
	return stt.StreamResponse{
		Type:    stt.ResponseResults,
		IsFinal: isFinal,
		Channels: []stt.ChannelResult{{
			Index: 0,
			Alternatives: []stt.Alternative{{
				Transcript: strings.Join(texts, " "),
				Words:      words,
			}},
		}},
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSession_FinalBatchDelivered(t *testing.T) {
	t.Parallel()
	handle := newScriptedHandle()
	snk := &recordSink{}

	s, err := New(Config{
		ID:     "s1",
		Handle: handle,
		Sinks:  []sink.DeltaSink{snk},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	handle.ResponsesCh <- response(true, wordInfo("hello", 0, 400), wordInfo("world", 500, 800))

	// The batch tail is withheld for stitching, so only "hello" commits now.
	waitFor(t, time.Second, func() bool {
		texts := snk.finalTexts()
		return len(texts) == 1 && texts[0] == "hello"
	})

	// The withheld tail is visible as a partial in the snapshot.
	deltas := snk.all()
	last := deltas[len(deltas)-1]
	if len(last.Partials) != 1 || last.Partials[0].Text != "world" {
		t.Errorf("expected held word in partial snapshot, got %+v", last.Partials)
	}

	// Close drains the held word.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	texts := snk.finalTexts()
	if len(texts) != 2 || texts[1] != "world" {
		t.Errorf("after drain: got %v, want [hello world]", texts)
	}
}

func TestSession_PartialsReplacedWholesale(t *testing.T) {
	t.Parallel()
	handle := newScriptedHandle()
	snk := &recordSink{}

	s, err := New(Config{ID: "s2", Handle: handle, Sinks: []sink.DeltaSink{snk}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	handle.ResponsesCh <- response(false, wordInfo("he", 0, 200))
	handle.ResponsesCh <- response(false, wordInfo("hello", 0, 400))

	waitFor(t, time.Second, func() bool { return len(snk.all()) >= 2 })

	deltas := snk.all()
	last := deltas[len(deltas)-1]
	if len(last.Partials) != 1 || last.Partials[0].Text != "hello" {
		t.Errorf("expected latest hypothesis only, got %+v", last.Partials)
	}
	if len(last.NewWords) != 0 {
		t.Errorf("partial delta must not commit words, got %+v", last.NewWords)
	}

	// Drain promotes the surviving hypothesis exactly once.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	texts := snk.finalTexts()
	if len(texts) != 1 || texts[0] != "hello" {
		t.Errorf("after drain: got %v, want [hello]", texts)
	}
}

func TestSession_PromotionCommitsStablePartials(t *testing.T) {
	t.Parallel()
	handle := newScriptedHandle()
	snk := &recordSink{}

	s, err := New(Config{
		ID:              "s3",
		Handle:          handle,
		Sinks:           []sink.DeltaSink{snk},
		Policy:          reconcile.AfterNSeen{N: 2},
		PromoteInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	// The same hypothesis twice makes both words stable. Promotion commits
	// "alpha"; "beta" becomes the withheld tail.
	partial := response(false, wordInfo("alpha", 0, 300), wordInfo("beta", 400, 700))
	handle.ResponsesCh <- partial
	handle.ResponsesCh <- partial

	waitFor(t, time.Second, func() bool {
		texts := snk.finalTexts()
		return len(texts) == 1 && texts[0] == "alpha"
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	texts := snk.finalTexts()
	if len(texts) != 2 || texts[1] != "beta" {
		t.Errorf("after drain: got %v, want [alpha beta]", texts)
	}
}

func TestSession_SinkErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()
	handle := newScriptedHandle()
	broken := &recordSink{err: errors.New("sink down")}
	healthy := &recordSink{}

	s, err := New(Config{ID: "s4", Handle: handle, Sinks: []sink.DeltaSink{broken, healthy}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	handle.ResponsesCh <- response(true, wordInfo("one", 0, 300), wordInfo("two", 400, 700))
	handle.ResponsesCh <- response(true, wordInfo("three", 800, 1100), wordInfo("four", 1200, 1500))

	waitFor(t, time.Second, func() bool { return len(healthy.finalTexts()) >= 3 })

	if got := len(broken.all()); got < 2 {
		t.Errorf("broken sink should still receive deltas, got %d", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSession_NewValidatesConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing handle")
	}
	if _, err := New(Config{Handle: newScriptedHandle(), Policy: reconcile.AfterNSeen{N: 2}}); err == nil {
		t.Error("expected error for policy without promote interval")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	handle := newScriptedHandle()
	s, err := New(Config{ID: "s5", Handle: handle})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
