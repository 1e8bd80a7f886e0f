package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/sink"
	llmmock "github.com/weftlabs/weft/pkg/provider/llm/mock"
	"github.com/weftlabs/weft/pkg/provider/stt"
	"github.com/weftlabs/weft/pkg/provider/stt/mock"
)

// closingHandle wraps a mock session so Close also closes the response
// channel, letting the session's read loop terminate.
type closingHandle struct {
	*mock.Session
	once sync.Once
}

func (h *closingHandle) Close() error {
	err := h.Session.Close()
	h.once.Do(func() { close(h.Session.ResponsesCh) })
	return err
}

// fakeProvider returns a fresh closingHandle per stream and remembers them
// in order.
type fakeProvider struct {
	mu      sync.Mutex
	handles []*closingHandle
}

func (p *fakeProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &closingHandle{Session: &mock.Session{ResponsesCh: make(chan stt.StreamResponse, 16)}}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) handle(i int) *closingHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[i]
}

// recordSink captures every delivered delta.
type recordSink struct {
	mu     sync.Mutex
	deltas []reconcile.Delta
}

func (r *recordSink) ApplyDelta(_ context.Context, _ string, d reconcile.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
	return nil
}

func (r *recordSink) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deltas {
		for _, w := range d.NewWords {
			out = append(out, w.Text)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "mock"},
		},
		Session: config.SessionConfig{Channels: 1, SampleRate: 48000},
	}
}

func newTestApp(t *testing.T, opts ...Option) (*App, *fakeProvider, *httptest.Server) {
	t.Helper()
	provider := &fakeProvider{}
	a, err := New(context.Background(), testConfig(), Providers{STT: provider}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, provider, srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return resp, decoded
}

func word(text string, start, end int64) stt.WordInfo {
	return stt.WordInfo{Word: text, StartMS: start, EndMS: end}
}

func finalResponse(words ...stt.WordInfo) stt.StreamResponse {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
	}
	return stt.StreamResponse{
		Type:    stt.ResponseResults,
		IsFinal: true,
		Channels: []stt.ChannelResult{{
			Index: 0,
			Alternatives: []stt.Alternative{{
				Transcript: strings.Join(texts, " "),
				Words:      words,
			}},
		}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestNew_RequiresSTTProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), testConfig(), Providers{}); err == nil {
		t.Fatal("expected error for missing STT provider")
	}
	if _, err := New(context.Background(), nil, Providers{STT: &fakeProvider{}}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNew_RejectsReviewWithoutVocabulary(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Postprocess.Review = true

	_, err := New(context.Background(), cfg, Providers{STT: &fakeProvider{}, LLM: &llmmock.Provider{}})
	if err == nil {
		t.Fatal("expected error for review without vocabulary")
	}
	if !strings.Contains(err.Error(), "vocabulary") {
		t.Errorf("error should mention vocabulary, got: %v", err)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestApp(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"alpha"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: got status %d", resp.StatusCode)
	}
	if body["id"] != "alpha" {
		t.Fatalf("open: got id %v", body["id"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"alpha"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate open: got status %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: got status %d", resp.StatusCode)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 || sessions[0] != "alpha" {
		t.Fatalf("list: got %v, want [alpha]", body["sessions"])
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/sessions/alpha", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: got status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/sessions/alpha", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("close unknown: got status %d, want 404", resp.StatusCode)
	}
}

func TestOpenSession_GeneratesID(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestApp(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("expected a generated session id")
	}
}

func TestAudioForwardedToProvider(t *testing.T) {
	t.Parallel()
	_, provider, srv := newTestApp(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"s1"}`)

	chunk := bytes.Repeat([]byte{0x7f}, 320)
	resp, err := http.Post(srv.URL+"/v1/sessions/s1/audio", "application/octet-stream", bytes.NewReader(chunk))
	if err != nil {
		t.Fatalf("post audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", resp.StatusCode)
	}

	if got := provider.handle(0).SendAudioCallCount(); got != 1 {
		t.Fatalf("provider saw %d audio chunks, want 1", got)
	}
}

func TestAudioToUnknownSession(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestApp(t)

	resp, err := http.Post(srv.URL+"/v1/sessions/ghost/audio", "application/octet-stream", strings.NewReader("xx"))
	if err != nil {
		t.Fatalf("post audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	t.Parallel()
	_, provider, srv := newTestApp(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"s1"}`)

	h := provider.handle(0)
	h.ResponsesCh <- finalResponse(word("hello", 0, 400), word("there", 500, 900))
	h.ResponsesCh <- finalResponse(word("friend", 1000, 1400))

	var words []any
	waitFor(t, func() bool {
		_, body := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/s1/transcript", "")
		words, _ = body["words"].([]any)
		return len(words) >= 2
	})

	first := words[0].(map[string]any)
	if first["text"] != "hello" || first["state"] != "final" {
		t.Fatalf("unexpected first word: %v", first)
	}
	if first["id"] == "" {
		t.Fatal("expected word identity in transcript")
	}
	second := words[1].(map[string]any)
	if second["text"] != "there" {
		t.Fatalf("unexpected second word: %v", second)
	}
}

func TestCloseSessionDrainsToSinks(t *testing.T) {
	t.Parallel()
	rec := &recordSink{}
	_, provider, srv := newTestApp(t, WithSink(rec))

	doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"s1"}`)
	provider.handle(0).ResponsesCh <- finalResponse(word("so", 0, 200), word("long", 300, 600))

	waitFor(t, func() bool {
		for _, text := range rec.texts() {
			if text == "so" {
				return true
			}
		}
		return false
	})

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/v1/sessions/s1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: got status %d", resp.StatusCode)
	}

	texts := rec.texts()
	if len(texts) != 2 || texts[1] != "long" {
		t.Fatalf("got %v, want drain to deliver the held word", texts)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, body := doJSON(t, http.MethodGet, srv.URL+path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: got status %d", path, resp.StatusCode)
		}
		if body["status"] != "ok" {
			t.Fatalf("%s: got status field %v", path, body["status"])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a, _, srv := newTestApp(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"id":"s1"}`)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if a.Manager().Len() != 0 {
		t.Fatalf("expected no live sessions after shutdown, got %d", a.Manager().Len())
	}
}

var _ sink.DeltaSink = (*recordSink)(nil)
