// Package stt defines the Provider interface for streaming speech-to-text
// backends and the provider-agnostic wire types they emit.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio and emits a
// single ordered stream of StreamResponse values carrying both low-latency
// partial hypotheses and authoritative final results.
//
// Ordering matters: consumers reconcile partials and finals into a stable
// transcript, and that reconciliation is only correct when responses arrive in
// the order the provider produced them. Implementations must preserve it.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. Multi-channel streams produce
	// independent per-channel results in each StreamResponse.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// Diarize requests per-word speaker indices when the provider supports
	// speaker diarization.
	Diarize bool
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so test code can substitute scripted implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio for transcription. The chunk
	// must match the format agreed in StreamConfig. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Responses returns a read-only channel emitting provider messages in
	// arrival order. Partial and final results are interleaved on the same
	// channel so their relative order is preserved. The channel is closed when
	// the session ends.
	Responses() <-chan StreamResponse

	// Close terminates the session, flushes pending audio, and releases all
	// resources. After Close returns, the Responses channel will be closed.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns it
	// and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
