package stt

// ResponseType classifies a streaming message from the provider.
type ResponseType string

const (
	// ResponseResults carries transcription content (partial or final).
	ResponseResults ResponseType = "results"

	// ResponseMetadata carries provider bookkeeping (model info, request IDs).
	ResponseMetadata ResponseType = "metadata"

	// ResponseError carries a provider-side error notification. The stream may
	// or may not survive it; the transport decides.
	ResponseError ResponseType = "error"

	// ResponseControl carries lifecycle signals (utterance end, stream close).
	ResponseControl ResponseType = "control"
)

// StreamResponse is the provider-agnostic wire shape for one streaming
// message. It mirrors what real-time transcription APIs send: a finality flag
// and one result per audio channel, each with ranked alternatives.
//
// Only ResponseResults messages carry transcription content; everything else
// is bookkeeping that consumers are free to ignore.
type StreamResponse struct {
	// Type classifies the message. Non-results messages have empty Channels.
	Type ResponseType

	// IsFinal reports whether the provider has committed to this result.
	// Final results will not be revised; partial results may be rewritten or
	// withdrawn wholesale by the next message.
	IsFinal bool

	// Channels holds one result per audio channel present in the message.
	// Mono streams have exactly one entry.
	Channels []ChannelResult
}

// ChannelResult is the recognition result for a single audio channel.
type ChannelResult struct {
	// Index is the zero-based audio channel this result belongs to.
	Index int

	// Alternatives is the ranked list of hypotheses. The first entry is the
	// provider's best guess and the only one most consumers look at.
	Alternatives []Alternative
}

// Alternative is one recognition hypothesis for a channel.
type Alternative struct {
	// Transcript is the full hypothesis text.
	Transcript string

	// Confidence is the overall confidence score (0.0-1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Words contains per-word detail when the provider supports it. May be
	// nil or sparse; the transcript string is the authoritative text either way.
	Words []WordInfo
}

// WordInfo holds per-word metadata from providers that report it.
type WordInfo struct {
	// Word is the recognised token.
	Word string

	// StartMS and EndMS bound the word in stream time, in milliseconds.
	// Both zero means the provider supplied no timing for this word.
	StartMS int64
	EndMS   int64

	// Confidence is the per-word confidence score (0.0-1.0).
	Confidence float64

	// Speaker is the diarization speaker index, or nil when diarization is
	// off or has not resolved for this word yet.
	Speaker *int
}

// HasTiming reports whether the word carries usable time bounds.
func (w WordInfo) HasTiming() bool {
	return w.EndMS > w.StartMS
}
