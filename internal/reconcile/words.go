// Package reconcile implements the transcript reconciliation engine: a pure,
// synchronous, in-memory transform from streams of partial and final word
// batches into one growing, stable, per-word-identified transcript.
//
// Live speech-recognition providers deliver two kinds of events per audio
// channel: partial hypotheses (unstable, revised or withdrawn wholesale) and
// final batches (committed, but a single spoken word may be split across two
// consecutive final batches, and a final batch may overlap the tail of
// previously buffered partials). The engine guarantees that downstream
// consumers see every spoken word exactly once, in non-decreasing start-time
// order, with an identity that never changes until it is explicitly listed as
// replaced in a later Delta.
//
// The engine performs no I/O and never blocks. Events for one channel must be
// applied in provider arrival order; distinct channels are fully independent.
package reconcile

import (
	"fmt"

	"github.com/google/uuid"
)

// WordState describes the stability of a finalized word's text.
type WordState int

const (
	// StateFinal marks a word whose text is stable until it is explicitly
	// replaced via a Delta's ReplacedIDs entry.
	StateFinal WordState = iota

	// StatePending marks a word whose text may still be replaced by an
	// out-of-band corrector. Pending words carry the same identity contract
	// as final words.
	StatePending
)

// String returns the human-readable name of the state.
func (s WordState) String() string {
	switch s {
	case StateFinal:
		return "final"
	case StatePending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RawWord is a pre-identity word produced by the input adapter. RawWords are
// ephemeral: they live only inside the engine's buffers and are never exposed
// past the accumulator boundary.
type RawWord struct {
	// Text is the word text as recognised.
	Text string

	// StartMS and EndMS bound the word in stream time, in milliseconds.
	StartMS int64
	EndMS   int64

	// Channel is the audio channel the word was spoken on.
	Channel int

	// Speaker is the diarization speaker index, or nil when unknown.
	Speaker *int
}

// PartialWord is a read-only projection of an in-flight (not yet final) word,
// for UI rendering. Partials carry no identity: they are not persisted and
// are replaced wholesale on every update.
type PartialWord struct {
	Text    string
	StartMS int64
	EndMS   int64
	Channel int
}

// Word is a finalized transcript word. Once assigned, ID never changes; the
// word it denotes is stable until the ID appears in a later Delta's
// ReplacedIDs.
type Word struct {
	ID      string
	Text    string
	StartMS int64
	EndMS   int64
	Channel int
	State   WordState
}

// SpeakerHint is a best-effort diarization annotation, decoupled from word
// text because speaker attribution may resolve after word finalization.
type SpeakerHint struct {
	// WordID is the finalized word the hint applies to.
	WordID string

	// Speaker is the diarization speaker index.
	Speaker int
}

// Delta is the unit of engine output. Consumers apply it as: remove
// ReplacedIDs, upsert NewWords honoring their State, and replace the entire
// displayed partial set with Partials.
type Delta struct {
	// NewWords are newly finalized (or replacement) words in emission order.
	NewWords []Word

	// Hints carry speaker attributions for finalized words.
	Hints []SpeakerHint

	// ReplacedIDs lists word IDs that NewWords supersede. Empty for normal
	// reconciliation; populated by postprocess application.
	ReplacedIDs []string

	// Partials is the complete current partial snapshot across all channels,
	// not an incremental diff.
	Partials []PartialWord
}

// Empty reports whether the delta carries neither finalized words nor
// replacements. A delta with only a partial snapshot is still "empty" in the
// finalization sense.
func (d Delta) Empty() bool {
	return len(d.NewWords) == 0 && len(d.ReplacedIDs) == 0
}

// IDGenerator supplies identities for finalized words. It is pluggable so
// that production code can use random UUIDs while tests substitute
// deterministic sequences for reproducible snapshots.
type IDGenerator interface {
	// NextID returns a fresh, never-before-issued identifier.
	NextID() string
}

// UUIDGenerator issues random UUID identities. Safe for concurrent use.
type UUIDGenerator struct{}

// NextID returns a random UUID string.
func (UUIDGenerator) NextID() string { return uuid.NewString() }

// SequentialGenerator issues deterministic "w-1", "w-2", ... identities for
// tests and snapshots. Not safe for concurrent use.
type SequentialGenerator struct {
	// Prefix precedes the counter in every ID. Defaults to "w" when empty.
	Prefix string

	n int
}

// NextID returns the next sequential identifier.
func (g *SequentialGenerator) NextID() string {
	g.n++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "w"
	}
	return fmt.Sprintf("%s-%d", prefix, g.n)
}

// Compile-time interface checks.
var (
	_ IDGenerator = UUIDGenerator{}
	_ IDGenerator = (*SequentialGenerator)(nil)
)
