// Package correct defines the background post-processing boundary for
// finalized transcript words.
//
// Speech recognition output is rarely perfect for domain vocabulary: project
// names, participant names, and product terms are frequently misheard. A
// [PostProcessor] receives a snapshot of finalized words, returns a corrected
// batch of the same shape, and the accumulator re-keys any changed words into
// the live transcript. Processors run strictly off the real-time path, so a
// latency of hundreds of milliseconds per batch is acceptable.
//
// The batch contract: the returned slice has the same length as the input
// and the word at index i carries the same ID as the input word at index i.
// Only Text and State may differ. A processor that cannot improve a word
// returns it unchanged.
//
// Implementations must be safe for concurrent use.
package correct

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/reconcile"
)

// PostProcessor reviews a batch of finalized words and returns a corrected
// batch under the same-length, same-ID contract.
type PostProcessor interface {
	// Process corrects words and returns the revised batch. On error the
	// caller discards the batch; accumulator state is never touched by a
	// failed pass.
	Process(ctx context.Context, words []reconcile.Word) ([]reconcile.Word, error)
}

// Error wraps a failure in a named correction stage.
type Error struct {
	// Stage identifies the stage that failed, e.g. "vocab" or "llm".
	Stage string

	// Err is the underlying failure.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("correct: %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
