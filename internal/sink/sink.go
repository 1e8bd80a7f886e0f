// Package sink defines the consumer boundary for transcript deltas.
//
// A DeltaSink receives every Delta an accumulator emits for a session, in
// emission order. Sinks are the only way reconciliation output leaves the
// process: persistence, live captions, and anything else downstream all hang
// off this one interface.
package sink

import (
	"context"

	"github.com/weftlabs/weft/internal/reconcile"
)

// DeltaSink consumes accumulator deltas for a session.
//
// ApplyDelta is called from the session's single delivery goroutine, so
// calls for one session never overlap. A sink that also serves reads must
// do its own locking. Errors are logged by the caller and never stop the
// session.
type DeltaSink interface {
	ApplyDelta(ctx context.Context, sessionID string, delta reconcile.Delta) error
}

// Func adapts a function to the DeltaSink interface.
type Func func(ctx context.Context, sessionID string, delta reconcile.Delta) error

// ApplyDelta implements DeltaSink.
func (f Func) ApplyDelta(ctx context.Context, sessionID string, delta reconcile.Delta) error {
	return f(ctx, sessionID, delta)
}
