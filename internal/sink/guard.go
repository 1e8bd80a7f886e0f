package sink

import (
	"context"

	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/resilience"
)

// Guard wraps a DeltaSink in a circuit breaker so a dead downstream (a
// rate-limited chat API, say) stops being called for a while instead of
// failing on every delta. Deltas rejected while the circuit is open are
// dropped; wrap only sinks that render current state and can tolerate gaps,
// not the persistence sink.
type Guard struct {
	next    DeltaSink
	breaker *resilience.Breaker
}

// NewGuard wraps next with the given breaker.
func NewGuard(next DeltaSink, breaker *resilience.Breaker) *Guard {
	return &Guard{next: next, breaker: breaker}
}

// ApplyDelta forwards the delta unless the breaker is open.
func (g *Guard) ApplyDelta(ctx context.Context, sessionID string, delta reconcile.Delta) error {
	return g.breaker.Do(func() error {
		return g.next.ApplyDelta(ctx, sessionID, delta)
	})
}

var _ DeltaSink = (*Guard)(nil)
