package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Fallback] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Fallback tries a primary and then each standby of the same provider type,
// in registration order, each behind its own breaker. Safe for concurrent
// use once construction is complete.
type Fallback[T any] struct {
	entries []entry[T]
	opts    []BreakerOption
}

// NewFallback creates a [Fallback] with primary as the first entry. The
// breaker options apply to every entry.
func NewFallback[T any](name string, primary T, opts ...BreakerOption) *Fallback[T] {
	f := &Fallback[T]{opts: opts}
	f.Add(name, primary)
	return f
}

// Add appends a standby provider, tried after all earlier entries.
func (f *Fallback[T]) Add(name string, value T) {
	f.entries = append(f.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(name, f.opts...),
	})
}

// Try runs fn against each healthy entry until one succeeds. Entries with an
// open breaker are skipped. When every entry fails the last error is wrapped
// in [ErrAllFailed].
func Try[T, R any](f *Fallback[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		result  R
	)
	for i := range f.entries {
		e := &f.entries[i]
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
