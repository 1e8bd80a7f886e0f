package resilience

import (
	"errors"
	"testing"
)

func TestFallback_PrimaryFirst(t *testing.T) {
	t.Parallel()

	f := NewFallback("primary", "a")
	f.Add("standby", "b")

	got, err := Try(f, func(v string) (string, error) { return v, nil })
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if got != "a" {
		t.Fatalf("got %q, want primary result", got)
	}
}

func TestFallback_FailsOverToStandby(t *testing.T) {
	t.Parallel()

	f := NewFallback("primary", "a")
	f.Add("standby", "b")

	got, err := Try(f, func(v string) (string, error) {
		if v == "a" {
			return "", errBoom
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if got != "b" {
		t.Fatalf("got %q, want standby result", got)
	}
}

func TestFallback_AllFailed(t *testing.T) {
	t.Parallel()

	f := NewFallback("primary", "a")
	f.Add("standby", "b")

	_, err := Try(f, func(string) (string, error) { return "", errBoom })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}

func TestFallback_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	f := NewFallback("primary", "a", WithMaxFailures(1))
	f.Add("standby", "b")

	// Trip the primary's breaker.
	Try(f, func(v string) (string, error) {
		if v == "a" {
			return "", errBoom
		}
		return v, nil
	})

	var calls []string
	got, err := Try(f, func(v string) (string, error) {
		calls = append(calls, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if got != "b" {
		t.Fatalf("got %q, want standby while primary circuit open", got)
	}
	if len(calls) != 1 || calls[0] != "b" {
		t.Fatalf("primary was called despite open circuit: %v", calls)
	}
}
