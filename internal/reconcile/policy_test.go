package reconcile

import "testing"

func TestNeverPromote(t *testing.T) {
	t.Parallel()

	p := NeverPromote{}
	if p.ShouldPromote(raw("any", 0, 100), 1000) {
		t.Error("NeverPromote promoted a word")
	}
}

func TestAfterNSeen(t *testing.T) {
	t.Parallel()

	p := AfterNSeen{N: 3}
	w := raw("steady", 0, 100)
	if p.ShouldPromote(w, 2) {
		t.Error("promoted below threshold")
	}
	if !p.ShouldPromote(w, 3) {
		t.Error("did not promote at threshold")
	}
	if !p.ShouldPromote(w, 7) {
		t.Error("did not promote above threshold")
	}
}

func TestAfterNSeen_ZeroNeverPromotes(t *testing.T) {
	t.Parallel()

	p := AfterNSeen{}
	if p.ShouldPromote(raw("w", 0, 100), 100) {
		t.Error("zero-valued policy promoted a word")
	}
}
