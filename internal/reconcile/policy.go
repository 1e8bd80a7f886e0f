package reconcile

// PromotionPolicy decides whether a still-partial word should be forced to
// final status ahead of the provider's own final signal. The engine never
// consults a policy on its own: the caller invokes it (via
// Accumulator.PromoteReady) after partial updates, once per buffered word,
// with a count of how many consecutive partial updates have reproduced that
// word unchanged. Policies never mutate state.
type PromotionPolicy interface {
	// ShouldPromote reports whether word, reproduced unchanged by
	// consecutiveSeen consecutive partial updates, should be finalized now.
	ShouldPromote(word RawWord, consecutiveSeen int) bool
}

// NeverPromote is the default policy: rely solely on provider final signals
// and the terminal drain.
type NeverPromote struct{}

// ShouldPromote always returns false.
func (NeverPromote) ShouldPromote(RawWord, int) bool { return false }

// AfterNSeen promotes a word once it has survived N consecutive partial
// updates unchanged (same text, same start time). Useful with providers whose
// final signals lag far behind stable hypotheses.
type AfterNSeen struct {
	// N is the number of consecutive unchanged sightings required. Zero or
	// negative never promotes.
	N int
}

// ShouldPromote reports whether the word has been seen unchanged at least N
// times in a row.
func (p AfterNSeen) ShouldPromote(_ RawWord, consecutiveSeen int) bool {
	return p.N > 0 && consecutiveSeen >= p.N
}

// Compile-time interface checks.
var (
	_ PromotionPolicy = NeverPromote{}
	_ PromotionPolicy = AfterNSeen{}
)
