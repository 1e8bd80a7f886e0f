// Package phonetic matches misheard transcript words against a known
// vocabulary using Double Metaphone encoding ranked by Jaro-Winkler string
// similarity.
//
// Matching runs in two passes:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for the input
//     word and for every vocabulary term. A term whose code set overlaps the
//     input's becomes a candidate.
//
//  2. Similarity ranking: among candidates, the term with the highest
//     Jaro-Winkler score (case-insensitive, on the original strings) wins,
//     provided the score clears the phonetic threshold. When no term
//     overlaps phonetically, a fallback pass accepts a pure string-similarity
//     match against a stricter fuzzy threshold.
//
// Multi-word terms are supported: codes are computed per token and the best
// pairwise token score contributes to the ranking.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetic
// candidate must reach to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fallback
// pass used when no vocabulary term overlaps phonetically. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher resolves a word to the most similar vocabulary term. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term most similar to word.
//
// Return values: corrected is the best-matching term with its canonical
// casing, confidence is the Jaro-Winkler score in [0,1], and matched reports
// whether any term cleared its threshold. When matched is false, corrected
// equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	if len(vocabulary) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	wordCodes := phoneCodes(wordTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range vocabulary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		score := similarity(wordTokens, termTokens, wordLower, termLower)

		if sharesCode(wordCodes, phoneCodes(termTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = term, score
		}
	}

	if bestTerm == "" {
		return word, 0, false
	}
	return bestTerm, bestScore, true
}

// phoneCodes returns the union of Double Metaphone codes for tokens. Empty
// codes from short or vowel-only tokens are excluded.
func phoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

// sharesCode reports whether the two code sets have a common element.
func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score between the input and the
// term across three views: the full strings, the space-stripped strings, and
// the best token pair. The token-pair view covers the common case where one
// spoken word corresponds to one word of a multi-word term.
func similarity(wordTokens, termTokens []string, wordFull, termFull string) float64 {
	score := matchr.JaroWinkler(wordFull, termFull, false)

	if len(wordTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(
			strings.Join(wordTokens, ""),
			strings.Join(termTokens, ""),
			false,
		)
		if joined > score {
			score = joined
		}
	}

	for _, wt := range wordTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(wt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
