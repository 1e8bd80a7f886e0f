package llmcorrect

import "strings"

// anchor pairs a token index in the original sequence with the matching
// index in the corrected sequence.
type anchor struct {
	orig int
	corr int
}

// span is a contiguous region that differs between the original and
// corrected token sequences.
type span struct {
	origTokens []string
	corrTokens []string
}

// tokenLCS computes the longest common subsequence of two token slices and
// returns the matched index pairs in order. Standard quadratic DP; token
// counts here are sentence-sized.
func tokenLCS(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	length := dp[m][n]
	if length == 0 {
		return nil
	}

	anchors := make([]anchor, length)
	i, j, k := m, n, length-1
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			anchors[k] = anchor{orig: i - 1, corr: j - 1}
			i--
			j--
			k--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}

// changedSpans collects the gaps between anchored tokens. Each gap is a
// region where the two sequences diverge.
func changedSpans(orig, corr []string, anchors []anchor) []span {
	var spans []span
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			spans = append(spans, span{
				origTokens: orig[oi:a.orig],
				corrTokens: corr[ci:a.corr],
			})
		}
		oi = a.orig + 1
		ci = a.corr + 1
	}
	if oi < len(orig) || ci < len(corr) {
		spans = append(spans, span{
			origTokens: orig[oi:],
			corrTokens: corr[ci:],
		})
	}
	return spans
}

// normalizeToken lowercases s and strips trailing punctuation so a span like
// "Grafana." confirms a correction declared as "Grafana".
func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verifyCorrectedText cross-references the token-level changes between
// original and corrected against the substitutions the model declared. A
// changed region with no matching declared correction is reverted to the
// original tokens; a declared correction with no matching change is
// dropped. Returns the verified text and the confirmed corrections.
func verifyCorrectedText(original, corrected string, claimed []Correction) (string, []Correction) {
	if original == corrected {
		return original, claimed
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(corrected)

	anchors := tokenLCS(origTokens, corrTokens)
	spans := changedSpans(origTokens, corrTokens, anchors)

	type key struct{ orig, corr string }
	lookup := make(map[key]Correction, len(claimed))
	for _, c := range claimed {
		lookup[key{normalizeToken(c.Original), normalizeToken(c.Corrected)}] = c
	}

	resolve := func(s span) ([]string, *Correction) {
		k := key{
			normalizeToken(strings.Join(s.origTokens, " ")),
			normalizeToken(strings.Join(s.corrTokens, " ")),
		}
		if c, ok := lookup[k]; ok {
			return s.corrTokens, &c
		}
		return s.origTokens, nil
	}

	var result []string
	var confirmed []Correction
	oi, ci, next := 0, 0, 0

	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			tokens, c := resolve(spans[next])
			next++
			result = append(result, tokens...)
			if c != nil {
				confirmed = append(confirmed, *c)
			}
		}
		result = append(result, origTokens[a.orig])
		oi = a.orig + 1
		ci = a.corr + 1
	}
	if oi < len(origTokens) || ci < len(corrTokens) {
		tokens, c := resolve(spans[next])
		result = append(result, tokens...)
		if c != nil {
			confirmed = append(confirmed, *c)
		}
	}

	return strings.Join(result, " "), confirmed
}
