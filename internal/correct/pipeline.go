package correct

import (
	"context"
	"log/slog"
	"strings"

	"github.com/weftlabs/weft/internal/correct/llmcorrect"
	"github.com/weftlabs/weft/internal/reconcile"
)

// Matcher resolves a single word to a known vocabulary term by pronunciation
// similarity. It is the first correction stage: fast, in-process, no network.
//
// When matched is false, corrected must equal word unchanged and confidence
// must be 0. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// PipelineOption is a functional option for configuring a [Pipeline].
type PipelineOption func(*Pipeline)

// WithMatcher attaches a [Matcher] as the first correction stage. When nil
// (the default), the stage is skipped.
func WithMatcher(m Matcher) PipelineOption {
	return func(p *Pipeline) {
		p.matcher = m
	}
}

// WithReviewer attaches an [llmcorrect.Corrector] as the second correction
// stage. When nil (the default), the stage is skipped.
func WithReviewer(c *llmcorrect.Corrector) PipelineOption {
	return func(p *Pipeline) {
		p.reviewer = c
	}
}

// WithLogger sets the logger for correction audit output. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// Pipeline is the two-stage [PostProcessor] implementation. Stages are
// optional and applied in order:
//
//  1. [Matcher]: per-word phonetic vocabulary alignment. Substitutions from
//     this stage are deterministic and emitted as Final.
//  2. [llmcorrect.Corrector]: model review of the batch text. Substitutions
//     from this stage are speculative and emitted as Pending; a later pass
//     over the replacement words confirms or revises them.
//
// A Pending input word that survives a model review untouched is promoted
// to Final: the reviewer saw it in context and left it standing.
//
// Pipeline is safe for concurrent use.
type Pipeline struct {
	vocabulary []string
	matcher    Matcher
	reviewer   *llmcorrect.Corrector
	logger     *slog.Logger
}

var _ PostProcessor = (*Pipeline)(nil)

// NewPipeline constructs a [Pipeline] correcting against vocabulary. Both
// stages are disabled by default; use [WithMatcher] and [WithReviewer] to
// activate them.
func NewPipeline(vocabulary []string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		vocabulary: vocabulary,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process implements [PostProcessor]. The returned batch preserves length
// and IDs; only Text and State change.
func (p *Pipeline) Process(ctx context.Context, words []reconcile.Word) ([]reconcile.Word, error) {
	out := make([]reconcile.Word, len(words))
	copy(out, words)

	if len(out) == 0 || len(p.vocabulary) == 0 {
		return out, nil
	}

	touched := make([]bool, len(out))

	if p.matcher != nil {
		p.applyVocab(out, touched)
	}

	if p.reviewer != nil {
		if err := p.applyReview(ctx, out, touched); err != nil {
			return nil, err
		}
		// The reviewer confirmed everything it did not change.
		for i := range out {
			if !touched[i] && out[i].State == reconcile.StatePending {
				out[i].State = reconcile.StateFinal
			}
		}
	}

	return out, nil
}

// applyVocab runs the phonetic stage over each word independently.
// Multi-word vocabulary hits are skipped: a term spanning several words
// cannot be expressed as a same-length batch.
func (p *Pipeline) applyVocab(out []reconcile.Word, touched []bool) {
	for i := range out {
		corrected, conf, ok := p.matcher.Match(out[i].Text, p.vocabulary)
		if !ok || corrected == out[i].Text || strings.ContainsRune(corrected, ' ') {
			continue
		}
		p.logger.Debug("vocab correction",
			"original", out[i].Text,
			"corrected", corrected,
			"confidence", conf,
			"word_id", out[i].ID,
		)
		out[i].Text = corrected
		out[i].State = reconcile.StateFinal
		touched[i] = true
	}
}

// applyReview runs the model stage over the batch text and maps confirmed
// single-word substitutions back onto the words. Pending words that the
// phonetic stage did not touch are flagged for the reviewer's attention.
func (p *Pipeline) applyReview(ctx context.Context, out []reconcile.Word, touched []bool) error {
	texts := make([]string, len(out))
	var uncertain []string
	for i, w := range out {
		texts[i] = w.Text
		if w.State == reconcile.StatePending && !touched[i] {
			uncertain = append(uncertain, w.Text)
		}
	}

	corrections, err := p.reviewer.Review(ctx, strings.Join(texts, " "), p.vocabulary, uncertain)
	if err != nil {
		return &Error{Stage: "llm", Err: err}
	}

	for _, c := range corrections {
		if strings.ContainsRune(c.Original, ' ') || strings.ContainsRune(c.Corrected, ' ') {
			continue
		}
		for i := range out {
			if touched[i] || !tokenEqual(out[i].Text, c.Original) {
				continue
			}
			p.logger.Debug("review correction",
				"original", out[i].Text,
				"corrected", c.Corrected,
				"confidence", c.Confidence,
				"word_id", out[i].ID,
			)
			out[i].Text = c.Corrected
			out[i].State = reconcile.StatePending
			touched[i] = true
			break
		}
	}
	return nil
}

// tokenEqual compares two tokens ignoring case and trailing punctuation.
func tokenEqual(a, b string) bool {
	trim := func(s string) string {
		return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
	}
	return trim(a) == trim(b)
}
