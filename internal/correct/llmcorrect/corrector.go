// Package llmcorrect implements a language-model review stage that resolves
// vocabulary misrecognitions the phonetic matcher did not catch.
//
// The [Corrector] sends finalized transcript text to an [llm.Provider]
// together with the known vocabulary and asks for a structured JSON list of
// word substitutions. The model is prompted conservatively: it may only fix
// words that look like misheard vocabulary terms, never grammar or ordinary
// prose. Every substitution the model claims is then cross-checked against
// the actual token-level diff between the input and the model's corrected
// text; substitutions the diff does not confirm are dropped.
//
// This stage runs only in the background correction pass, never on the live
// transcript path. An unparseable model response degrades to "no
// corrections" rather than an error, so a flaky model cannot stall the pass.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the base system prompt. The vocabulary list is
// appended at call time.
const systemPromptTemplate = `You are a transcript correction assistant for live speech recognition.

Your task: fix misrecognized vocabulary terms in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard versions of the known vocabulary terms listed below.
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- Be conservative. If you are not confident a word is a misheard vocabulary term, leave it unchanged.
- Corrected terms must match the canonical spelling from the vocabulary list exactly.

Known vocabulary:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// Correction is a single word substitution confirmed by the review pass.
type Correction struct {
	// Original is the word as it appeared in the input text.
	Original string

	// Corrected is the canonical vocabulary term the model substituted.
	Corrected string

	// Confidence is the model's reported confidence (0.0 to 1.0).
	Confidence float64
}

// modelResponse is the JSON structure the model is asked to return.
type modelResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector reviews transcript text for vocabulary misrecognitions using an
// [llm.Provider]. It is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a [Corrector] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Review asks the model to fix vocabulary misrecognitions in text and
// returns the confirmed substitutions. uncertain lists words the caller
// already suspects are wrong; they are highlighted in the request so the
// model pays attention to them.
//
// Substitutions are confirmed by diffing the model's corrected text against
// the input token by token; a claimed correction that does not correspond to
// an actual change is discarded, and an actual change the model did not
// declare is ignored.
//
// An unparseable response yields no corrections and a nil error. Transport
// failures and context cancellation are returned as errors.
func (c *Corrector) Review(ctx context.Context, text string, vocabulary, uncertain []string) ([]Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	userMsg := text
	if len(uncertain) > 0 {
		userMsg = fmt.Sprintf(
			"Transcript: %s\n\nSuspect words that may be misheard: %s",
			text,
			strings.Join(uncertain, ", "),
		)
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	corrected, claimed, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		// Unparseable response: degrade to no corrections.
		return nil, nil //nolint:nilerr // intentional graceful fallback
	}

	_, confirmed := verifyCorrectedText(text, corrected, claimed)
	return confirmed, nil
}

// buildSystemPrompt formats the system prompt with the vocabulary list.
func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, term := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(term)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the model output, stripping optional markdown
// code fences first. Self-referential and empty substitutions are dropped.
func parseResponse(content, originalText string) (string, []Correction, error) {
	cleaned := stripMarkdown(content)

	var r modelResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llmcorrect: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes code fences (```json ... ```) that some models wrap
// around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
