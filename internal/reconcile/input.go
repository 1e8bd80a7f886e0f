package reconcile

import (
	"strings"

	"github.com/weftlabs/weft/pkg/provider/stt"
)

// TranscriptInput is the sole type the accumulator consumes. It isolates the
// engine from any specific wire format: sessions build it from provider
// stream responses, while correction and test flows construct it directly
// from synthetic word lists.
type TranscriptInput struct {
	// Words is the raw word batch, possibly spanning multiple channels.
	Words []RawWord

	// IsFinal reports whether the provider marked the batch final.
	IsFinal bool
}

// InputFromStreamResponse converts a provider stream response into a
// TranscriptInput. It returns ok=false for messages that carry no usable
// transcription content: non-results message types, and results whose word
// list and transcript string are both empty.
//
// Only the first alternative of each channel entry is considered; lower
// ranked hypotheses never reach the engine.
func InputFromStreamResponse(resp stt.StreamResponse) (TranscriptInput, bool) {
	if resp.Type != stt.ResponseResults {
		return TranscriptInput{}, false
	}

	var words []RawWord
	for _, ch := range resp.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		alt := ch.Alternatives[0]
		words = append(words, assemble(alt.Words, alt.Transcript, ch.Index)...)
	}
	if len(words) == 0 {
		return TranscriptInput{}, false
	}
	return TranscriptInput{Words: words, IsFinal: resp.IsFinal}, true
}

// assemble reconstructs word boundaries when a provider supplies only a
// transcript string, or supplies per-word timing with gaps. The transcript
// string is treated as ground truth for word identity, order, and text;
// available per-word timing is aligned to it positionally, and words lacking
// timing inherit interpolated bounds from their neighbors.
//
// Returns nil on total failure to align: no tokens at all, or no timed
// anchor to interpolate from. Callers treat nil as "no usable update".
func assemble(words []stt.WordInfo, transcript string, channel int) []RawWord {
	tokens := strings.Fields(transcript)
	if len(tokens) == 0 {
		for _, w := range words {
			if w.Word != "" {
				tokens = append(tokens, w.Word)
			}
		}
	}
	if len(tokens) == 0 {
		return nil
	}

	type bound struct {
		start, end int64
		timed      bool
	}
	bounds := make([]bound, len(tokens))
	anchors := make([]int, 0, len(tokens))
	for i := range tokens {
		if i < len(words) && words[i].HasTiming() {
			bounds[i] = bound{start: words[i].StartMS, end: words[i].EndMS, timed: true}
			anchors = append(anchors, i)
		}
	}
	if len(anchors) == 0 {
		return nil
	}

	// Average anchor duration seeds the synthetic bounds of untimed runs at
	// the edges of the batch.
	var total int64
	for _, i := range anchors {
		total += bounds[i].end - bounds[i].start
	}
	avgDur := total / int64(len(anchors))
	if avgDur < 1 {
		avgDur = 1
	}

	// Leading run: back-fill evenly into the window before the first anchor.
	if first := anchors[0]; first > 0 {
		window := avgDur * int64(first)
		base := bounds[first].start - window
		if base < 0 {
			base = 0
		}
		step := (bounds[first].start - base) / int64(first)
		if step < 1 {
			// The anchor starts too close to zero to split the window
			// evenly. Zero-width words would be dropped downstream, so
			// give each token a minimal width even if the run then
			// overlaps the anchor.
			step = 1
			base = bounds[first].start - int64(first)
			if base < 0 {
				base = 0
			}
		}
		for i := 0; i < first; i++ {
			bounds[i] = bound{
				start: base + int64(i)*step,
				end:   base + int64(i+1)*step,
			}
		}
		if bounds[first-1].end < bounds[first].start {
			bounds[first-1].end = bounds[first].start
		}
	}

	// Interior gaps: split the span between surrounding anchors evenly.
	for k := 0; k+1 < len(anchors); k++ {
		lo, hi := anchors[k], anchors[k+1]
		run := hi - lo - 1
		if run == 0 {
			continue
		}
		gapStart := bounds[lo].end
		gapEnd := bounds[hi].start
		if gapEnd < gapStart {
			gapEnd = gapStart
		}
		step := (gapEnd - gapStart) / int64(run)
		for m := 0; m < run; m++ {
			i := lo + 1 + m
			bounds[i] = bound{
				start: gapStart + int64(m)*step,
				end:   gapStart + int64(m+1)*step,
			}
		}
		bounds[hi-1].end = gapEnd
	}

	// Trailing run: extend forward from the last anchor at the average pace.
	if last := anchors[len(anchors)-1]; last < len(tokens)-1 {
		cursor := bounds[last].end
		for i := last + 1; i < len(tokens); i++ {
			bounds[i] = bound{start: cursor, end: cursor + avgDur}
			cursor += avgDur
		}
	}

	out := make([]RawWord, 0, len(tokens))
	for i, tok := range tokens {
		rw := RawWord{
			Text:    tok,
			StartMS: bounds[i].start,
			EndMS:   bounds[i].end,
			Channel: channel,
		}
		if i < len(words) {
			rw.Speaker = words[i].Speaker
		}
		out = append(out, rw)
	}
	return out
}
