package reconcile

// Word-merge primitives. These are pure, allocation-light functions over
// ordered slices of RawWord; the channel state machine composes them. None of
// them mutate their inputs except where documented.

// dedup returns the words strictly past the watermark, in original order.
// A word whose EndMS is at or before the watermark is already covered by
// finalized output and is dropped. A word straddling the watermark is dropped
// whole rather than truncated: providers resend overlapping context, and
// truncating text mid-word would corrupt it.
func dedup(words []RawWord, watermark int64) []RawWord {
	out := words[:0:0]
	for _, w := range words {
		if w.EndMS <= watermark || w.StartMS < watermark {
			continue
		}
		out = append(out, w)
	}
	return out
}

// stitch resolves the word-internal chunk boundary problem: the last word of
// a final batch may be an incomplete fragment that the provider completes at
// the start of the next final batch.
//
// held is the previously withheld tail word, if any. When held is
// time-adjacent to the first word of batch (no gap between held.EndMS and the
// first word's StartMS) the two are merged into a single word by text
// concatenation. Otherwise held is emitted as a standalone word ahead of the
// batch.
//
// The last word of batch is always withheld as the new held word, never
// emitted immediately, because it is itself a candidate for stitching with
// the next batch. Callers finishing a session must emit the held word
// unconditionally (see ChannelState.Drain).
//
// batch must be non-empty; callers guard via dedup.
func stitch(held *RawWord, batch []RawWord) (emitted []RawWord, newHeld *RawWord) {
	first := batch[0]
	rest := batch[1:]

	if held != nil {
		if held.EndMS == first.StartMS {
			// Word split across batches: fuse the fragment into the first new word.
			merged := RawWord{
				Text:    held.Text + first.Text,
				StartMS: held.StartMS,
				EndMS:   first.EndMS,
				Channel: first.Channel,
				Speaker: first.Speaker,
			}
			if merged.Speaker == nil {
				merged.Speaker = held.Speaker
			}
			first = merged
		} else {
			emitted = append(emitted, *held)
		}
	}

	if len(rest) == 0 {
		h := first
		return emitted, &h
	}

	emitted = append(emitted, first)
	emitted = append(emitted, rest[:len(rest)-1]...)
	h := rest[len(rest)-1]
	return emitted, &h
}

// splice replaces the time range covered by incoming wholesale: entries of
// partials ending at or before the incoming range's start and entries
// starting at or after its end are kept; everything strictly inside is
// discarded. Partial buffers are never diffed incrementally.
//
// incoming must be non-empty; callers guard via dedup. The result is a fresh
// slice: keepBefore ++ incoming ++ keepAfter, in time order.
func splice(partials, incoming []RawWord) []RawWord {
	start := incoming[0].StartMS
	end := incoming[len(incoming)-1].EndMS

	out := make([]RawWord, 0, len(partials)+len(incoming))
	for _, w := range partials {
		if w.EndMS <= start {
			out = append(out, w)
		}
	}
	out = append(out, incoming...)
	for _, w := range partials {
		if w.StartMS >= end {
			out = append(out, w)
		}
	}
	return out
}

// stripOverlap removes every partial starting at or before boundary: those
// words are superseded by a final batch that now covers them.
func stripOverlap(partials []RawWord, boundary int64) []RawWord {
	out := partials[:0:0]
	for _, w := range partials {
		if w.StartMS > boundary {
			out = append(out, w)
		}
	}
	return out
}

// finalize assigns a fresh identity to each raw word in order, tags it with
// state, and emits a SpeakerHint for every word carrying a speaker index.
func finalize(words []RawWord, state WordState, gen IDGenerator) ([]Word, []SpeakerHint) {
	if len(words) == 0 {
		return nil, nil
	}
	out := make([]Word, 0, len(words))
	var hints []SpeakerHint
	for _, w := range words {
		fw := Word{
			ID:      gen.NextID(),
			Text:    w.Text,
			StartMS: w.StartMS,
			EndMS:   w.EndMS,
			Channel: w.Channel,
			State:   state,
		}
		out = append(out, fw)
		if w.Speaker != nil {
			hints = append(hints, SpeakerHint{WordID: fw.ID, Speaker: *w.Speaker})
		}
	}
	return out, hints
}
