package reconcile

import (
	"cmp"
	"slices"
)

// ChannelState is the per-channel reconciliation state machine. It owns three
// small buffers with exclusive ownership and explicit hand-off:
//
//   - watermark: the highest end-time already covered by finalized words.
//     Monotonic; all future output respects it.
//   - held: the last word of the most recent final batch, withheld because it
//     may be a fragment the provider completes in the next batch.
//   - partials: ordered, time-disjoint words not yet final.
//
// A ChannelState is created empty at channel start, mutated exclusively
// through ApplyFinal/ApplyPartial for the session's duration, and consumed
// once via Drain at session end. After Drain, apply calls are invalid and
// degrade to no-ops.
//
// ChannelState is not safe for concurrent use; a channel's events must be
// applied in provider arrival order by a single caller.
type ChannelState struct {
	channel   int
	gen       IDGenerator
	watermark int64
	held      *RawWord
	partials  []RawWord
	drained   bool
}

// NewChannelState creates an empty reconciliation state for one audio channel.
// gen supplies identities for finalized words.
func NewChannelState(channel int, gen IDGenerator) *ChannelState {
	return &ChannelState{channel: channel, gen: gen}
}

// Channel returns the audio channel index this state reconciles.
func (c *ChannelState) Channel() int { return c.channel }

// Watermark returns the highest end-time, in milliseconds, covered by
// finalized words so far.
func (c *ChannelState) Watermark() int64 { return c.watermark }

// Drained reports whether Drain has been called.
func (c *ChannelState) Drained() bool { return c.drained }

// ApplyFinal reconciles a provider-confirmed batch and returns the words
// finalized by it, with their speaker hints, tagged with state.
//
// The ordering is deliberate: stale partials that aged past the batch's start
// are promoted ahead of it, then the batch is stitched against the held tail.
// That guarantees non-decreasing start times even though three independent
// buffers are being merged. A batch that dedup reduces to nothing (a
// duplicate or late resend) is a no-op.
func (c *ChannelState) ApplyFinal(words []RawWord, state WordState) ([]Word, []SpeakerHint) {
	if c.drained {
		return nil, nil
	}

	batch := dedup(words, c.watermark)
	if len(batch) == 0 {
		return nil, nil
	}

	finalStart := batch[0].StartMS
	finalEnd := batch[len(batch)-1].EndMS

	// Partials that ended before the new batch starts were never superseded;
	// they age out of the unstable buffer and finalize ahead of the batch.
	var preFinal []RawWord
	remainder := c.partials[:0:0]
	for _, w := range c.partials {
		if w.EndMS <= finalStart {
			preFinal = append(preFinal, w)
		} else {
			remainder = append(remainder, w)
		}
	}

	// Whatever the batch now covers is no longer a partial.
	c.partials = stripOverlap(remainder, finalEnd)

	c.watermark = finalEnd

	emitted, newHeld := stitch(c.held, batch)
	c.held = newHeld

	// A standalone held tail predates the aged partials (surviving partials
	// always start after the held word ends); restore time order across the
	// merged buffers before assigning identities.
	toFinalize := append(preFinal, emitted...)
	slices.SortStableFunc(toFinalize, func(a, b RawWord) int {
		return cmp.Compare(a.StartMS, b.StartMS)
	})
	return finalize(toFinalize, state, c.gen)
}

// ApplyPartial replaces the time range covered by a new partial batch. Stale
// or late partials (fully behind the watermark) are ignored. No identity is
// assigned; partials are re-derived fresh on every read.
func (c *ChannelState) ApplyPartial(words []RawWord) {
	if c.drained {
		return
	}
	batch := dedup(words, c.watermark)
	if len(batch) == 0 {
		return
	}
	c.partials = splice(c.partials, batch)
}

// Drain is the terminal operation: the withheld tail plus whatever partial
// words survived to session end without being superseded are promoted to
// final, in time order. After Drain the channel must not be mutated again.
func (c *ChannelState) Drain() ([]Word, []SpeakerHint) {
	if c.drained {
		return nil, nil
	}
	c.drained = true

	var raw []RawWord
	if c.held != nil {
		raw = append(raw, *c.held)
		c.held = nil
	}
	raw = append(raw, c.partials...)
	c.partials = nil

	return finalize(raw, StateFinal, c.gen)
}

// CurrentPartials returns a read-only, time-ordered projection over the held
// word (if present) followed by the partial buffer, for UI snapshotting
// between finalization events.
func (c *ChannelState) CurrentPartials() []PartialWord {
	if c.held == nil && len(c.partials) == 0 {
		return nil
	}
	out := make([]PartialWord, 0, len(c.partials)+1)
	if c.held != nil {
		out = append(out, PartialWord{
			Text:    c.held.Text,
			StartMS: c.held.StartMS,
			EndMS:   c.held.EndMS,
			Channel: c.held.Channel,
		})
	}
	for _, w := range c.partials {
		out = append(out, PartialWord{
			Text:    w.Text,
			StartMS: w.StartMS,
			EndMS:   w.EndMS,
			Channel: w.Channel,
		})
	}
	return out
}

// bufferedPartials returns the raw partial buffer for the promotion driver.
// The returned slice is the live buffer; callers must not mutate it.
func (c *ChannelState) bufferedPartials() []RawWord {
	return c.partials
}
