package reconcile

import (
	"cmp"
	"slices"
)

// Accumulator fans a session's events out to per-channel reconciliation
// states, owns identity assignment, and exposes the consumer-facing Delta
// contract. It also applies out-of-band postprocess corrections by ID and
// drives caller-side promotion policies.
//
// The accumulator is single-threaded, synchronous, and non-blocking: every
// method completes in time proportional to the words touched, with no I/O and
// no suspension. Callers must serialize access; concurrent channels that need
// true parallelism get their own Accumulator.
type Accumulator struct {
	gen      IDGenerator
	channels map[int]*ChannelState
	drained  bool

	// words is every finalized word in emission order; index maps live word
	// IDs to their position so postprocess application is O(1) per word.
	words []Word
	index map[string]int

	// seen tracks, per channel, how many consecutive partial updates have
	// reproduced each buffered word unchanged (same text, same start time).
	seen map[int]map[partialKey]int
}

type partialKey struct {
	text    string
	startMS int64
}

// NewAccumulator creates an empty accumulator. When gen is nil, a random
// UUIDGenerator is used.
func NewAccumulator(gen IDGenerator) *Accumulator {
	if gen == nil {
		gen = UUIDGenerator{}
	}
	return &Accumulator{
		gen:      gen,
		channels: make(map[int]*ChannelState),
		index:    make(map[string]int),
		seen:     make(map[int]map[partialKey]int),
	}
}

// channelState returns the reconciliation state for channel, creating it on
// first use.
func (a *Accumulator) channelState(channel int) *ChannelState {
	cs, ok := a.channels[channel]
	if !ok {
		cs = NewChannelState(channel, a.gen)
		a.channels[channel] = cs
	}
	return cs
}

// ApplyFinal routes a final input batch to its channels and returns the delta
// of newly finalized words, their speaker hints, and the refreshed global
// partial snapshot. Duplicate or late batches produce an empty delta.
func (a *Accumulator) ApplyFinal(in TranscriptInput) Delta {
	if a.drained {
		return Delta{}
	}
	var d Delta
	for _, group := range groupByChannel(in.Words) {
		cs := a.channelState(group.channel)
		words, hints := cs.ApplyFinal(group.words, StateFinal)
		a.record(words)
		d.NewWords = append(d.NewWords, words...)
		d.Hints = append(d.Hints, hints...)
		// Finalization invalidates promotion counts for the covered range.
		delete(a.seen, group.channel)
	}
	d.Partials = a.snapshotPartials()
	return d
}

// ApplyPartial routes a partial input batch to its channels. The returned
// delta carries only the refreshed global partial snapshot; partials have no
// identity and are replaced wholesale by consumers.
func (a *Accumulator) ApplyPartial(in TranscriptInput) Delta {
	if a.drained {
		return Delta{}
	}
	for _, group := range groupByChannel(in.Words) {
		cs := a.channelState(group.channel)
		cs.ApplyPartial(group.words)
		a.bumpSeen(cs)
	}
	return Delta{Partials: a.snapshotPartials()}
}

// bumpSeen advances the consecutive-sighting counts for a channel after a
// partial update: every word still buffered with unchanged text and start
// time gains one sighting, everything else resets.
func (a *Accumulator) bumpSeen(cs *ChannelState) {
	prev := a.seen[cs.Channel()]
	next := make(map[partialKey]int)
	for _, w := range cs.bufferedPartials() {
		k := partialKey{text: w.Text, startMS: w.StartMS}
		next[k] = prev[k] + 1
	}
	a.seen[cs.Channel()] = next
}

// PromoteReady consults policy once per still-buffered partial word, with the
// count of consecutive partial updates that reproduced it unchanged, and
// promotes accepted words by synthesizing single-word final batches through
// the normal ApplyFinal path: every channel invariant is preserved, including
// the stitch-withhold of the promoted word itself.
func (a *Accumulator) PromoteReady(policy PromotionPolicy) Delta {
	if a.drained || policy == nil {
		return Delta{}
	}
	var d Delta
	for _, ch := range a.channelIndexes() {
		cs := a.channels[ch]
		for {
			promoted := false
			for _, w := range cs.bufferedPartials() {
				k := partialKey{text: w.Text, startMS: w.StartMS}
				if !policy.ShouldPromote(w, a.seen[ch][k]) {
					continue
				}
				words, hints := cs.ApplyFinal([]RawWord{w}, StateFinal)
				a.record(words)
				d.NewWords = append(d.NewWords, words...)
				d.Hints = append(d.Hints, hints...)
				delete(a.seen[ch], k)
				promoted = true
				break // buffer changed; restart the scan
			}
			if !promoted {
				break
			}
		}
	}
	if !d.Empty() {
		d.Partials = a.snapshotPartials()
	}
	return d
}

// ApplyPostprocess merges an asynchronous corrector's result back by ID.
// Corrections are best-effort: any ID no longer present in the live word set
// is silently ignored. Matched words are replaced, not mutated in place:
// each replacement gets a fresh identity and the original ID is reported in
// ReplacedIDs, so consumers can animate the swap. The replacement keeps the
// corrector's word state (Pending or Final).
func (a *Accumulator) ApplyPostprocess(corrected []Word) Delta {
	var d Delta
	for _, c := range corrected {
		pos, ok := a.index[c.ID]
		if !ok {
			continue
		}
		old := a.words[pos]
		replacement := Word{
			ID:      a.gen.NextID(),
			Text:    c.Text,
			StartMS: old.StartMS,
			EndMS:   old.EndMS,
			Channel: old.Channel,
			State:   c.State,
		}
		a.words[pos] = replacement
		delete(a.index, old.ID)
		a.index[replacement.ID] = pos

		d.NewWords = append(d.NewWords, replacement)
		d.ReplacedIDs = append(d.ReplacedIDs, old.ID)
	}
	if !d.Empty() {
		d.Partials = a.snapshotPartials()
	}
	return d
}

// Drain terminally drains every channel: withheld tails and surviving
// partials are promoted to final in time order, channel by channel. After
// Drain the accumulator accepts no further input.
func (a *Accumulator) Drain() Delta {
	if a.drained {
		return Delta{}
	}
	a.drained = true

	var d Delta
	for _, ch := range a.channelIndexes() {
		words, hints := a.channels[ch].Drain()
		a.record(words)
		d.NewWords = append(d.NewWords, words...)
		d.Hints = append(d.Hints, hints...)
	}
	a.seen = nil
	return d
}

// Drained reports whether Drain has been called.
func (a *Accumulator) Drained() bool { return a.drained }

// Words returns a read-only snapshot of all finalized words in emission
// order.
func (a *Accumulator) Words() []Word {
	out := make([]Word, len(a.words))
	copy(out, a.words)
	return out
}

// Partials returns the current global partial snapshot across all channels.
func (a *Accumulator) Partials() []PartialWord {
	return a.snapshotPartials()
}

// record appends newly finalized words to the emission log.
func (a *Accumulator) record(words []Word) {
	for _, w := range words {
		a.index[w.ID] = len(a.words)
		a.words = append(a.words, w)
	}
}

// snapshotPartials collects every channel's current partial projection,
// ordered by channel then time.
func (a *Accumulator) snapshotPartials() []PartialWord {
	var out []PartialWord
	for _, ch := range a.channelIndexes() {
		out = append(out, a.channels[ch].CurrentPartials()...)
	}
	return out
}

// channelIndexes returns the known channel indexes in ascending order, for
// deterministic iteration over the channel map.
func (a *Accumulator) channelIndexes() []int {
	idx := make([]int, 0, len(a.channels))
	for ch := range a.channels {
		idx = append(idx, ch)
	}
	slices.Sort(idx)
	return idx
}

// channelGroup is a contiguous run of words belonging to one channel.
type channelGroup struct {
	channel int
	words   []RawWord
}

// groupByChannel partitions words by channel, preserving the original order
// within each group and ordering groups by channel index.
func groupByChannel(words []RawWord) []channelGroup {
	if len(words) == 0 {
		return nil
	}
	byCh := make(map[int][]RawWord)
	for _, w := range words {
		byCh[w.Channel] = append(byCh[w.Channel], w)
	}
	groups := make([]channelGroup, 0, len(byCh))
	for ch, ws := range byCh {
		groups = append(groups, channelGroup{channel: ch, words: ws})
	}
	slices.SortFunc(groups, func(a, b channelGroup) int {
		return cmp.Compare(a.channel, b.channel)
	})
	return groups
}
