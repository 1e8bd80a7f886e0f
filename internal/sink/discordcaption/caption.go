// Package discordcaption renders live transcript captions into Discord
// messages.
//
// The sink keeps one message per session and edits it in place on every
// delta: finalized words accumulate into a stable line per audio channel,
// and the current partial hypotheses are re-rendered wholesale as an italic
// tail after each update. Replaced words disappear from the line the moment
// their replacement delta arrives. Sessions never share caption state, so
// one Sink instance can serve every session the manager opens.
package discordcaption

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/sink"
)

// Discord rejects message content above 2000 characters; leave headroom for
// formatting added during rendering.
const maxContentLen = 1900

// Messenger is the subset of *discordgo.Session the sink needs. It exists so
// tests can run without a gateway connection.
type Messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID string, messageID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// line is one finalized word as displayed.
type line struct {
	id      string
	startMS int64
	text    string
}

// caption is the display state of one session: its Discord message plus the
// finalized lines and partial tail that render into it.
type caption struct {
	messageID string
	words     map[int][]line // per audio channel, start-time order
	partials  []reconcile.PartialWord
}

// Sink renders transcript deltas as live-edited Discord messages, one per
// session. All methods are safe for concurrent use.
type Sink struct {
	messenger Messenger
	channelID string

	mu       sync.Mutex
	sessions map[string]*caption
}

var _ sink.DeltaSink = (*Sink)(nil)

// New creates a caption sink posting into the given Discord channel.
func New(messenger Messenger, channelID string) *Sink {
	return &Sink{
		messenger: messenger,
		channelID: channelID,
		sessions:  make(map[string]*caption),
	}
}

// ApplyDelta implements sink.DeltaSink. It folds the delta into the
// session's caption state and pushes the re-rendered content to Discord.
func (s *Sink) ApplyDelta(ctx context.Context, sessionID string, delta reconcile.Delta) error {
	s.mu.Lock()

	c, ok := s.sessions[sessionID]
	if !ok {
		c = &caption{words: make(map[int][]line)}
		s.sessions[sessionID] = c
	}

	replaced := make(map[string]struct{}, len(delta.ReplacedIDs))
	for _, id := range delta.ReplacedIDs {
		replaced[id] = struct{}{}
	}
	if len(replaced) > 0 {
		for ch, lines := range c.words {
			c.words[ch] = slices.DeleteFunc(lines, func(l line) bool {
				_, gone := replaced[l.id]
				return gone
			})
		}
	}

	for _, w := range delta.NewWords {
		c.words[w.Channel] = append(c.words[w.Channel], line{
			id:      w.ID,
			startMS: w.StartMS,
			text:    w.Text,
		})
	}
	// Replacement words carry their original timing, so a correction batch
	// may arrive out of append order.
	for ch := range c.words {
		slices.SortStableFunc(c.words[ch], func(a, b line) int {
			return cmp.Compare(a.startMS, b.startMS)
		})
	}

	c.partials = delta.Partials
	content := c.render()
	s.mu.Unlock()

	return s.push(sessionID, content)
}

// render builds the caption content from the session's state. Caller holds
// the sink's mutex.
func (c *caption) render() string {
	channels := make([]int, 0, len(c.words))
	for ch := range c.words {
		channels = append(channels, ch)
	}
	for _, p := range c.partials {
		if !slices.Contains(channels, p.Channel) {
			channels = append(channels, p.Channel)
		}
	}
	slices.Sort(channels)

	var sb strings.Builder
	for _, ch := range channels {
		var parts []string
		for _, l := range c.words[ch] {
			parts = append(parts, l.text)
		}
		var tail []string
		for _, p := range c.partials {
			if p.Channel == ch {
				tail = append(tail, p.Text)
			}
		}
		if len(parts) == 0 && len(tail) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "**%d:** %s", ch, strings.Join(parts, " "))
		if len(tail) > 0 {
			fmt.Fprintf(&sb, " *%s*", strings.Join(tail, " "))
		}
		sb.WriteByte('\n')
	}

	content := strings.TrimRight(sb.String(), "\n")
	if len(content) > maxContentLen {
		// Keep the freshest tail of the caption.
		content = "…" + content[len(content)-maxContentLen:]
	}
	return content
}

// push creates the session's caption message on first use and edits it
// afterwards.
func (s *Sink) push(sessionID, content string) error {
	if content == "" {
		return nil
	}

	s.mu.Lock()
	c := s.sessions[sessionID]
	messageID := c.messageID
	s.mu.Unlock()

	if messageID == "" {
		msg, err := s.messenger.ChannelMessageSend(s.channelID, content)
		if err != nil {
			return fmt.Errorf("discordcaption: create message: %w", err)
		}
		s.mu.Lock()
		c.messageID = msg.ID
		s.mu.Unlock()
		return nil
	}

	if _, err := s.messenger.ChannelMessageEdit(s.channelID, messageID, content); err != nil {
		return fmt.Errorf("discordcaption: edit message: %w", err)
	}
	return nil
}
