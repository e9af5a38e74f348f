package assistant

import (
	"time"

	"pm-assistant/internal/protocol"
	"pm-assistant/internal/stream"
)

// Role is the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the conversation as the UI renders it.
type Entry struct {
	Role       Role               `json:"role"`
	Text       string             `json:"text"`
	Streaming  bool               `json:"streaming"`
	Kind       stream.Kind        `json:"kind,omitempty"`
	Structured *protocol.Response `json:"structured,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// conversation is the ordered entry list. Callers hold the session lock.
type conversation struct {
	entries []Entry
	version uint64
}

func (c *conversation) appendUser(text string, now time.Time) {
	c.entries = append(c.entries, Entry{Role: RoleUser, Text: text, CreatedAt: now})
	c.version++
}

// streamingTail returns the last entry if it is an assistant entry that
// is still streaming.
func (c *conversation) streamingTail() *Entry {
	if len(c.entries) == 0 {
		return nil
	}
	last := &c.entries[len(c.entries)-1]
	if last.Role != RoleAssistant || !last.Streaming {
		return nil
	}
	return last
}

// applyChunk creates the assistant entry for the turn on the first chunk
// and mutates it in place afterwards.
func (c *conversation) applyChunk(ev stream.Event, now time.Time) {
	if tail := c.streamingTail(); tail != nil {
		tail.Text = ev.PartialText
		tail.Kind = ev.Kind
	} else {
		c.entries = append(c.entries, Entry{
			Role:      RoleAssistant,
			Text:      ev.PartialText,
			Streaming: true,
			Kind:      ev.Kind,
			CreatedAt: now,
		})
	}
	c.version++
}

// applyComplete finalizes the streaming entry, or appends a finished one
// when the server completed without sending chunks.
func (c *conversation) applyComplete(ev stream.Event, now time.Time) {
	tail := c.streamingTail()
	if tail == nil {
		c.entries = append(c.entries, Entry{Role: RoleAssistant, CreatedAt: now})
		tail = &c.entries[len(c.entries)-1]
	}
	tail.Text = ev.Text
	tail.Streaming = false
	tail.Structured = ev.Structured
	if ev.Structured != nil && ev.Structured.Type != "" {
		tail.Kind = stream.KindOf(ev.Structured.Type)
	}
	c.version++
}

// failStreaming ends an in-flight turn with an error text.
func (c *conversation) failStreaming(text string, now time.Time) {
	tail := c.streamingTail()
	if tail == nil {
		c.entries = append(c.entries, Entry{Role: RoleAssistant, CreatedAt: now})
		tail = &c.entries[len(c.entries)-1]
	}
	tail.Text = text
	tail.Streaming = false
	c.version++
}

// abandonStreaming ends an in-flight turn whose socket went away. It
// reports false when no entry was streaming.
func (c *conversation) abandonStreaming(text string) bool {
	tail := c.streamingTail()
	if tail == nil {
		return false
	}
	tail.Text = text
	tail.Streaming = false
	c.version++
	return true
}

func (c *conversation) snapshot() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
