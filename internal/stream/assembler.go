// Package stream reassembles a JSON document that the server delivers as a
// sequence of raw text fragments.
package stream

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"pm-assistant/internal/protocol"
)

// Kind is a best-effort guess at what the in-flight response is about.
// It is derived from substrings of an incomplete document and is only
// suitable for choosing a loading indicator.
type Kind string

const (
	KindPlain         Kind = "plain"
	KindTaskCreate    Kind = "task_create"
	KindTaskUpdate    Kind = "task_update"
	KindProjectCreate Kind = "project_create"
)

// EventType distinguishes partial and terminal events.
type EventType int

const (
	EventChunk EventType = iota
	EventComplete
)

// Event is emitted for every fragment (Chunk) and once per turn (Complete).
type Event struct {
	Type EventType

	// Chunk fields.
	PartialText string
	Kind        Kind

	// Complete fields. Structured is nil when the buffer was not a valid
	// document, in which case Text holds the raw buffer.
	Structured   *protocol.Response
	Text         string
	SessionToken string
}

// Malformed reports whether a Complete event fell back to raw text.
func (e Event) Malformed() bool {
	return e.Type == EventComplete && e.Structured == nil
}

// kindProbes are checked in order; the first literal found wins.
var kindProbes = []struct {
	kind    Kind
	markers []string
}{
	{KindProjectCreate, []string{`"project_created"`, `"create_project"`}},
	{KindTaskCreate, []string{`"task_created"`, `"create_task"`, `"tasks_created"`}},
	{KindTaskUpdate, []string{`"task_updated"`, `"update_task"`, `"changes_made"`}},
}

// kindByType maps the type field of a finished document onto a Kind.
var kindByType = map[string]Kind{
	"create_task":    KindTaskCreate,
	"update_task":    KindTaskUpdate,
	"create_project": KindProjectCreate,
}

// KindOf returns the Kind for a parsed document's type. Unknown types,
// including "plain" and "time_sheet", are KindPlain.
func KindOf(docType string) Kind {
	if k, ok := kindByType[docType]; ok {
		return k
	}
	return KindPlain
}

// Assembler accumulates fragments for one response at a time. It is not
// safe for concurrent use; one goroutine reads a socket and feeds it.
type Assembler struct {
	buf strings.Builder
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{}
}

// Consume appends a fragment and returns a Chunk event with the message
// text extracted so far.
func (a *Assembler) Consume(fragment string) Event {
	a.buf.WriteString(fragment)
	raw := a.buf.String()
	return Event{
		Type:        EventChunk,
		PartialText: PartialMessage(raw),
		Kind:        Classify(raw),
	}
}

// Complete parses the buffer as a finished document and resets it. The
// token from the completion frame wins over a session_id in the document.
// A buffer that does not parse yields a Complete event carrying the raw
// text instead of an error.
func (a *Assembler) Complete(sessionToken string) Event {
	raw := a.buf.String()
	a.buf.Reset()

	ev := Event{Type: EventComplete, SessionToken: sessionToken}

	resp, ok := parseDocument(raw)
	if !ok {
		ev.Text = raw
		return ev
	}
	ev.Structured = resp
	ev.Text = resp.Message
	if ev.SessionToken == "" {
		ev.SessionToken = resp.SessionID
	}
	return ev
}

// Buffered returns the raw text accumulated since the last Complete.
func (a *Assembler) Buffered() string {
	return a.buf.String()
}

func parseDocument(raw string) (*protocol.Response, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var resp protocol.Response
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Classify probes the raw buffer for type discriminators.
func Classify(raw string) Kind {
	for _, p := range kindProbes {
		for _, m := range p.markers {
			if strings.Contains(raw, m) {
				return p.kind
			}
		}
	}
	return KindPlain
}

// PartialMessage extracts the value of the first "message" string field
// from a possibly incomplete JSON document. Text after the opening quote
// is returned up to the closing quote or the end of the buffer, with
// escapes decoded where they are complete.
func PartialMessage(raw string) string {
	start := messageValueStart(raw)
	if start < 0 {
		return ""
	}

	var out strings.Builder
	s := raw[start:]
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			return out.String()
		case c == '\\':
			n, text, ok := decodeEscape(s[i:])
			if !ok {
				// Escape cut off by the fragment boundary.
				return out.String()
			}
			out.WriteString(text)
			i += n
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size <= 1 && !utf8.FullRuneInString(s[i:]) {
				return out.String()
			}
			out.WriteString(s[i : i+size])
			i += size
		}
	}
	return out.String()
}

// messageValueStart finds `"message"`, optional whitespace, a colon,
// optional whitespace and the opening quote, and returns the index just
// past that quote.
func messageValueStart(raw string) int {
	const key = `"message"`
	from := 0
	for {
		idx := strings.Index(raw[from:], key)
		if idx < 0 {
			return -1
		}
		i := from + idx + len(key)
		i = skipSpace(raw, i)
		if i < len(raw) && raw[i] == ':' {
			i = skipSpace(raw, i+1)
			if i < len(raw) && raw[i] == '"' {
				return i + 1
			}
			if i >= len(raw) {
				return -1
			}
		}
		from = from + idx + len(key)
	}
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// decodeEscape decodes the JSON escape at the start of s and returns the
// number of bytes consumed.
func decodeEscape(s string) (int, string, bool) {
	if len(s) < 2 {
		return 0, "", false
	}
	switch s[1] {
	case '"':
		return 2, `"`, true
	case '\\':
		return 2, `\`, true
	case '/':
		return 2, "/", true
	case 'b':
		return 2, "\b", true
	case 'f':
		return 2, "\f", true
	case 'n':
		return 2, "\n", true
	case 'r':
		return 2, "\r", true
	case 't':
		return 2, "\t", true
	case 'u':
		if len(s) < 6 {
			return 0, "", false
		}
		text, err := strconv.Unquote(`"` + s[:6] + `"`)
		if err != nil {
			return 6, "", true
		}
		return 6, text, true
	}
	// Unknown escape: keep it literally.
	return 2, s[:2], true
}
