package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the envelope for every inbound WebSocket message. Only the fields
// relevant to the frame's type are populated.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Results   []SearchResult  `json:"results,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Server → Client frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeResponseChunk         = "response_chunk"
	TypeResponseComplete      = "response_complete"
	TypeSearchResults         = "search_results"
	TypeError                 = "error"
)

// Client → Server frame types.
const (
	TypeQuery  = "query"
	TypeSearch = "search"
)

// Search result categories.
const (
	ResultEmployee = "employee"
	ResultTask     = "task"
	ResultProject  = "project"
)

// Server → Client payloads.

type ChunkData struct {
	Chunk string `json:"chunk"`
}

type CompleteData struct {
	SessionID string `json:"session_id,omitempty"`
}

// SearchResult is one mention candidate. Fields beyond type/id/name are kept
// verbatim in Extra so renderers can use whatever the server sends.
type SearchResult struct {
	Type  string                     `json:"type"`
	ID    json.RawMessage            `json:"id"`
	Name  string                     `json:"name"`
	Extra map[string]json.RawMessage `json:"-"`
}

func (r *SearchResult) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	type plain SearchResult
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	delete(raw, "type")
	delete(raw, "id")
	delete(raw, "name")
	*r = SearchResult(p)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

func (r SearchResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	t, _ := json.Marshal(r.Type)
	n, _ := json.Marshal(r.Name)
	out["type"] = t
	out["name"] = n
	if len(r.ID) > 0 {
		out["id"] = r.ID
	} else {
		out["id"] = json.RawMessage("null")
	}
	return json.Marshal(out)
}

// IDString returns the result id without JSON quoting.
func (r SearchResult) IDString() string {
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// Client → Server frames.

// QueryContext identifies the caller to the assistant backend.
type QueryContext struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	IsAdmin   bool   `json:"isAdmin"`
}

type QueryFrame struct {
	Type      string       `json:"type"`
	Message   string       `json:"message"`
	SessionID string       `json:"session_id,omitempty"`
	Context   QueryContext `json:"context"`
}

type SearchFrame struct {
	Type       string `json:"type"`
	SearchTerm string `json:"search_term"`
	RequestID  string `json:"request_id,omitempty"`
}

// Response is the document assembled from response_chunk fragments.
// Domain objects stay raw; rendering them is the consumer's business.
type Response struct {
	Message       string          `json:"message"`
	Type          string          `json:"type,omitempty"`
	Tasks         json.RawMessage `json:"tasks,omitempty"`
	Task          json.RawMessage `json:"task,omitempty"`
	Project       json.RawMessage `json:"project,omitempty"`
	ChangesMade   json.RawMessage `json:"changes_made,omitempty"`
	TimeSheetList json.RawMessage `json:"time_sheet_list,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
}

// NewFrame builds a server-originated frame with a JSON data payload.
func NewFrame(frameType string, data interface{}) (*Frame, error) {
	f := &Frame{Type: frameType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		f.Data = raw
	}
	return f, nil
}

// OutboundMessage is a client frame waiting to be transmitted.
type OutboundMessage struct {
	Type       string
	Payload    interface{}
	EnqueuedAt time.Time
}

// Encode marshals the message payload into a text frame.
func (m OutboundMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", m.Type, err)
	}
	return data, nil
}

// PeekType returns the "type" field of a raw frame, or "" if it is not JSON.
func PeekType(raw []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Type
}
