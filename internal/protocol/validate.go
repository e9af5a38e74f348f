package protocol

import (
	"encoding/json"
	"fmt"
)

// validServerTypes is the set of frame types a client accepts.
var validServerTypes = map[string]bool{
	TypeConnectionEstablished: true,
	TypeResponseChunk:         true,
	TypeResponseComplete:      true,
	TypeSearchResults:         true,
	TypeError:                 true,
}

// ValidateServerFrame validates a raw JSON frame received from the server.
// Returns the parsed Frame and any validation error.
func ValidateServerFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if f.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validServerTypes[f.Type] {
		return nil, fmt.Errorf("unknown frame type: %s", f.Type)
	}

	switch f.Type {
	case TypeResponseChunk:
		if f.Data == nil {
			return nil, fmt.Errorf("missing 'data' field in %s frame", f.Type)
		}
		var d ChunkData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("invalid data for %s: %w", f.Type, err)
		}

	case TypeResponseComplete:
		// data and session_id are both optional.
		if f.Data != nil {
			var d CompleteData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return nil, fmt.Errorf("invalid data for %s: %w", f.Type, err)
			}
		}
	}

	return &f, nil
}

// ChunkOf returns the fragment carried by a response_chunk frame.
func (f *Frame) ChunkOf() string {
	var d ChunkData
	_ = json.Unmarshal(f.Data, &d)
	return d.Chunk
}

// SessionIDOf returns the session token carried by a response_complete frame.
func (f *Frame) SessionIDOf() string {
	if f.Data == nil {
		return ""
	}
	var d CompleteData
	_ = json.Unmarshal(f.Data, &d)
	return d.SessionID
}

// ClientFrame is the union of client frame fields, used on the server side.
type ClientFrame struct {
	Type       string        `json:"type"`
	Message    string        `json:"message,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Context    *QueryContext `json:"context,omitempty"`
	SearchTerm *string       `json:"search_term,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
}

// ValidateClientFrame validates a raw JSON frame sent by a client.
func ValidateClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch f.Type {
	case "":
		return nil, fmt.Errorf("missing 'type' field")

	case TypeQuery:
		if f.Message == "" {
			return nil, fmt.Errorf("missing required field 'message' in %s frame", f.Type)
		}
		if f.Context == nil {
			return nil, fmt.Errorf("missing required field 'context' in %s frame", f.Type)
		}

	case TypeSearch:
		if f.SearchTerm == nil {
			return nil, fmt.Errorf("missing required field 'search_term' in %s frame", f.Type)
		}

	default:
		return nil, fmt.Errorf("unknown frame type: %s", f.Type)
	}

	return &f, nil
}

// NewErrorFrame creates an error frame ready to send to the client.
func NewErrorFrame(message string) *Frame {
	return &Frame{Type: TypeError, Message: message}
}
