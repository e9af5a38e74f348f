package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(TypeResponseComplete, CompleteData{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if f.Type != TypeResponseComplete {
		t.Errorf("expected type %s, got %s", TypeResponseComplete, f.Type)
	}
	if got := f.SessionIDOf(); got != "sess-1" {
		t.Errorf("expected session id 'sess-1', got %q", got)
	}
}

func TestValidateServerFrame_Chunk(t *testing.T) {
	f, err := ValidateServerFrame([]byte(`{"type":"response_chunk","data":{"chunk":"{\"mess"}}`))
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if got := f.ChunkOf(); got != `{"mess` {
		t.Errorf("unexpected chunk %q", got)
	}
}

func TestValidateServerFrame_ChunkMissingData(t *testing.T) {
	_, err := ValidateServerFrame([]byte(`{"type":"response_chunk"}`))
	if err == nil {
		t.Fatal("expected error for chunk without data")
	}
}

func TestValidateServerFrame_CompleteWithoutData(t *testing.T) {
	f, err := ValidateServerFrame([]byte(`{"type":"response_complete"}`))
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if f.SessionIDOf() != "" {
		t.Errorf("expected empty session id, got %q", f.SessionIDOf())
	}
}

func TestValidateServerFrame_SearchResults(t *testing.T) {
	raw := `{"type":"search_results","results":[{"type":"employee","id":7,"name":"Alice","email":"a@x.io"}]}`
	f, err := ValidateServerFrame([]byte(raw))
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if len(f.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(f.Results))
	}
	r := f.Results[0]
	if r.Type != ResultEmployee || r.Name != "Alice" || r.IDString() != "7" {
		t.Errorf("unexpected result %+v", r)
	}
	if string(r.Extra["email"]) != `"a@x.io"` {
		t.Errorf("expected extra email field, got %v", r.Extra)
	}
}

func TestValidateServerFrame_InvalidJSON(t *testing.T) {
	if _, err := ValidateServerFrame([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateServerFrame_MissingType(t *testing.T) {
	if _, err := ValidateServerFrame([]byte(`{"data":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateServerFrame_UnknownType(t *testing.T) {
	if _, err := ValidateServerFrame([]byte(`{"type":"session.update"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientFrame_Query(t *testing.T) {
	data, _ := json.Marshal(QueryFrame{
		Type:    TypeQuery,
		Message: "create a task",
		Context: QueryContext{UserID: "u1", CompanyID: "c1"},
	})
	f, err := ValidateClientFrame(data)
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if f.Context.UserID != "u1" {
		t.Errorf("expected user id u1, got %s", f.Context.UserID)
	}
}

func TestValidateClientFrame_QueryMissingMessage(t *testing.T) {
	_, err := ValidateClientFrame([]byte(`{"type":"query","context":{"user_id":"u1"}}`))
	if err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestValidateClientFrame_QueryMissingContext(t *testing.T) {
	_, err := ValidateClientFrame([]byte(`{"type":"query","message":"hi"}`))
	if err == nil {
		t.Fatal("expected error for missing context")
	}
}

func TestValidateClientFrame_SearchEmptyTermAllowed(t *testing.T) {
	f, err := ValidateClientFrame([]byte(`{"type":"search","search_term":""}`))
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if *f.SearchTerm != "" {
		t.Errorf("expected empty term, got %q", *f.SearchTerm)
	}
}

func TestValidateClientFrame_SearchMissingTerm(t *testing.T) {
	if _, err := ValidateClientFrame([]byte(`{"type":"search"}`)); err == nil {
		t.Fatal("expected error for missing search_term")
	}
}

func TestValidateClientFrame_UnknownType(t *testing.T) {
	if _, err := ValidateClientFrame([]byte(`{"type":"files.requestTree"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestPeekType(t *testing.T) {
	if got := PeekType([]byte(`{"type":"connection_established"}`)); got != TypeConnectionEstablished {
		t.Errorf("expected %s, got %q", TypeConnectionEstablished, got)
	}
	if got := PeekType([]byte("garbage")); got != "" {
		t.Errorf("expected empty type, got %q", got)
	}
}

func TestOutboundMessage_Encode(t *testing.T) {
	msg := OutboundMessage{Type: TypeSearch, Payload: SearchFrame{Type: TypeSearch, SearchTerm: "al"}}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"type":"search","search_term":"al"}` {
		t.Errorf("unexpected encoding %s", data)
	}
}
