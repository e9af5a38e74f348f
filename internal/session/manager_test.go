package session

import (
	"errors"
	"testing"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(10, 0)
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
	if mgr.historyCap != defaultHistoryCapacity {
		t.Errorf("expected default history capacity, got %d", mgr.historyCap)
	}
}

func TestManager_ResolveCreatesWithoutToken(t *testing.T) {
	mgr := NewManager(10, 5)
	sess, created, err := mgr.Resolve("", "42")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !created {
		t.Error("expected a new session")
	}
	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if sess.UserID != "42" || sess.State != StateActive {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestManager_ResolveReusesToken(t *testing.T) {
	mgr := NewManager(10, 5)
	first, _, _ := mgr.Resolve("", "42")

	again, created, err := mgr.Resolve(first.ID, "42")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if created {
		t.Error("expected the existing session")
	}
	if again.ID != first.ID {
		t.Errorf("expected ID %s, got %s", first.ID, again.ID)
	}
}

func TestManager_ResolveIgnoresForeignOrUnknownToken(t *testing.T) {
	mgr := NewManager(10, 5)
	mine, _, _ := mgr.Resolve("", "42")

	other, created, _ := mgr.Resolve(mine.ID, "99")
	if !created || other.ID == mine.ID {
		t.Error("a token must not be resumed by another user")
	}

	fresh, created, _ := mgr.Resolve("made-up", "42")
	if !created || fresh.ID == "made-up" {
		t.Error("unknown tokens start a new session with a server-issued ID")
	}
}

func TestManager_ClosedTokenNotResumed(t *testing.T) {
	mgr := NewManager(10, 5)
	sess, _, _ := mgr.Resolve("", "42")
	if err := mgr.Close(sess.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	next, created, _ := mgr.Resolve(sess.ID, "42")
	if !created || next.ID == sess.ID {
		t.Error("expected a new session after close")
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("expected 1 active session, got %d", mgr.ActiveCount())
	}
}

func TestManager_MaxSessionsLimit(t *testing.T) {
	mgr := NewManager(0, 5)
	_, _, err := mgr.Resolve("", "42")
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
}

func TestManager_RecordTurn(t *testing.T) {
	mgr := NewManager(10, 2)
	sess, _, _ := mgr.Resolve("", "42")

	for _, q := range []string{"one", "two", "three"} {
		if err := mgr.RecordTurn(Turn{SessionID: sess.ID, Query: q, Reply: "ok"}); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
	}

	got, err := mgr.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Turns != 3 {
		t.Errorf("expected 3 turns, got %d", got.Turns)
	}

	history, _ := mgr.History(sess.ID)
	if len(history) != 2 || history[0].Query != "two" || history[1].Query != "three" {
		t.Errorf("expected the last two turns, got %+v", history)
	}
	if history[1].Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}

	last, ok, err := mgr.LastTurn(sess.ID)
	if err != nil || !ok || last.Query != "three" {
		t.Errorf("expected last turn three, got %+v ok=%v err=%v", last, ok, err)
	}
}

func TestManager_NotFound(t *testing.T) {
	mgr := NewManager(10, 5)
	if _, err := mgr.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := mgr.History("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("History: expected ErrNotFound, got %v", err)
	}
	if _, _, err := mgr.LastTurn("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastTurn: expected ErrNotFound, got %v", err)
	}
	if err := mgr.Close("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Close: expected ErrNotFound, got %v", err)
	}
	if err := mgr.RecordTurn(Turn{SessionID: "nonexistent"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordTurn: expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListOrdered(t *testing.T) {
	mgr := NewManager(10, 5)
	if len(mgr.List()) != 0 {
		t.Fatal("expected empty list")
	}

	a, _, _ := mgr.Resolve("", "1")
	b, _, _ := mgr.Resolve("", "2")

	list := mgr.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("expected oldest first")
	}
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Error("expected both sessions listed")
	}
}
