package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "saifguard.db"))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateSessionReusesSession(t *testing.T) {
	s := newTestStore(t)

	first, err := s.GetOrCreateSession("alice", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	second, err := s.GetOrCreateSession("alice", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if first != second {
		t.Errorf("expected same session, got %s and %s", first, second)
	}

	other, err := s.GetOrCreateSession("bob", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if other == first {
		t.Error("different users must not share a session")
	}
}

func TestGetOrCreateSessionEmptyUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetOrCreateSession("", time.Hour); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestStoreTurnIdempotent(t *testing.T) {
	s := newTestStore(t)
	sessionID, _ := s.GetOrCreateSession("alice", 0)

	if err := s.StoreTurn(sessionID, 1, "hello", "hi"); err != nil {
		t.Fatalf("StoreTurn failed: %v", err)
	}
	// Duplicate turn number is silently ignored.
	if err := s.StoreTurn(sessionID, 1, "hello again", "changed"); err != nil {
		t.Fatalf("duplicate StoreTurn failed: %v", err)
	}
	if err := s.StoreTurn(sessionID, 2, "second", "reply"); err != nil {
		t.Fatalf("StoreTurn failed: %v", err)
	}

	turns, err := s.GetTurns(sessionID)
	if err != nil {
		t.Fatalf("GetTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].UserMessage != "hello" || turns[0].Response != "hi" {
		t.Errorf("first insert must win: %+v", turns[0])
	}
	if turns[1].TurnNumber != 2 {
		t.Errorf("turns out of order: %+v", turns)
	}
}

func TestNextTurnNumber(t *testing.T) {
	s := newTestStore(t)
	sessionID, _ := s.GetOrCreateSession("alice", 0)

	n, err := s.NextTurnNumber(sessionID)
	if err != nil {
		t.Fatalf("NextTurnNumber failed: %v", err)
	}
	if n != 1 {
		t.Errorf("fresh session next turn = %d, want 1", n)
	}

	s.StoreTurn(sessionID, 1, "a", "b")
	s.StoreTurn(sessionID, 2, "c", "d")
	n, _ = s.NextTurnNumber(sessionID)
	if n != 3 {
		t.Errorf("next turn = %d, want 3", n)
	}
}

func TestSessionExpiryRestartsClean(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.GetOrCreateSession("alice", 0)
	s.StoreTurn(first, 1, "old", "history")

	// Age the session past the TTL.
	if _, err := s.db.Exec(
		"UPDATE sessions SET last_active = datetime('now', '-2 hours') WHERE id = ?", first,
	); err != nil {
		t.Fatalf("aging session failed: %v", err)
	}

	second, err := s.GetOrCreateSession("alice", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if second == first {
		t.Error("expired session must be replaced")
	}
	turns, _ := s.GetTurns(second)
	if len(turns) != 0 {
		t.Errorf("new session should have no turns, got %d", len(turns))
	}
	if old, _ := s.GetTurns(first); len(old) != 0 {
		t.Errorf("expired session turns should be deleted, got %d", len(old))
	}
}

func TestExpireSessionsSweep(t *testing.T) {
	s := newTestStore(t)
	stale, _ := s.GetOrCreateSession("stale", 0)
	fresh, _ := s.GetOrCreateSession("fresh", 0)

	s.db.Exec("UPDATE sessions SET last_active = datetime('now', '-3 hours') WHERE id = ?", stale)

	n, err := s.ExpireSessions(time.Hour)
	if err != nil {
		t.Fatalf("ExpireSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d sessions, want 1", n)
	}

	// The fresh session survives.
	again, _ := s.GetOrCreateSession("fresh", time.Hour)
	if again != fresh {
		t.Error("fresh session should survive the sweep")
	}
}

func TestSaveAndLatestReport(t *testing.T) {
	s := newTestStore(t)

	if r, err := s.LatestReport("demo"); err != nil || r != nil {
		t.Fatalf("expected no report, got %v, %v", r, err)
	}

	first, err := s.SaveReport("demo", "# old report", 2)
	if err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	second, err := s.SaveReport("demo", "# new report", 5)
	if err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if first == second {
		t.Error("report ids must be unique")
	}

	latest, err := s.LatestReport("demo")
	if err != nil {
		t.Fatalf("LatestReport failed: %v", err)
	}
	if latest == nil || latest.ID != second {
		t.Fatalf("latest = %+v, want id %s", latest, second)
	}
	if latest.Markdown != "# new report" || latest.RowCount != 5 {
		t.Errorf("report content wrong: %+v", latest)
	}
}
