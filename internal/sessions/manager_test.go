package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetOrCreateBuildsSessionID(t *testing.T) {
	m := NewManager("")
	s := m.GetOrCreate("telegram", "123456789")
	if s.SessionID != "telegram_123456789" {
		t.Fatalf("got %q, want telegram_123456789", s.SessionID)
	}
	if s.Channel != "telegram" || s.ChatID != "123456789" {
		t.Fatalf("got channel=%q chat_id=%q", s.Channel, s.ChatID)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager("")
	first := m.GetOrCreate("telegram", "1")
	m.AddMessage(first.SessionID, Message{Role: "user", Content: "hi", Timestamp: time.Now()})

	second := m.GetOrCreate("telegram", "1")
	if len(second.Messages) != 1 {
		t.Fatalf("expected the same underlying session, got %d messages", len(second.Messages))
	}
}

func TestAddMessageEvictsOldestOverBound(t *testing.T) {
	m := NewManager("")
	id := m.GetOrCreate("telegram", "1").SessionID

	for i := 0; i < MaxSessionMessages+10; i++ {
		m.AddMessage(id, Message{Role: "user", Content: "x", Timestamp: time.Now()})
	}

	s := m.Get(id)
	if len(s.Messages) != MaxSessionMessages {
		t.Fatalf("got %d messages, want bound %d", len(s.Messages), MaxSessionMessages)
	}
}

func TestGetReturnsCloneNotSharedSlice(t *testing.T) {
	m := NewManager("")
	id := m.GetOrCreate("telegram", "1").SessionID
	m.AddMessage(id, Message{Role: "user", Content: "one", Timestamp: time.Now()})

	clone := m.Get(id)
	clone.Messages[0].Content = "mutated"

	again := m.Get(id)
	if again.Messages[0].Content != "one" {
		t.Fatalf("mutating a clone leaked into the store: got %q", again.Messages[0].Content)
	}
}

func TestSnapshotAllWritesMode0600AndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	id := m.GetOrCreate("telegram", "42").SessionID
	m.AddMessage(id, Message{Role: "user", Content: "hello", Timestamp: time.Now().UTC()})
	m.AddMessage(id, Message{
		Role: "assistant", Content: "",
		Timestamp: time.Now().UTC(),
		ToolCalls: []ToolCall{{ID: "c1", Name: "web", Arguments: `{"url":"https://x"}`}},
	})

	ok, failed := m.SnapshotAll()
	if ok != 1 || failed != 0 {
		t.Fatalf("got ok=%d failed=%d, want 1,0", ok, failed)
	}

	path := filepath.Join(dir, "telegram_42.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("got mode %v, want 0600", info.Mode().Perm())
	}

	m2 := NewManager(dir)
	reloaded := m2.Get(id)
	if reloaded == nil {
		t.Fatal("expected session to reload after restart")
	}
	if len(reloaded.Messages) != 2 {
		t.Fatalf("got %d messages after reload, want 2", len(reloaded.Messages))
	}
	if reloaded.Messages[1].ToolCalls[0].Arguments != `{"url":"https://x"}` {
		t.Fatalf("tool call arguments did not round-trip verbatim: %q", reloaded.Messages[1].ToolCalls[0].Arguments)
	}
}

func TestLoadAllQuarantinesCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "telegram_1.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if len(m.List()) != 0 {
		t.Fatal("corrupted file should not have produced an in-memory session")
	}
	if _, err := os.Stat(bad + ".corrupted"); err != nil {
		t.Fatalf("expected corrupted file to be quarantined: %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatal("original corrupted path should no longer exist after rename")
	}
}

func TestDeleteRemovesFromMemoryAndDisk(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	id := m.GetOrCreate("telegram", "1").SessionID
	m.SnapshotAll()

	if err := m.Delete(id); err != nil {
		t.Fatal(err)
	}
	if m.Get(id) != nil {
		t.Fatal("session should be gone from memory")
	}
	if _, err := os.Stat(filepath.Join(dir, "telegram_1.json")); !os.IsNotExist(err) {
		t.Fatal("session file should be gone from disk")
	}
}

func TestSessionJSONUsesSnakeCaseAndUTCTimestamps(t *testing.T) {
	s := &Session{
		SessionID:    "telegram_1",
		Channel:      "telegram",
		ChatID:       "1",
		CreatedAt:    time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC),
		LastAccessed: time.Date(2026, 2, 15, 15, 45, 0, 0, time.UTC),
		Messages: []Message{
			{Role: "user", Content: "hi", Timestamp: time.Date(2026, 2, 15, 15, 45, 0, 0, time.UTC)},
		},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"session_id", "channel", "chat_id", "created_at", "last_accessed", "messages"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing expected snake_case key %q in %s", key, data)
		}
	}
	if raw["created_at"] != "2026-02-15T10:30:00Z" {
		t.Fatalf("got created_at %v, want ISO-8601 UTC with Z suffix", raw["created_at"])
	}
}
