// Package sessions implements the Session Store (§4.B): the exclusive
// owner of all conversation histories, backed by an in-memory read-mostly
// map and atomic on-disk JSON snapshots.
//
// Session carries exactly what spec §3's JSON example names — no
// multi-tenant/subagent/spawn/cron metadata — and every write goes through
// a temp-file/chmod-0600/rename atomic-write protocol, retried up to 3
// times with backoff.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/merr"
	"github.com/nextlevelbuilder/miniclaw/internal/retry"
)

// MaxSessionMessages bounds a session's history; the oldest message is
// evicted on overflow (spec §3).
const MaxSessionMessages = 50

// SessionTTL is the inactivity window after which a session is evicted.
const SessionTTL = 30 * 24 * time.Hour

// ToolCall is one tool invocation requested by the LLM, attached to an
// assistant Message. Arguments is kept as the raw JSON object text the
// provider sent (spec §3: "serialized as a string to preserve provider
// wire format").
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a Session's history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Session is the conversation state for one (channel, chat_id) pair.
type Session struct {
	SessionID    string    `json:"session_id"`
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Messages     []Message `json:"messages"`

	// Compaction bookkeeping: not part of spec §3's core Session, but
	// persisted alongside it. Only SetSummary writes these fields, and no
	// component of the runtime calls SetSummary (there is no summarization
	// pass; see DESIGN.md, Known gaps).
	Summary         string `json:"summary,omitempty"`
	CompactionCount int    `json:"compaction_count,omitempty"`
}

// Manager owns the in-memory session map and its on-disk snapshots.
// Readers clone; writers hold the lock only long enough to mutate the map,
// never across I/O.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	sessionsDir  string
}

// NewManager constructs a Manager rooted at sessionsDir and loads any
// existing snapshots found there. An empty sessionsDir disables
// persistence entirely (useful for tests).
func NewManager(sessionsDir string) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		sessionsDir: sessionsDir,
	}
	if sessionsDir != "" {
		os.MkdirAll(sessionsDir, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns a clone of the session for (channel, chatID),
// creating it on first use. last_accessed is bumped on both hit and miss.
func (m *Manager) GetOrCreate(channel, chatID string) *Session {
	id := Key(channel, chatID)
	now := time.Now().UTC()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			SessionID:    id,
			Channel:      channel,
			ChatID:       chatID,
			CreatedAt:    now,
			LastAccessed: now,
			Messages:     []Message{},
		}
		m.sessions[id] = s
	} else {
		s.LastAccessed = now
	}
	clone := cloneSession(s)
	m.mu.Unlock()

	return clone
}

// Get returns a clone of the session, or nil if it does not exist.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneSession(s)
}

// AddMessage appends msg to the session's history, evicting the oldest
// entry if the bound is exceeded, and bumps last_accessed. The write
// acquisition is held only for this in-memory mutation.
func (m *Manager) AddMessage(sessionID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > MaxSessionMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxSessionMessages:]
	}
	s.LastAccessed = time.Now().UTC()
}

// TruncateHistory keeps only the most recent keepLast messages. No
// component of the runtime calls it.
func (m *Manager) TruncateHistory(sessionID string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if keepLast <= 0 {
		s.Messages = []Message{}
	} else if len(s.Messages) > keepLast {
		s.Messages = s.Messages[len(s.Messages)-keepLast:]
	}
}

// SetSummary records the compaction summary text and bumps the compaction
// counter.
func (m *Manager) SetSummary(sessionID, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Summary = summary
		s.CompactionCount++
	}
}

// Delete removes a session from memory and deletes its on-disk file, if
// any.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if m.sessionsDir == "" {
		return nil
	}
	path := filepath.Join(m.sessionsDir, sanitizeFilename(sessionID)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return merr.New(merr.KindIO, merr.SeverityMedium, "deleting session file", err)
	}
	return nil
}

// CleanupExpired removes in-memory sessions whose last_accessed predates
// SessionTTL and deletes their on-disk files, returning the count removed.
func (m *Manager) CleanupExpired() int {
	cutoff := time.Now().UTC().Add(-SessionTTL)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.LastAccessed.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.sessionsDir != "" {
			path := filepath.Join(m.sessionsDir, sanitizeFilename(id)+".json")
			os.Remove(path)
		}
	}
	return len(expired)
}

// List returns a lightweight descriptor for every in-memory session.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, SessionInfo{
			SessionID:    id,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			LastAccessed: s.LastAccessed,
		})
	}
	return out
}

// SessionInfo is a lightweight session descriptor for listing.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

func cloneSession(s *Session) *Session {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

// SnapshotAll clones every in-memory session under a single brief read
// acquisition, then writes each to disk without holding any lock, per
// §4.B's "no lock held across I/O" invariant.
func (m *Manager) SnapshotAll() (ok, failed int) {
	if m.sessionsDir == "" {
		return 0, 0
	}

	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, cloneSession(s))
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if err := m.writeSnapshot(s); err != nil {
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}

// writeSnapshot runs the atomic-write protocol from §4.B: serialize,
// write to a .tmp sibling, chmod 0600 before rename, atomic rename,
// retrying the whole sequence up to 3 times with 100/200/400ms backoff.
func (m *Manager) writeSnapshot(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return merr.New(merr.KindSerialization, merr.SeverityHigh, "marshaling session", err)
	}

	filename := sanitizeFilename(s.SessionID)
	finalPath := filepath.Join(m.sessionsDir, filename+".json")

	attemptErr := retry.Do(context.Background(), retry.SessionWrite, alwaysRetryable, func(attempt int) error {
		return atomicWrite(m.sessionsDir, finalPath, data)
	})
	if attemptErr != nil {
		return merr.New(merr.KindSessionPersist, merr.SeverityHigh,
			fmt.Sprintf("persisting session %s", filename), attemptErr).WithRetryable(true)
	}
	return nil
}

func atomicWrite(dir, finalPath string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func alwaysRetryable(err error) bool { return err != nil }

// loadAll parses every *.json file in sessionsDir on startup. A file that
// fails to parse is renamed with a .corrupted suffix and skipped (ERROR
// log) rather than aborting startup.
func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		path := filepath.Join(m.sessionsDir, f.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			corruptPath := path + ".corrupted"
			os.Rename(path, corruptPath)
			slog.Error("corrupted session file, quarantined", "file", f.Name(), "error", err)
			continue
		}
		m.sessions[s.SessionID] = &s
	}
}

func sanitizeFilename(sessionID string) string {
	return strings.ReplaceAll(sessionID, "/", "_")
}
