package contextbuilder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/sessions"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestBuildUsesDefaultSystemPromptWhenFilesMissing(t *testing.T) {
	workspace := t.TempDir()
	b := New(Config{Workspace: workspace, AgentVersion: "test"})

	msgs, err := b.Build(context.Background(), nil, "hello")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msgs[0].Role != "system" || msgs[0].Content == "" {
		t.Fatalf("expected non-empty default system message, got %+v", msgs[0])
	}
}

func TestBuildConcatenatesSoulAndAgents(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "SOUL.md"), "I am friendly.")
	writeFile(t, filepath.Join(workspace, "AGENTS.md"), "Always be concise.")

	b := New(Config{Workspace: workspace})
	msgs, err := b.Build(context.Background(), nil, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msgs[0].Content, "friendly") || !strings.Contains(msgs[0].Content, "concise") {
		t.Fatalf("expected both SOUL.md and AGENTS.md content, got %q", msgs[0].Content)
	}
}

func TestBuildIncludesBootstrapLayer(t *testing.T) {
	b := New(Config{Workspace: t.TempDir(), AgentVersion: "v1.2.3"})
	msgs, err := b.Build(context.Background(), nil, "hi")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range msgs {
		if strings.Contains(m.Content, "v1.2.3") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected bootstrap layer to include agent version")
	}
}

func TestBuildSkipsInvalidSkillWithNoDescription(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "skills", "empty", "SKILL.md"), "# Empty\n\n")
	writeFile(t, filepath.Join(workspace, "skills", "good", "SKILL.md"), "# Good\n\nDoes something useful.")

	b := New(Config{Workspace: workspace})
	msgs, err := b.Build(context.Background(), nil, "hi")
	if err != nil {
		t.Fatal(err)
	}
	var all strings.Builder
	for _, m := range msgs {
		all.WriteString(m.Content)
	}
	if !strings.Contains(all.String(), "good") {
		t.Fatal("expected the valid skill to be listed")
	}
	if strings.Contains(all.String(), "- empty:") {
		t.Fatal("expected the empty-description skill to be skipped")
	}
}

func TestBuildPreservesHistoryRolesAndToolCalls(t *testing.T) {
	workspace := t.TempDir()
	b := New(Config{Workspace: workspace})

	history := []sessions.Message{
		{Role: "user", Content: "fetch x", Timestamp: time.Now()},
		{Role: "assistant", Content: "", Timestamp: time.Now(),
			ToolCalls: []sessions.ToolCall{{ID: "c1", Name: "web", Arguments: `{"url":"https://x"}`}}},
		{Role: "tool", Content: "result", ToolCallID: "c1", Timestamp: time.Now()},
	}

	msgs, err := b.Build(context.Background(), history, "thanks")
	if err != nil {
		t.Fatal(err)
	}

	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	joined := strings.Join(roles, ",")
	if !strings.Contains(joined, "user,assistant,tool,user") {
		t.Fatalf("expected history roles preserved ending in the new user message, got %v", roles)
	}

	for _, m := range msgs {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			if m.ToolCalls[0].Arguments != `{"url":"https://x"}` {
				t.Fatalf("expected tool call arguments preserved verbatim, got %q", m.ToolCalls[0].Arguments)
			}
		}
	}
}

func TestBuildTruncatesHistoryToMaxHistoryMessages(t *testing.T) {
	workspace := t.TempDir()
	b := New(Config{Workspace: workspace, MaxHistoryMessages: 2})

	var history []sessions.Message
	for i := 0; i < 10; i++ {
		history = append(history, sessions.Message{Role: "user", Content: "msg", Timestamp: time.Now()})
	}

	msgs, err := b.Build(context.Background(), history, "final")
	if err != nil {
		t.Fatal(err)
	}

	historyCount := 0
	for _, m := range msgs[:len(msgs)-1] {
		if m.Role == "user" && m.Content == "msg" {
			historyCount++
		}
	}
	if historyCount != 2 {
		t.Fatalf("expected exactly 2 history messages kept, got %d", historyCount)
	}
}

func TestBuildAlwaysIncludesCurrentUserMessageLast(t *testing.T) {
	b := New(Config{Workspace: t.TempDir()})
	msgs, err := b.Build(context.Background(), nil, "the current message")
	if err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "the current message" {
		t.Fatalf("expected current user message last, got %+v", last)
	}
}

func TestBuildNeverTruncatesCurrentUserMessageUnderExtremeBudget(t *testing.T) {
	b := New(Config{Workspace: t.TempDir(), MaxContextTokens: 1})
	msgs, err := b.Build(context.Background(), nil, "must survive")
	if err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1]
	if last.Content != "must survive" {
		t.Fatalf("expected current user message preserved even under tiny budget, got %+v", last)
	}
}

func TestBuildDropsOldestHistoryBeforeProtectedLayersUnderBudget(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "SOUL.md"), "short soul")

	var history []sessions.Message
	for i := 0; i < 5; i++ {
		history = append(history, sessions.Message{Role: "user", Content: strings.Repeat("x", 500), Timestamp: time.Now()})
	}

	b := New(Config{Workspace: workspace, MaxContextTokens: 50})
	msgs, err := b.Build(context.Background(), history, "final message")
	if err != nil {
		t.Fatal(err)
	}

	// System layer (layer 1) must survive even though budget forced drops.
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "short soul") {
		t.Fatalf("expected system layer to survive truncation, got %+v", msgs[0])
	}
	// Current user message must survive.
	if msgs[len(msgs)-1].Content != "final message" {
		t.Fatalf("expected current user message to survive, got %+v", msgs[len(msgs)-1])
	}
}

func TestDefaultsAppliedWhenConfigZeroValued(t *testing.T) {
	b := New(Config{Workspace: t.TempDir()})
	if b.cfg.MaxMemoryLines != DefaultMaxMemoryLines {
		t.Fatalf("expected default memory lines, got %d", b.cfg.MaxMemoryLines)
	}
	if b.cfg.MaxHistoryMessages != DefaultMaxHistoryMessages {
		t.Fatalf("expected default history messages, got %d", b.cfg.MaxHistoryMessages)
	}
	if b.cfg.MaxContextTokens != 4000 {
		t.Fatalf("expected default context tokens, got %d", b.cfg.MaxContextTokens)
	}
}
