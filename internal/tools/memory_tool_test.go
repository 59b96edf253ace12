package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryToolRequiresContent(t *testing.T) {
	tool := NewMemoryTool(t.TempDir())
	args, _ := json.Marshal(map[string]interface{}{"type": "long_term"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}

func TestMemoryToolRejectsUnknownType(t *testing.T) {
	tool := NewMemoryTool(t.TempDir())
	args, _ := json.Marshal(map[string]interface{}{"content": "note", "type": "medium_term"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}

func TestMemoryToolWritesLongTerm(t *testing.T) {
	workspace := t.TempDir()
	tool := NewMemoryTool(workspace)

	args, _ := json.Marshal(map[string]interface{}{"content": "remember this", "type": "long_term"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "memory", "MEMORY.md"))
	if err != nil {
		t.Fatalf("expected MEMORY.md to exist: %v", err)
	}
	if !strings.Contains(string(data), "remember this") {
		t.Fatalf("expected content in MEMORY.md, got: %s", data)
	}
}

func TestMemoryToolWritesDailyUnderDateFilename(t *testing.T) {
	workspace := t.TempDir()
	tool := NewMemoryTool(workspace)

	args, _ := json.Marshal(map[string]interface{}{"content": "today's note", "type": "daily"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}

	entries, err := os.ReadDir(filepath.Join(workspace, "memory"))
	if err != nil {
		t.Fatalf("reading memory dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") && e.Name() != "MEMORY.md" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a dated daily memory file, got entries: %v", entries)
	}
}

func TestMemoryToolReusesFileHandleAcrossCalls(t *testing.T) {
	workspace := t.TempDir()
	tool := NewMemoryTool(workspace)

	args, _ := json.Marshal(map[string]interface{}{"content": "first", "type": "long_term"})
	tool.Execute(context.Background(), ExecutionContext{}, string(args))
	args2, _ := json.Marshal(map[string]interface{}{"content": "second", "type": "long_term"})
	tool.Execute(context.Background(), ExecutionContext{}, string(args2))

	if len(tool.files) != 1 {
		t.Fatalf("expected one cached file handle, got %d", len(tool.files))
	}

	data, _ := os.ReadFile(filepath.Join(workspace, "memory", "MEMORY.md"))
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Fatalf("expected both entries persisted, got: %s", data)
	}
}

func TestMemoryToolHonorsExecutionContextWorkspace(t *testing.T) {
	defaultWorkspace := t.TempDir()
	overrideWorkspace := t.TempDir()
	tool := NewMemoryTool(defaultWorkspace)

	args, _ := json.Marshal(map[string]interface{}{"content": "note", "type": "long_term"})
	tool.Execute(context.Background(), ExecutionContext{WorkspacePath: overrideWorkspace}, string(args))

	if _, err := os.Stat(filepath.Join(overrideWorkspace, "memory", "MEMORY.md")); err != nil {
		t.Fatalf("expected write under override workspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(defaultWorkspace, "memory", "MEMORY.md")); err == nil {
		t.Fatalf("did not expect write under default workspace")
	}
}
