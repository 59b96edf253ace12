package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/memoryfile"
)

// MemoryTool implements spec §4.E's "write_memory" contract: content plus
// type∈{long_term,daily}. long_term entries append to memory/MEMORY.md
// under today's date header; daily entries append to (and create, if
// absent) memory/YYYY-MM-DD.md under the same format.
//
// Built on internal/memoryfile; this tool only adds the path-selection
// and tool-args plumbing on top.
type MemoryTool struct {
	workspace string

	mu    sync.Mutex
	files map[string]*memoryfile.File
}

// NewMemoryTool returns a write_memory tool rooted at workspace's memory/
// subdirectory.
func NewMemoryTool(workspace string) *MemoryTool {
	return &MemoryTool{workspace: workspace, files: make(map[string]*memoryfile.File)}
}

// memoryArgs is the struct invopop/jsonschema reflects into this tool's
// Parameters() schema.
type memoryArgs struct {
	Content string `json:"content" jsonschema:"required,description=The note text to record"`
	Type    string `json:"type" jsonschema:"required,enum=long_term,enum=daily"`
}

func (t *MemoryTool) Name() string        { return "write_memory" }
func (t *MemoryTool) Description() string { return "Append a note to long-term or daily memory" }
func (t *MemoryTool) Parameters() map[string]interface{} {
	return schemaFor(memoryArgs{})
}

func (t *MemoryTool) Execute(_ context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	content, _ := args["content"].(string)
	if content == "" {
		return KindResult(ErrInvalidArguments, "content is required")
	}
	memType, _ := args["type"].(string)

	workspace := t.workspace
	if execCtx.WorkspacePath != "" {
		workspace = execCtx.WorkspacePath
	}

	now := time.Now().UTC()
	var path string
	switch memType {
	case "long_term":
		path = filepath.Join(workspace, "memory", "MEMORY.md")
	case "daily":
		path = filepath.Join(workspace, "memory", now.Format("2006-01-02")+".md")
	default:
		return KindResult(ErrInvalidArguments, fmt.Sprintf("unknown type: %s", memType))
	}

	f := t.fileFor(path)
	if err := f.Append(content, now); err != nil {
		return KindResult(ErrExecutionFailedRecoverable, err.Error())
	}
	return SilentResult(fmt.Sprintf("recorded to %s", filepath.Base(path)))
}

func (t *MemoryTool) fileFor(path string) *memoryfile.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.files[path]; ok {
		return f
	}
	f := memoryfile.NewFile(path)
	t.files[path] = f
	return f
}
