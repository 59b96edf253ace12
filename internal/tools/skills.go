package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// builtinSkillNames are skill names delete_skill refuses to remove (spec
// §4.E). The set is empty: onboarding seeds no skills under
// workspace/skills/.
var builtinSkillNames = map[string]struct{}{}

// skillPath resolves a skill's directory under workspace/skills/, rejecting
// any name that would escape that directory (path separators, "..").
func skillPath(workspace, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid skill name: %q", name)
	}
	return filepath.Join(workspace, "skills", name), nil
}

// skillsBase is shared by spec §4.E's four skill-management built-ins, one
// Tool per verb, all using the workspace/skills/<name>/SKILL.md layout the
// Context Builder's skills layer also reads.
//
// Authored against spec §4.D's skill-bullet format and §4.E's contract,
// reusing the same path-containment discipline as
// internal/tools/filesystem.go.
type skillsBase struct {
	workspace string
}

func (s *skillsBase) resolveWorkspace(execCtx ExecutionContext) string {
	if execCtx.WorkspacePath != "" {
		return execCtx.WorkspacePath
	}
	return s.workspace
}

// CreateSkillTool writes a new workspace/skills/<name>/SKILL.md.
type CreateSkillTool struct{ skillsBase }

func NewCreateSkillTool(workspace string) *CreateSkillTool {
	return &CreateSkillTool{skillsBase{workspace: workspace}}
}

func (t *CreateSkillTool) Name() string        { return "create_skill" }
func (t *CreateSkillTool) Description() string { return "Create a new skill under workspace/skills/" }
func (t *CreateSkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string", "description": "SKILL.md body"},
		},
		"required": []string{"name", "content"},
	}
}

func (t *CreateSkillTool) Execute(_ context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	name, _ := args["name"].(string)
	content, _ := args["content"].(string)

	dir, err := skillPath(t.resolveWorkspace(execCtx), name)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	if _, err := os.Stat(dir); err == nil {
		return KindResult(ErrInvalidArguments, fmt.Sprintf("skill %q already exists", name))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("creating skill directory: %v", err))
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o600); err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("writing SKILL.md: %v", err))
	}
	return SilentResult(fmt.Sprintf("created skill %q", name))
}

// ListSkillsTool lists every subdirectory of workspace/skills/ that
// contains a SKILL.md.
type ListSkillsTool struct{ skillsBase }

func NewListSkillsTool(workspace string) *ListSkillsTool {
	return &ListSkillsTool{skillsBase{workspace: workspace}}
}

func (t *ListSkillsTool) Name() string                         { return "list_skill" }
func (t *ListSkillsTool) Description() string                  { return "List skills under workspace/skills/" }
func (t *ListSkillsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ListSkillsTool) Execute(_ context.Context, execCtx ExecutionContext, _ string) *Result {
	root := filepath.Join(t.resolveWorkspace(execCtx), "skills")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return SilentResult("")
		}
		return KindResult(ErrExecutionFailed, fmt.Sprintf("listing skills: %v", err))
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "SKILL.md")); err == nil {
			names = append(names, e.Name())
		}
	}
	return SilentResult(strings.Join(names, "\n"))
}

// ReadSkillTool returns one skill's SKILL.md content.
type ReadSkillTool struct{ skillsBase }

func NewReadSkillTool(workspace string) *ReadSkillTool {
	return &ReadSkillTool{skillsBase{workspace: workspace}}
}

func (t *ReadSkillTool) Name() string        { return "read_skill" }
func (t *ReadSkillTool) Description() string { return "Read a skill's SKILL.md under workspace/skills/" }
func (t *ReadSkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
		"required":   []string{"name"},
	}
}

func (t *ReadSkillTool) Execute(_ context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	name, _ := args["name"].(string)

	dir, err := skillPath(t.resolveWorkspace(execCtx), name)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	data, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return KindResult(ErrNotFound, fmt.Sprintf("no such skill: %s", name))
		}
		return KindResult(ErrExecutionFailed, fmt.Sprintf("reading skill: %v", err))
	}
	return SilentResult(string(data))
}

// DeleteSkillTool removes a skill directory. Built-in skill names are
// protected per spec §4.E ("delete_skill may not remove built-ins").
type DeleteSkillTool struct{ skillsBase }

func NewDeleteSkillTool(workspace string) *DeleteSkillTool {
	return &DeleteSkillTool{skillsBase{workspace: workspace}}
}

func (t *DeleteSkillTool) Name() string        { return "delete_skill" }
func (t *DeleteSkillTool) Description() string { return "Delete a non-built-in skill under workspace/skills/" }
func (t *DeleteSkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
		"required":   []string{"name"},
	}
}

func (t *DeleteSkillTool) Execute(_ context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	name, _ := args["name"].(string)

	if _, builtin := builtinSkillNames[name]; builtin {
		return KindResult(ErrPermissionDenied, fmt.Sprintf("%q is a built-in skill and cannot be deleted", name))
	}

	dir, err := skillPath(t.resolveWorkspace(execCtx), name)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return KindResult(ErrNotFound, fmt.Sprintf("no such skill: %s", name))
	}
	if err := os.RemoveAll(dir); err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("deleting skill: %v", err))
	}
	return SilentResult(fmt.Sprintf("deleted skill %q", name))
}
