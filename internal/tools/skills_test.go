package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSkillPathRejectsTraversal(t *testing.T) {
	if _, err := skillPath(t.TempDir(), "../etc"); err == nil {
		t.Fatal("expected error for traversal name")
	}
	if _, err := skillPath(t.TempDir(), "a/b"); err == nil {
		t.Fatal("expected error for separator in name")
	}
}

func TestCreateListReadDeleteSkillRoundTrip(t *testing.T) {
	workspace := t.TempDir()
	create := NewCreateSkillTool(workspace)
	list := NewListSkillsTool(workspace)
	read := NewReadSkillTool(workspace)
	del := NewDeleteSkillTool(workspace)

	createArgs, _ := json.Marshal(map[string]interface{}{"name": "greeter", "content": "# Greeter\n\nSays hello."})
	if res := create.Execute(context.Background(), ExecutionContext{}, string(createArgs)); res.IsError {
		t.Fatalf("create_skill failed: %+v", res)
	}

	listRes := list.Execute(context.Background(), ExecutionContext{}, "{}")
	if listRes.IsError || !strings.Contains(listRes.ForLLM, "greeter") {
		t.Fatalf("expected greeter listed, got %+v", listRes)
	}

	readArgs, _ := json.Marshal(map[string]interface{}{"name": "greeter"})
	readRes := read.Execute(context.Background(), ExecutionContext{}, string(readArgs))
	if readRes.IsError || !strings.Contains(readRes.ForLLM, "Says hello") {
		t.Fatalf("expected skill content, got %+v", readRes)
	}

	delArgs, _ := json.Marshal(map[string]interface{}{"name": "greeter"})
	if res := del.Execute(context.Background(), ExecutionContext{}, string(delArgs)); res.IsError {
		t.Fatalf("delete_skill failed: %+v", res)
	}

	if _, err := os.Stat(filepath.Join(workspace, "skills", "greeter")); err == nil {
		t.Fatal("expected skill directory removed")
	}
}

func TestCreateSkillRejectsDuplicateName(t *testing.T) {
	workspace := t.TempDir()
	create := NewCreateSkillTool(workspace)

	args, _ := json.Marshal(map[string]interface{}{"name": "dup", "content": "body"})
	create.Execute(context.Background(), ExecutionContext{}, string(args))
	res := create.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments on duplicate, got %+v", res)
	}
}

func TestReadSkillNotFound(t *testing.T) {
	read := NewReadSkillTool(t.TempDir())
	args, _ := json.Marshal(map[string]interface{}{"name": "ghost"})
	res := read.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}
}

func TestDeleteSkillProtectsBuiltins(t *testing.T) {
	workspace := t.TempDir()
	builtinSkillNames["protected-test-skill"] = struct{}{}
	defer delete(builtinSkillNames, "protected-test-skill")

	os.MkdirAll(filepath.Join(workspace, "skills", "protected-test-skill"), 0o755)
	os.WriteFile(filepath.Join(workspace, "skills", "protected-test-skill", "SKILL.md"), []byte("x"), 0o600)

	del := NewDeleteSkillTool(workspace)
	args, _ := json.Marshal(map[string]interface{}{"name": "protected-test-skill"})
	res := del.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", res)
	}
}

func TestListSkillsSkipsDirectoriesWithoutSkillFile(t *testing.T) {
	workspace := t.TempDir()
	os.MkdirAll(filepath.Join(workspace, "skills", "incomplete"), 0o755)

	list := NewListSkillsTool(workspace)
	res := list.Execute(context.Background(), ExecutionContext{}, "{}")
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
	if strings.Contains(res.ForLLM, "incomplete") {
		t.Fatalf("expected incomplete skill dir to be skipped, got %q", res.ForLLM)
	}
}

func TestListSkillsHandlesMissingDirectory(t *testing.T) {
	list := NewListSkillsTool(t.TempDir())
	res := list.Execute(context.Background(), ExecutionContext{}, "{}")
	if res.IsError {
		t.Fatalf("missing skills/ directory should not error, got %+v", res)
	}
}
