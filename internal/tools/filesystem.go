package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
)

// blockedPrefixes are system paths no filesystem op may ever resolve into,
// even via an absolute path argument (spec §4.E).
var blockedPrefixes = []string{"/etc", "/root", "/sys", "/proc"}

// FilesystemTool implements spec §4.E's combined read/write/list
// filesystem tool. Every path is canonicalized by walking it one component
// at a time and resolving each symlink met on the way, and rejected unless it is a descendant of the configured workspace root
// and does not match a blocked system prefix.
//
// Path canonicalization and symlink/hardlink defenses (resolvePath,
// canonicalizeWithinRoot, checkHardlink) guard spec's invariant 7. miniclaw
// runs one process against one host workspace, never a remote per-user
// container, so there is no sandbox-container routing layer on top.
type FilesystemTool struct {
	workspace string
}

// NewFilesystemTool returns a filesystem tool rooted at workspace.
func NewFilesystemTool(workspace string) *FilesystemTool {
	return &FilesystemTool{workspace: workspace}
}

func (t *FilesystemTool) Name() string { return "filesystem" }

func (t *FilesystemTool) Description() string {
	return "Read, write, or list files under the agent's workspace"
}

func (t *FilesystemTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"op": map[string]interface{}{
				"type": "string",
				"enum": []string{"read", "write", "list"},
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path relative to the workspace root, or absolute",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File content; required when op=write",
			},
		},
		"required": []string{"op", "path"},
	}
}

func (t *FilesystemTool) Execute(ctx context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	op, _ := args["op"].(string)
	path, _ := args["path"].(string)
	if path == "" {
		return KindResult(ErrInvalidArguments, "path is required")
	}

	workspace := t.workspace
	if execCtx.WorkspacePath != "" {
		workspace = execCtx.WorkspacePath
	}

	resolved, err := resolvePath(path, workspace, true)
	if err != nil {
		return KindResult(ErrPermissionDenied, err.Error())
	}
	if err := checkBlockedPrefix(resolved); err != nil {
		return KindResult(ErrPermissionDenied, err.Error())
	}

	switch op {
	case "read":
		return t.read(resolved)
	case "write":
		content, _ := args["content"].(string)
		return t.write(resolved, content)
	case "list":
		return t.list(resolved)
	default:
		return KindResult(ErrInvalidArguments, fmt.Sprintf("unknown op: %s", op))
	}
}

func (t *FilesystemTool) read(resolved string) *Result {
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return KindResult(ErrNotFound, fmt.Sprintf("no such file: %s", filepath.Base(resolved)))
		}
		return KindResult(ErrExecutionFailed, fmt.Sprintf("reading file: %v", err))
	}
	return SilentResult(string(data))
}

func (t *FilesystemTool) write(resolved, content string) *Result {
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("creating parent directories: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o600); err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("writing file: %v", err))
	}
	return SilentResult(fmt.Sprintf("wrote %d bytes to %s", len(content), filepath.Base(resolved)))
}

func (t *FilesystemTool) list(resolved string) *Result {
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return KindResult(ErrNotFound, fmt.Sprintf("no such directory: %s", filepath.Base(resolved)))
		}
		return KindResult(ErrExecutionFailed, fmt.Sprintf("listing directory: %v", err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return SilentResult(strings.Join(names, "\n"))
}

func checkBlockedPrefix(resolved string) error {
	if runtime.GOOS == "windows" {
		upper := strings.ToUpper(resolved)
		for _, blocked := range []string{`C:\WINDOWS`, `C:\PROGRAM FILES`} {
			if strings.HasPrefix(upper, blocked) {
				return fmt.Errorf("access denied: path %s is restricted", resolved)
			}
		}
		return nil
	}
	for _, prefix := range blockedPrefixes {
		if isPathInside(resolved, prefix) {
			return fmt.Errorf("access denied: path %s is restricted", resolved)
		}
	}
	return nil
}

// maxSymlinkDepth bounds how many symlink components resolvePath will
// follow while walking a candidate path, so a pathological symlink chain
// can't turn one tool call into an unbounded loop.
const maxSymlinkDepth = 32

// resolvePath cleans path against workspace (absolute paths are taken
// as-is, relative ones are joined) and, when restrict is true, walks the
// result one path component at a time from the workspace's own canonical
// root, following any symlink it meets. A component is rejected the
// moment its target would leave the root, or the moment it sits behind a
// symlink whose parent directory remains writable — a link replaced
// between this check and the actual read/write (TOCTOU) would otherwise
// let a sandboxed path point somewhere else by the time it's used.
// restrict=false skips all of this for callers that already trust path.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Clean(filepath.Join(workspace, path))
	}

	if !restrict {
		return joined, nil
	}

	root := canonicalRoot(workspace)
	real, err := canonicalizeWithinRoot(path, joined, root)
	if err != nil {
		return "", err
	}

	if !isPathInside(real, root) {
		slog.Warn("path escape rejected", "path", path, "resolved", real, "workspace", root)
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

// canonicalRoot resolves workspace to its canonical, symlink-free form, or
// returns its plain absolute form if it doesn't exist on disk yet (a fresh
// workspace before onboarding has seeded it).
func canonicalRoot(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return workspace
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return real
}

// canonicalizeWithinRoot walks joined component by component starting from
// root, resolving symlinks as it goes. On non-Windows, every symlink
// encountered is checked against root (escape) and against its parent
// directory's writability (TOCTOU rebind) before the walk continues — one
// pass does what resolving-then-separately-rewalking-for-mutable-parents
// would need two for. A component that doesn't exist yet (a write target,
// or the tail of a broken symlink) is kept as a literal path segment and
// the walk proceeds.
func canonicalizeWithinRoot(origPath, joined, root string) (string, error) {
	if runtime.GOOS == "windows" {
		return joined, nil
	}

	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", fmt.Errorf("access denied: cannot relate path to workspace")
	}

	current := root
	depth := 0
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		switch seg {
		case "", ".":
			continue
		case "..":
			current = filepath.Dir(current)
			continue
		}
		next := filepath.Join(current, seg)

		info, err := os.Lstat(next)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			current = next
			continue
		}

		depth++
		if depth > maxSymlinkDepth {
			return "", fmt.Errorf("access denied: symlink chain too deep")
		}

		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("access denied: cannot resolve symlink")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(next), target)
		}
		target = filepath.Clean(target)

		if !isPathInside(target, root) {
			slog.Warn("symlink escape rejected", "path", origPath, "link", next, "target", target, "workspace", root)
			return "", fmt.Errorf("access denied: symlink target outside workspace")
		}
		if syscall.Access(filepath.Dir(next), 0x2 /* W_OK */) == nil {
			slog.Warn("mutable symlink parent rejected", "path", origPath, "link", next)
			return "", fmt.Errorf("access denied: path contains mutable symlink component")
		}
		current = target
	}
	return current, nil
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// checkHardlink rejects regular files with nlink > 1 (hardlink attack
// prevention). Directories naturally have nlink > 1 and are exempt.
func checkHardlink(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Lstat(path)
	if err != nil {
		return nil // non-existent files are OK — will fail at read/write
	}
	if info.IsDir() {
		return nil
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat.Nlink <= 1 {
		return nil
	}
	slog.Warn("hardlinked file rejected", "path", path, "nlink", stat.Nlink)
	return fmt.Errorf("access denied: hardlinked file not allowed")
}
