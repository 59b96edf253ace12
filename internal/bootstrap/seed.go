// Package bootstrap seeds a new workspace with the default template files
// spec §6's workspace layout names (SOUL.md, AGENTS.md, USER.md, TOOLS.md,
// HEARTBEAT.md). Their content is opaque user data to the rest of the
// runtime (spec §1 Non-goals); this package only exists so a first run
// (`onboard`, or `gateway` against an empty workspace) has something
// non-empty for the Context Builder to read instead of silently falling
// back to "missing file" defaults forever.
//
// Templates are embedded via embed.FS and written only if absent
// (os.O_EXCL) — no per-tenant identity file, since miniclaw has exactly
// one workspace.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// Files lists the workspace templates to seed, in the order spec §6's
// layout names them.
var Files = []string{"SOUL.md", "AGENTS.md", "USER.md", "TOOLS.md", "HEARTBEAT.md"}

// EnsureWorkspaceFiles seeds every template in Files into workspaceDir that
// doesn't already exist, returning the names actually created. A file a
// user has already edited is never overwritten; a file the user deleted
// is absent, so it is seeded again.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(workspaceDir, "memory"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(workspaceDir, "skills"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(workspaceDir, "sessions"), 0o755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range Files {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
