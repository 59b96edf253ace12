package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// StartSkillsWatcher watches workspace/skills for create/write/remove/rename
// events and invalidates the cached skills-layer text, so loadSkills only
// re-walks the directory when something actually changed instead of on
// every single turn. Grounded on the teradata-labs-loom pack's
// pkg/prompts/file_registry.go hot-reload idiom (fsnotify.NewWatcher plus a
// background dispatch loop), adapted from a multi-file YAML prompt
// registry down to this package's single skills-bullet-list cache.
//
// Build works correctly without ever calling this — loadSkills recomputes
// on every call when no watcher is armed. The Gateway's startup sequence
// calls this once so skill edits show up without restarting the process.
func (b *Builder) StartSkillsWatcher(ctx context.Context) error {
	root := filepath.Join(b.cfg.Workspace, "skills")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create skills directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skills directory: %w", err)
	}

	b.skillsMu.Lock()
	b.skillsCached = true
	b.skillsDirty = true
	b.skillsMu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				slog.Debug("skills directory changed, invalidating cache", "path", event.Name, "op", event.Op.String())
				b.skillsMu.Lock()
				b.skillsDirty = true
				b.skillsMu.Unlock()
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", werr)
			}
		}
	}()
	return nil
}
