package tools

import (
	"testing"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
)

func TestRegisterBuiltinsRegistersEveryContractTool(t *testing.T) {
	r := NewRegistry()
	scheduler := NewCronScheduler(t.TempDir())
	cfg := BuiltinsConfig{
		Workspace:      t.TempDir(),
		Bus:            bus.New(nil),
		DefaultChannel: "telegram",
	}

	if err := RegisterBuiltins(r, cfg, scheduler); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}

	want := []string{
		"filesystem", "exec", "spawn", "web", "cron", "write_memory",
		"create_skill", "list_skill", "read_skill", "delete_skill", "message",
	}
	names := r.Names()
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected built-in %q registered, got names: %v", w, names)
		}
	}
}
