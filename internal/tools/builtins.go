package tools

import (
	"github.com/nextlevelbuilder/miniclaw/internal/bus"
)

// BuiltinsConfig carries the knobs RegisterBuiltins needs to construct
// every built-in tool spec §4.E names.
type BuiltinsConfig struct {
	Workspace      string
	Bus            *bus.MessageBus
	DefaultChannel string
	SpawnLogOutput bool
}

// RegisterBuiltins constructs and registers every built-in tool into r.
// Call order matters only in that a name collision would be a programming
// error (Register rejects it); built-ins never collide with each other.
func RegisterBuiltins(r *Registry, cfg BuiltinsConfig, scheduler *CronScheduler) error {
	builtins := []Tool{
		NewFilesystemTool(cfg.Workspace),
		NewExecTool(cfg.Workspace),
		NewSpawnTool(cfg.Workspace, cfg.SpawnLogOutput),
		NewWebTool(),
		NewCronTool(scheduler),
		NewMemoryTool(cfg.Workspace),
		NewCreateSkillTool(cfg.Workspace),
		NewListSkillsTool(cfg.Workspace),
		NewReadSkillTool(cfg.Workspace),
		NewDeleteSkillTool(cfg.Workspace),
		NewMessageTool(cfg.Bus, cfg.DefaultChannel),
	}

	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
