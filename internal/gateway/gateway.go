// Package gateway implements spec §2's bootstrapper (dependency-order
// construction of every cooperating component) and §4.F's Lifecycle /
// Shutdown Coordinator (signal capture, background task supervision,
// graceful-degradation channel startup, bounded shutdown drain, exit-code
// mapping).
//
// Construction happens leaves first: Session Store, Bus and Tool Registry
// are built before the Provider and Context Builder, the Agent Loop
// composes all of them, and channels are constructed last. In Run, channels
// start and register with the Bus before the Bus's drain loop starts.
// Shutdown follows
// signal.Notify→cancel-broadcast→bounded-drain→final-snapshot.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/agent"
	"github.com/nextlevelbuilder/miniclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/miniclaw/internal/bus"
	"github.com/nextlevelbuilder/miniclaw/internal/channels"
	"github.com/nextlevelbuilder/miniclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/miniclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/miniclaw/internal/circuit"
	"github.com/nextlevelbuilder/miniclaw/internal/config"
	"github.com/nextlevelbuilder/miniclaw/internal/contextbuilder"
	"github.com/nextlevelbuilder/miniclaw/internal/providers"
	"github.com/nextlevelbuilder/miniclaw/internal/sessions"
	"github.com/nextlevelbuilder/miniclaw/internal/tools"
	"github.com/nextlevelbuilder/miniclaw/internal/whitelist"
)

// shutdownGrace bounds how long the shutdown sequence waits for
// in-flight work to drain before forcing the remaining steps (spec §4.F
// step 2: "SHUTDOWN_GRACE = 5s").
const shutdownGrace = 5 * time.Second

// cleanupInterval and autoPersistInterval are the Lifecycle Coordinator's
// two periodic background tasks (spec §4.F step 8).
const (
	autoPersistInterval = 30 * time.Second
	cleanupInterval     = 24 * time.Hour
)

// circuitFailureThreshold and circuitOpenTimeout parameterize the Agent
// Loop's LLM circuit breaker (spec §5 "Circuit breaker").
const (
	circuitFailureThreshold = 5
	circuitOpenTimeout      = 30 * time.Second
)

// Gateway holds every long-lived collaborator spec §2 names, wired once at
// construction and run until a shutdown signal or a caller-supplied
// context is done.
type Gateway struct {
	cfg       *config.Config
	workspace string

	sessions  *sessions.Manager
	bus       *bus.MessageBus
	scheduler *tools.CronScheduler
	builder   *contextbuilder.Builder
	loop      *agent.Loop
	whitelist *whitelist.Checker

	channels []channels.Channel
}

// New constructs every component in dependency order (spec §2) and returns
// a Gateway ready for Run. Channel construction failures are not fatal —
// they are logged and the channel is simply absent from g.channels,
// matching spec §4.F step 7's graceful-degradation requirement.
func New(cfg *config.Config) (*Gateway, error) {
	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		return nil, fmt.Errorf("seeding workspace: %w", err)
	}

	sessionStore := sessions.NewManager(filepath.Join(workspace, "sessions"))

	msgBus := bus.New(func(msg bus.OutboundMessage, reason string) {
		slog.Error("outbound message permanently undeliverable",
			"channel", msg.Channel, "chat_id", msg.ChatID, "reason", reason)
	})

	registry := tools.NewRegistry()
	scheduler := tools.NewCronScheduler(workspace)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinsConfig{
		Workspace:      workspace,
		Bus:            msgBus,
		DefaultChannel: "telegram",
		SpawnLogOutput: cfg.SpawnLogOutput,
	}, scheduler); err != nil {
		return nil, fmt.Errorf("registering built-in tools: %w", err)
	}

	provider := providerFor(cfg)

	builder := contextbuilder.New(contextbuilder.Config{
		Workspace:        workspace,
		AgentVersion:     Version,
		MaxContextTokens: cfg.MaxContextTokens,
	})

	breaker := circuit.New(circuitFailureThreshold, circuitOpenTimeout)

	loop := agent.New(agent.Config{
		Provider:  provider,
		Model:     cfg.Model,
		Sessions:  sessionStore,
		Tools:     registry,
		Builder:   builder,
		Bus:       msgBus,
		Breaker:   breaker,
		Workspace: workspace,
	})

	wl := whitelist.New(cfg.AllowFrom)

	g := &Gateway{
		cfg:       cfg,
		workspace: workspace,
		sessions:  sessionStore,
		bus:       msgBus,
		scheduler: scheduler,
		builder:   builder,
		loop:      loop,
		whitelist: wl,
	}

	g.constructChannels()
	g.registerHeartbeat()

	return g, nil
}

// Version is overridden at build time (see cmd.Version) and fed into the
// Context Builder's bootstrap layer.
var Version = "dev"

// providerFor resolves the LLM provider from cfg. cfg.Providers lets a
// user override api_base/model per named provider; "default" falls back
// to the top-level api_key/model spec §6 always requires.
func providerFor(cfg *config.Config) providers.Provider {
	apiKey, apiBase, model := cfg.APIKey, "", cfg.Model
	if p, ok := cfg.Providers["default"]; ok {
		if p.APIKey != "" {
			apiKey = p.APIKey
		}
		if p.APIBase != "" {
			apiBase = p.APIBase
		}
		if p.Model != "" {
			model = p.Model
		}
	}
	return providers.NewOpenAIProvider("openai", apiKey, apiBase, model)
}

// constructChannels instantiates and registers every configured channel.
// A missing token simply omits that channel; a construction error is
// logged at ERROR and skipped (spec §4.F step 7).
func (g *Gateway) constructChannels() {
	if g.cfg.TelegramToken != "" {
		ch, err := telegram.New(g.cfg.TelegramToken, "", g.whitelist)
		if err != nil {
			slog.Error("telegram channel init failed, skipping", "error", err)
		} else {
			g.channels = append(g.channels, ch)
		}
	}
	if g.cfg.DiscordToken != "" {
		ch, err := discord.New(g.cfg.DiscordToken, g.whitelist)
		if err != nil {
			slog.Error("discord channel init failed, skipping", "error", err)
		} else {
			g.channels = append(g.channels, ch)
		}
	}
	if len(g.channels) == 0 {
		slog.Warn("no channels configured: the daemon will run with no way to receive inbound messages")
	}
}

// registerHeartbeat parses workspace/HEARTBEAT.md (one "- interval(N)
// command" or "- fire_at(HH:MM) command" bullet per line) and pre-registers
// each as a cron job, per SPEC_FULL §12's heartbeat supplement. A missing
// or empty file is not an error — HEARTBEAT.md is optional.
func (g *Gateway) registerHeartbeat() {
	data, err := os.ReadFile(filepath.Join(g.workspace, "HEARTBEAT.md"))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reading HEARTBEAT.md failed", "error", err)
		}
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "*") {
			continue
		}
		if id, err := g.scheduler.RegisterLine(trimmed); err != nil {
			slog.Warn("skipping malformed HEARTBEAT.md line", "line", trimmed, "error", err)
		} else {
			slog.Debug("registered heartbeat job", "id", id, "line", trimmed)
		}
	}
}

// Run executes the Lifecycle Coordinator's startup sequence, blocks until
// a shutdown signal (SIGINT/SIGTERM) arrives, then runs the shutdown
// sequence, returning the exit code spec §4.F/§6 mandate: 0 clean, 130
// SIGINT, 143 SIGTERM, 1 error (a panic recovered here).
func (g *Gateway) Run(pidFilePath string) (code int) {
	startupStart := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in gateway", "panic", r, "stack", string(debug.Stack()))
			code = 1
		}
	}()

	if pidFilePath != "" {
		if err := writePIDFile(pidFilePath); err != nil {
			slog.Error("writing pid file failed", "path", pidFilePath, "error", err)
		} else {
			defer removePIDFile(pidFilePath)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)

	if err := g.builder.StartSkillsWatcher(ctx); err != nil {
		slog.Warn("skills watcher unavailable, falling back to per-turn directory reads", "error", err)
	}

	var wg sync.WaitGroup
	startedChannels := g.startChannels(ctx)

	wg.Add(1)
	go func() { defer wg.Done(); g.scheduler.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); g.bus.Run(ctx, g.loop.Handle) }()

	wg.Add(1)
	go func() { defer wg.Done(); g.autoPersistLoop(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); g.cleanupLoop(ctx) }()

	slog.Debug("gateway startup complete",
		"duration", time.Since(startupStart), "channels", startedChannels)

	sig := <-sigCh
	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()

	for _, ch := range g.channels {
		if err := ch.Stop(context.Background()); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}

	drained := make(chan struct{})
	go func() { wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(shutdownGrace):
		slog.Warn("shutdown grace period expired before background tasks drained")
	}

	ok, failed := g.sessions.SnapshotAll()
	slog.Info("final session snapshot", "ok", ok, "failed", failed)

	return exitCodeFor(sig)
}

// startChannels calls Start on every constructed channel, registering its
// outbound sender with the Bus on success. A Start failure is logged and
// the channel is dropped from service, never fatal to the rest (spec
// §4.F step 7).
func (g *Gateway) startChannels(ctx context.Context) []string {
	var started []string
	for _, ch := range g.channels {
		if err := ch.Start(ctx, g.bus); err != nil {
			slog.Error("channel start failed, skipping", "channel", ch.Name(), "error", err)
			continue
		}
		g.bus.RegisterChannel(ch.Name(), channels.SenderAdapter{Channel: ch})
		started = append(started, ch.Name())
	}
	return started
}

// autoPersistLoop snapshots every session to disk every autoPersistInterval
// (spec §4.F step 8, spec §3's "periodically snapshot to disk").
func (g *Gateway) autoPersistLoop(ctx context.Context) {
	ticker := time.NewTicker(autoPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, failed := g.sessions.SnapshotAll()
			if failed > 0 {
				slog.Warn("auto-persist had failures", "ok", ok, "failed", failed)
			} else {
				slog.Debug("auto-persist complete", "ok", ok)
			}
		}
	}
}

// cleanupLoop evicts sessions past SESSION_TTL once every cleanupInterval
// (spec §3's "evicted after SESSION_TTL of inactivity").
func (g *Gateway) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := g.sessions.CleanupExpired()
			if n > 0 {
				slog.Info("evicted expired sessions", "count", n)
			}
		}
	}
}

// P95 exposes the Agent Loop's rolling response-time percentile, e.g. for
// a future health-check surface.
func (g *Gateway) P95() int64 { return g.loop.P95() }

// LLMP95 exposes the Agent Loop's rolling LLM-call wall-time percentile.
func (g *Gateway) LLMP95() int64 { return g.loop.LLMP95() }

// ToolP95 exposes the Agent Loop's rolling tool-batch wall-time percentile.
func (g *Gateway) ToolP95() int64 { return g.loop.ToolP95() }

// AvgIterations exposes the Agent Loop's mean per-turn iteration count.
func (g *Gateway) AvgIterations() float64 { return g.loop.AvgIterations() }

// ProcessOne runs msg through the Agent Loop and returns its reply,
// without starting channels or the Lifecycle Coordinator's background
// tasks. Used by the one-shot "agent" CLI command, which wants the same
// dependency-ordered construction New gives a running gateway without
// actually going live on any channel.
func (g *Gateway) ProcessOne(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return g.loop.ProcessOne(ctx, msg)
}

func exitCodeFor(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return 130
	case syscall.SIGTERM:
		return 143
	default:
		return 0
	}
}
