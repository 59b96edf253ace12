// Package contextbuilder implements the Context Builder (spec §4.D): the
// deterministic assembly of the ordered LlmMessage sequence a provider call
// sees, from the seven fixed layers (system, bootstrap, long-term memory,
// skills, tools, history, current user message) down to a token-bounded
// result.
//
// Assembly proceeds layer by layer, dropping oldest non-protected entries
// under budget pressure; miniclaw has exactly one workspace per process, so
// there's no per-tenant workspace/sandbox branching to carry.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/miniclaw/internal/memoryfile"
	"github.com/nextlevelbuilder/miniclaw/internal/providers"
	"github.com/nextlevelbuilder/miniclaw/internal/sessions"
)

// Config holds the Builder's size limits and identity strings, resolved
// once from the loaded Config and reused across turns.
type Config struct {
	Workspace        string
	AgentVersion     string
	MaxMemoryLines   int
	MaxHistoryMessages int
	MaxContextTokens int
}

// DefaultMaxMemoryLines and DefaultMaxHistoryMessages are spec §4.D's
// named constants (MAX_MEMORY_LINES is left unspecified numerically by
// spec; MAX_HISTORY_MESSAGES is spec's literal 50).
const (
	DefaultMaxMemoryLines     = 50
	DefaultMaxHistoryMessages = 50
)

// layer tags an assembled message with its originating Context Builder
// layer and whether it may ever be dropped under budget pressure. Spec
// §4.D's size control names exactly two droppable layers — 3 (memory) and
// 6 (history); every other layer, including skills and tools, is
// protected.
type layer int

const (
	layerSystem layer = iota + 1
	layerBootstrap
	layerMemory
	layerSkills
	layerTools
	layerHistory
	layerCurrentMessage
)

func (l layer) protected() bool {
	return l != layerMemory && l != layerHistory
}

type tagged struct {
	msg   providers.Message
	layer layer
}

// MemoryRanker selects which long-term memory entries make it into layer 3
// under budget pressure. The only open question spec.md leaves unresolved
// about the memory layer is *which* entries win when not all of them fit;
// this interface lets that policy vary without touching Build's call site.
type MemoryRanker interface {
	Rank(entries []memoryfile.Entry, budget int) []memoryfile.Entry
}

// recencyRanker implements MemoryRanker as "most-recent-N lines", exactly
// as spec.md prescribes for the memory layer. It is the only MemoryRanker
// this repo ships; a future relevance-ranked implementation is a drop-in
// replacement.
type recencyRanker struct{}

func (recencyRanker) Rank(entries []memoryfile.Entry, budget int) []memoryfile.Entry {
	if budget <= 0 || len(entries) <= budget {
		return entries
	}
	return entries[len(entries)-budget:]
}

// Builder assembles LlmMessage sequences per Config.
type Builder struct {
	cfg    Config
	ranker MemoryRanker

	skillsMu     sync.Mutex
	skillsCached bool // true once StartSkillsWatcher has armed the cache
	skillsDirty  bool
	skillsText   string
}

// New returns a Builder, filling in the spec-mandated defaults for any
// zero-valued size limit.
func New(cfg Config) *Builder {
	if cfg.MaxMemoryLines <= 0 {
		cfg.MaxMemoryLines = DefaultMaxMemoryLines
	}
	if cfg.MaxHistoryMessages <= 0 {
		cfg.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 4000
	}
	return &Builder{cfg: cfg, ranker: recencyRanker{}}
}

// Build assembles the full ordered message sequence for one turn: the
// session's prior messages (already clamped to whatever the caller wants
// considered, typically a full session clone) plus the new inbound user
// message.
func (b *Builder) Build(ctx context.Context, history []sessions.Message, userMessage string) ([]providers.Message, error) {
	system, bootstrapText, memoryText, skillsText, toolsText, err := b.loadLayers(ctx)
	if err != nil {
		return nil, err
	}

	var all []tagged
	all = append(all, tagged{providers.Message{Role: "system", Content: system}, layerSystem})
	all = append(all, tagged{providers.Message{Role: "system", Content: bootstrapText}, layerBootstrap})
	if memoryText != "" {
		all = append(all, tagged{providers.Message{Role: "system", Content: memoryText}, layerMemory})
	}
	if skillsText != "" {
		all = append(all, tagged{providers.Message{Role: "system", Content: skillsText}, layerSkills})
	}
	all = append(all, tagged{providers.Message{Role: "system", Content: toolsText}, layerTools})

	for _, m := range recentHistory(history, b.cfg.MaxHistoryMessages) {
		all = append(all, tagged{toProviderMessage(m), layerHistory})
	}

	all = append(all, tagged{providers.Message{Role: "user", Content: userMessage}, layerCurrentMessage})

	all = b.enforceBudget(all)

	out := make([]providers.Message, len(all))
	for i, t := range all {
		out[i] = t.msg
	}
	return out, nil
}

// loadLayers loads layers 1 (system files, in parallel) and 3/4/5
// (memory/skills/tools files, in parallel) per spec §4.D's I/O pattern.
func (b *Builder) loadLayers(ctx context.Context) (system, bootstrapText, memoryText, skillsText, toolsText string, err error) {
	var soul, agents string
	g1, gctx1 := errgroup.WithContext(ctx)
	g1.Go(func() error { soul = readOrDefault(gctx1, filepath.Join(b.cfg.Workspace, "SOUL.md"), "") ; return nil })
	g1.Go(func() error { agents = readOrDefault(gctx1, filepath.Join(b.cfg.Workspace, "AGENTS.md"), "") ; return nil })
	_ = g1.Wait()

	if soul == "" && agents == "" {
		system = "You are a helpful personal AI agent. Be concise and direct."
	} else {
		system = strings.TrimSpace(soul + "\n\n" + agents)
	}

	bootstrapText = b.buildBootstrap()

	g2, gctx2 := errgroup.WithContext(ctx)
	g2.Go(func() error { memoryText = b.loadMemory(gctx2); return nil })
	g2.Go(func() error { skillsText = b.loadSkills(gctx2); return nil })
	g2.Go(func() error { toolsText = readOrDefault(gctx2, filepath.Join(b.cfg.Workspace, "TOOLS.md"), "") ; return nil })
	_ = g2.Wait()

	return system, bootstrapText, memoryText, skillsText, toolsText, nil
}

func (b *Builder) buildBootstrap() string {
	return fmt.Sprintf(
		"Current time (UTC): %s\nAgent version: %s\nYou can read/write files in your workspace, run commands, fetch web pages, schedule jobs, and record memory.",
		time.Now().UTC().Format(time.RFC3339),
		b.cfg.AgentVersion,
	)
}

func (b *Builder) loadMemory(ctx context.Context) string {
	path := filepath.Join(b.cfg.Workspace, "memory", "MEMORY.md")
	f := memoryfile.NewFile(path)
	sections, err := f.Read()
	if err != nil {
		slog.Debug("long-term memory unavailable", "error", err)
		return ""
	}
	var entries []memoryfile.Entry
	for _, s := range sections {
		entries = append(entries, s.Entries...)
	}
	entries = b.ranker.Rank(entries, b.cfg.MaxMemoryLines)
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Long-term memory:\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// loadSkills returns the skills-layer bullet list, serving it from the
// fsnotify-backed cache when StartSkillsWatcher has armed one (see
// skillswatch.go) and recomputing from disk on every call otherwise — the
// Builder is fully correct without the watcher, just less cheap under
// frequent turns.
func (b *Builder) loadSkills(ctx context.Context) string {
	b.skillsMu.Lock()
	cached, dirty, have := b.skillsText, b.skillsDirty, b.skillsCached
	b.skillsMu.Unlock()
	if have && !dirty {
		return cached
	}

	text := b.computeSkillsText(ctx)

	if have {
		b.skillsMu.Lock()
		b.skillsText = text
		b.skillsDirty = false
		b.skillsMu.Unlock()
	}
	return text
}

func (b *Builder) computeSkillsText(ctx context.Context) string {
	root := filepath.Join(b.cfg.Workspace, "skills")
	entries, err := os.ReadDir(root)
	if err != nil {
		slog.Debug("skills directory unavailable", "error", err)
		return ""
	}

	var bullets []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, e.Name(), "SKILL.md")
		data, err := os.ReadFile(skillPath)
		if err != nil {
			continue
		}
		desc := firstDescriptionParagraph(string(data))
		if desc == "" {
			slog.Warn("skill has no readable description, skipping", "skill", e.Name())
			continue
		}
		bullets = append(bullets, fmt.Sprintf("- %s: %s", e.Name(), desc))
	}
	if len(bullets) == 0 {
		return ""
	}
	return "Available skills:\n" + strings.Join(bullets, "\n")
}

// firstDescriptionParagraph returns the first non-heading, non-blank
// paragraph of a SKILL.md body.
func firstDescriptionParagraph(content string) string {
	lines := strings.Split(content, "\n")
	var para []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		para = append(para, trimmed)
	}
	return strings.Join(para, " ")
}

func readOrDefault(_ context.Context, path, def string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("reading context file failed", "path", path, "error", err)
		}
		return def
	}
	return strings.TrimSpace(string(data))
}

// recentHistory returns at most the last limit messages, oldest first.
func recentHistory(history []sessions.Message, limit int) []sessions.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func toProviderMessage(m sessions.Message) providers.Message {
	out := providers.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}

// enforceBudget estimates total tokens as ceil(total_chars/4) and, while
// over cfg.MaxContextTokens, drops the oldest non-protected entry (memory
// first since it precedes history in layer order, then history), logging a
// DEBUG event with before/after counts.
func (b *Builder) enforceBudget(all []tagged) []tagged {
	before := len(all)
	for estimateTokens(all) > b.cfg.MaxContextTokens {
		idx := oldestDroppable(all)
		if idx < 0 {
			break
		}
		all = append(all[:idx], all[idx+1:]...)
	}
	if len(all) != before {
		slog.Debug("context truncated to fit token budget",
			"before_entries", before, "after_entries", len(all), "max_tokens", b.cfg.MaxContextTokens)
	}
	return all
}

func estimateTokens(all []tagged) int {
	chars := 0
	for _, t := range all {
		chars += utf8.RuneCountInString(t.msg.Content)
	}
	return (chars + 3) / 4
}

// oldestDroppable returns the index of the earliest non-protected entry,
// or -1 if none remain.
func oldestDroppable(all []tagged) int {
	for i, t := range all {
		if !t.layer.protected() {
			return i
		}
	}
	return -1
}
