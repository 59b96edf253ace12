// Package config loads and validates the runtime's single configuration
// document. Config is a versionless JSON(5) file at ~/.miniclaw/config.json,
// read through a file-then-env-then-CLI-flag precedence chain, down to the
// flat shape spec §6 names — no multi-agent/multi-channel/sandbox nesting.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/miniclaw/internal/merr"
)

// FlexibleInt64Slice unmarshals a JSON array of numbers (or numeric
// strings) into a []int64, tolerating the common hand-edited-config typo of
// quoting a number or passing a single bare value instead of an array.
type FlexibleInt64Slice []int64

// UnmarshalJSON accepts a JSON array of numbers/strings, or a single
// number/string, decoding permissively the way a hand-edited JSON5 file
// is likely to be malformed.
func (s *FlexibleInt64Slice) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = nil
		return nil
	}

	if !strings.HasPrefix(trimmed, "[") {
		v, err := parseFlexibleInt64(trimmed)
		if err != nil {
			return err
		}
		*s = FlexibleInt64Slice{v}
		return nil
	}

	var raw []json5RawValue
	if err := json5.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FlexibleInt64Slice, 0, len(raw))
	for _, r := range raw {
		v, err := parseFlexibleInt64(string(r))
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*s = out
	return nil
}

// json5RawValue defers decoding of one array element so it can be parsed
// as either a number or a quoted numeric string.
type json5RawValue []byte

func (r *json5RawValue) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func parseFlexibleInt64(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("allow_from entry %q is not an integer: %w", s, err)
	}
	return v, nil
}

// Provider holds one LLM provider's connection settings. Config carries a
// map of these so a user may define a default plus overrides, without a
// full multi-provider registry.
type Provider struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Config is the full set of recognized keys from spec §6, plus the
// providers map for the provider-specific blocks it mentions.
type Config struct {
	mu sync.RWMutex `json:"-"`

	APIKey         string                `json:"api_key"`
	Model          string                `json:"model"`
	TelegramToken  string                `json:"telegram_token,omitempty"`
	DiscordToken   string                `json:"discord_token,omitempty"`
	AllowFrom      FlexibleInt64Slice    `json:"allow_from"`
	SpawnLogOutput bool                  `json:"spawn_log_output"`
	Providers      map[string]Provider   `json:"providers,omitempty"`
	Workspace      string                `json:"workspace,omitempty"`
	MaxContextTokens int                 `json:"max_context_tokens,omitempty"`
	SummarizationEnabled bool            `json:"summarization_enabled,omitempty"`
}

// Default returns the zero-value baseline before file/env/flag overlays are
// applied.
func Default() *Config {
	return &Config{
		Model:            "gpt-4o-mini",
		MaxContextTokens: 4000,
		Workspace:        "~/.miniclaw/workspace",
	}
}

// Load reads path (if present), applies environment overrides, and
// validates the result. A missing file is not an error — Default() plus
// env overrides plus flags may be a complete config on its own.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := json5.Unmarshal(data, cfg); uerr != nil {
			return nil, merr.New(merr.KindConfig, merr.SeverityFatal,
				fmt.Sprintf("parsing config file %s", filepath.Base(path)), uerr)
		}
	case os.IsNotExist(err):
		// No file yet; env/flags and defaults must suffice.
	default:
		return nil, merr.New(merr.KindIO, merr.SeverityFatal, "reading config file", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers MINICLAW_* environment variables on top of the
// file contents.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MINICLAW_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("MINICLAW_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("MINICLAW_TELEGRAM_TOKEN"); v != "" {
		c.TelegramToken = v
	}
	if v := os.Getenv("MINICLAW_DISCORD_TOKEN"); v != "" {
		c.DiscordToken = v
	}
	if v := os.Getenv("MINICLAW_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("MINICLAW_ALLOW_FROM"); v != "" {
		parts := strings.Split(v, ",")
		ids := make(FlexibleInt64Slice, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				if id, err := strconv.ParseInt(p, 10, 64); err == nil {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) > 0 {
			c.AllowFrom = ids
		}
	}
	if v := os.Getenv("MINICLAW_SPAWN_LOG_OUTPUT"); v != "" {
		c.SpawnLogOutput = v == "1" || strings.EqualFold(v, "true")
	}
}

// ApplyFlagOverrides layers CLI-flag values on top, completing the
// file<env<flag precedence chain. Empty strings/zero values are treated as
// "flag not set" and left alone.
func (c *Config) ApplyFlagOverrides(model, workspace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model != "" {
		c.Model = model
	}
	if workspace != "" {
		c.Workspace = workspace
	}
}

// Validate checks the minimal set of invariants the runtime depends on.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return merr.New(merr.KindConfig, merr.SeverityFatal, "api_key is required", nil)
	}
	if c.Model == "" {
		return merr.New(merr.KindConfig, merr.SeverityFatal, "model is required", nil)
	}
	for _, id := range c.AllowFrom {
		// -1 is the allow-all sentinel (see internal/whitelist).
		if id <= 0 && id != -1 {
			return merr.New(merr.KindConfig, merr.SeverityFatal, "allow_from entries must be positive (or -1 to allow everyone)", nil)
		}
	}
	return nil
}

// ExpandHome resolves a leading "~" in path to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// WorkspacePath returns the configured workspace with "~" expanded.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}

// Save writes cfg back to path atomically-ish (direct WriteFile is
// acceptable here: config is operator-edited, not contended like session
// files) with mode 0600 per spec §6.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return merr.New(merr.KindSerialization, merr.SeverityHigh, "marshaling config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return merr.New(merr.KindIO, merr.SeverityHigh, "writing config file", err)
	}
	return nil
}
