package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("MINICLAW_API_KEY", "env-key")
	t.Setenv("MINICLAW_MODEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("got api key %q, want env-key", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Fatalf("got model %q, want default", cfg.Model)
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	path := writeTempConfig(t, `{
		// a comment, since this is json5
		"api_key": "file-key",
		"model": "file-model",
		"allow_from": [111, "222", -1],
	}`)
	t.Setenv("MINICLAW_MODEL", "env-model")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "file-key" {
		t.Fatalf("got api key %q, want file-key", cfg.APIKey)
	}
	if cfg.Model != "env-model" {
		t.Fatalf("env override should win over file value, got %q", cfg.Model)
	}
	want := []int64{111, 222, -1}
	if len(cfg.AllowFrom) != len(want) {
		t.Fatalf("got %v, want %v", cfg.AllowFrom, want)
	}
	for i, v := range want {
		if int64(cfg.AllowFrom[i]) != v {
			t.Fatalf("allow_from[%d] = %d, want %d", i, cfg.AllowFrom[i], v)
		}
	}
}

func TestApplyFlagOverridesWinsOverFileAndEnv(t *testing.T) {
	path := writeTempConfig(t, `{"api_key": "k", "model": "file-model"}`)
	t.Setenv("MINICLAW_MODEL", "env-model")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ApplyFlagOverrides("flag-model", "")
	if cfg.Model != "flag-model" {
		t.Fatalf("got %q, want flag-model", cfg.Model)
	}
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing api_key")
	}
}

func TestValidateRejectsZeroAllowFromEntry(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "k"
	cfg.AllowFrom = FlexibleInt64Slice{0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero allow_from entry")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := ExpandHome("~/.miniclaw/workspace")
	want := filepath.Join(home, ".miniclaw/workspace")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSaveWritesMode0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()
	cfg.APIKey = "k"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("got mode %v, want 0600", info.Mode().Perm())
	}
}
