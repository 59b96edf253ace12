package memoryfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	data := []byte(`## 2026-02-15
- bought milk (added at 2026-02-15T10:30:00Z)
- walked the dog (added at 2026-02-15T18:00:00Z)

## 2026-02-16
- finished the report (added at 2026-02-16T09:00:00Z)
`)
	sections := Parse(data)
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[0].Date != "2026-02-15" || len(sections[0].Entries) != 2 {
		t.Fatalf("got %+v", sections[0])
	}
	if sections[0].Entries[0].Content != "bought milk" {
		t.Fatalf("got %q", sections[0].Entries[0].Content)
	}
	if sections[1].Entries[0].Content != "finished the report" {
		t.Fatalf("got %q", sections[1].Entries[0].Content)
	}
}

func TestParseIgnoresMalformedLines(t *testing.T) {
	data := []byte("some preamble\n## not-a-date\n- no header above me (added at 2026-02-15T10:00:00Z)\n## 2026-02-15\nthis is not a bullet\n- valid entry (added at 2026-02-15T10:00:00Z)\n")
	sections := Parse(data)
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1 (malformed header line ignored)", len(sections))
	}
	if len(sections[0].Entries) != 1 || sections[0].Entries[0].Content != "valid entry" {
		t.Fatalf("got %+v", sections[0])
	}
}

func TestAppendCreatesHeaderAndIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MEMORY.md")
	f := NewFile(path)

	at := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	if err := f.Append("bought milk", at); err != nil {
		t.Fatal(err)
	}
	if err := f.Append("walked the dog", at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	sections, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 1 || len(sections[0].Entries) != 2 {
		t.Fatalf("got %+v", sections)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "## 2026-02-15") {
		t.Fatalf("expected date header in file: %s", raw)
	}
	if !strings.Contains(string(raw), "(added at 2026-02-15T10:30:00Z)") {
		t.Fatalf("expected ISO-8601 UTC timestamp in file: %s", raw)
	}
}

func TestAppendAcrossDaysAddsNewSection(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "MEMORY.md"))

	f.Append("day one", time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	f.Append("day two", time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC))

	sections, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
}

func TestFilePermissionsAre0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MEMORY.md")
	f := NewFile(path)
	if err := f.Append("hello", time.Now()); err != nil {
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

func TestTailReturnsMostRecentAcrossSections(t *testing.T) {
	sections := []Section{
		{Date: "2026-02-15", Entries: []Entry{{Content: "a"}, {Content: "b"}}},
		{Date: "2026-02-16", Entries: []Entry{{Content: "c"}}},
	}
	got := Tail(sections, 2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Fatalf("got %+v", got)
	}
}

func TestTailNotOverLimitReturnsAll(t *testing.T) {
	sections := []Section{{Date: "2026-02-15", Entries: []Entry{{Content: "a"}}}}
	got := Tail(sections, 100)
	if len(got) != 1 {
		t.Fatalf("got %d, want 1", len(got))
	}
}

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "does-not-exist.md"))
	sections, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if sections != nil {
		t.Fatalf("got %+v, want nil", sections)
	}
}
