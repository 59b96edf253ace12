// Package memoryfile implements the long-term memory file format from
// spec §6: an append-only markdown file with one "## YYYY-MM-DD" header
// per day and one "- content (added at ISO-8601-UTC)" bullet per entry.
//
// Authored against §3 (MemoryEntry/MemorySection) and §6 (file format),
// using the same temp-file/fsync/chmod-0600/rename/retry atomic-write
// sequence as internal/sessions/manager.go's writeSnapshot. The sequence is
// a separate copy here (atomicWrite below), not a helper shared with
// sessions.
package memoryfile

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/merr"
	"github.com/nextlevelbuilder/miniclaw/internal/retry"
)

// MaxWarnBytes is the size past which a write still succeeds but logs a
// WARN (spec §4.E write_memory tool contract: "WARN if a file exceeds 1 MB,
// but never fail").
const MaxWarnBytes = 1 << 20

// MaxShortTermEntries bounds the in-memory-only short-term memory buffer
// (spec §3).
const MaxShortTermEntries = 100

// Entry is one memory bullet: its text and when it was recorded.
type Entry struct {
	Content   string
	Timestamp time.Time
}

// Section groups a calendar date's entries, the unit the markdown file is
// organized by.
type Section struct {
	Date    string // YYYY-MM-DD
	Entries []Entry
}

var headerRe = regexp.MustCompile(`^##\s+(\d{4}-\d{2}-\d{2})\s*$`)
var bulletRe = regexp.MustCompile(`^-\s+(.*)\s+\(added at (.+)\)\s*$`)

// Parse reads a long-term memory markdown file's bytes into ordered
// Sections. Malformed lines (no recognized header or bullet shape) are
// skipped rather than erroring — a hand-edited memory file should degrade
// gracefully, the same stance the Context Builder takes toward missing
// optional files.
func Parse(data []byte) []Section {
	var sections []Section
	var current *Section

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := headerRe.FindStringSubmatch(line); m != nil {
			sections = append(sections, Section{Date: m[1]})
			current = &sections[len(sections)-1]
			continue
		}
		if current == nil {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			ts, err := time.Parse(time.RFC3339, m[2])
			if err != nil {
				ts = time.Time{}
			}
			current.Entries = append(current.Entries, Entry{Content: m[1], Timestamp: ts})
		}
	}
	return sections
}

// Tail flattens every section's entries in file order and returns the most
// recent n (the recencyRanker's only policy: take the tail of the slice).
func Tail(sections []Section, n int) []Entry {
	var all []Entry
	for _, s := range sections {
		all = append(all, s.Entries...)
	}
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// File is a handle to one long-term memory markdown file, guarded by a
// per-file write mutex per spec §6 ("writes are gated by a per-file write
// mutex").
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a handle for the memory markdown file at path. The file
// need not exist yet; Append creates it on first use.
func NewFile(path string) *File {
	return &File{path: path}
}

// Read returns the file's parsed sections, or an empty slice if the file
// does not exist yet.
func (f *File) Read() ([]Section, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, merr.New(merr.KindIO, merr.SeverityMedium, "reading memory file", err)
	}
	return Parse(data), nil
}

// Append adds one entry under today's (UTC) date header, creating the
// header if this is the first entry for the day, and persists the file via
// the atomic-write protocol. WARN-but-succeed once the file exceeds
// MaxWarnBytes, never fail on size alone.
func (f *File) Append(content string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sections, err := f.readLocked()
	if err != nil {
		return err
	}

	date := at.UTC().Format("2006-01-02")
	entry := Entry{Content: content, Timestamp: at.UTC()}

	appended := false
	for i := range sections {
		if sections[i].Date == date {
			sections[i].Entries = append(sections[i].Entries, entry)
			appended = true
			break
		}
	}
	if !appended {
		sections = append(sections, Section{Date: date, Entries: []Entry{entry}})
	}

	return f.writeLocked(sections)
}

func (f *File) readLocked() ([]Section, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, merr.New(merr.KindIO, merr.SeverityMedium, "reading memory file", err)
	}
	return Parse(data), nil
}

func render(sections []Section) []byte {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString("## ")
		b.WriteString(s.Date)
		b.WriteString("\n")
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "- %s (added at %s)\n", e.Content, e.Timestamp.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func (f *File) writeLocked(sections []Section) error {
	data := render(sections)

	if len(data) > MaxWarnBytes {
		slog.Warn("memory file exceeds size threshold", "path", filepath.Base(f.path), "bytes", len(data))
	}

	dir := filepath.Dir(f.path)
	attemptErr := retry.Do(context.Background(), retry.SessionWrite, func(err error) bool { return err != nil }, func(attempt int) error {
		return atomicWrite(dir, f.path, data)
	})
	if attemptErr != nil {
		return merr.New(merr.KindIO, merr.SeverityHigh, "persisting memory file", attemptErr).WithRetryable(true)
	}
	return nil
}

func atomicWrite(dir, finalPath string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "memory-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}
