// Package obs wires the runtime's structured logging subscriber.
package obs

import (
	"log/slog"
	"os"

	"github.com/mattn/go-runewidth"
)

// Setup installs the process-wide slog handler: structured text to stderr,
// level gated by verbose. Stdout is left untouched — command results go
// there, never log output.
func Setup(verbose bool, jsonLogs bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// TruncateForLog shortens s to at most width display columns for a log
// preview, counting double-width runes (CJK, emoji) as two columns so a
// truncation point never lands inside a glyph.
func TruncateForLog(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
