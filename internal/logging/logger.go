// Package logging provides leveled logging and trial tracing for rulesim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (progress and diagnostics)
//   - A TrialLogger for structured JSONL per-trial traces (<dir>/trials.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level every trial's
// mined rule set is included in traces.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a level name to a slog.Level.
// Supported values: "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing text records to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// TrialLogger appends one JSON object per experiment trial to a JSONL file.
// It is safe for concurrent use. A nil TrialLogger is valid; every method is
// a no-op on a nil receiver.
type TrialLogger struct {
	mu    sync.Mutex
	file  *os.File
	level slog.Level
}

// NewTrialLogger opens dir/trials.jsonl for append. At info level or above it
// returns nil and creates nothing. It also returns nil when the file cannot
// be opened.
func NewTrialLogger(dir string, level string) *TrialLogger {
	lvl := ParseLevel(level)
	if lvl > slog.LevelDebug {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, "trials.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &TrialLogger{file: f, level: lvl}
}

// Verbose reports whether traces should carry full rule sets.
func (tl *TrialLogger) Verbose() bool {
	return tl != nil && tl.level <= LevelTrace
}

// Log writes event as a single JSONL line with a "time" field added. The
// caller's map is not mutated.
func (tl *TrialLogger) Log(event map[string]any) {
	if tl == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	_, _ = tl.file.Write(data)
}

// Close closes the underlying file.
func (tl *TrialLogger) Close() {
	if tl == nil {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.file != nil {
		tl.file.Close()
		tl.file = nil
	}
}
