// Package daemonlog provides the daemon's process-wide structured log, an
// append-only file with an optional live broadcaster for the admin feed
// (grounded on strongdm-leash's lsm.SharedLogger). It is independent of
// the Decision Logger's framed wire records (internal/eventlog): this log
// carries human-diagnostic lines, not decision telemetry.
package daemonlog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log line's severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Broadcaster receives a copy of every logged line, e.g. for the
// websocket-based admin feed.
type Broadcaster interface {
	BroadcastLog(line string)
}

// Logger is a single append-only log file shared across the daemon's
// components, synchronized by a mutex like strongdm-leash's SharedLogger.
type Logger struct {
	path string

	mu          sync.Mutex
	file        *os.File
	broadcaster Broadcaster
}

// Open creates or appends to the log file at path. An empty path yields a
// Logger that only broadcasts, writing nothing to disk.
func Open(path string) (*Logger, error) {
	l := &Logger{path: path}
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemonlog: open %q: %w", path, err)
	}
	l.file = f
	return l, nil
}

// Path returns the backing file path, or "" for a broadcast-only Logger.
func (l *Logger) Path() string { return l.path }

// SetBroadcaster installs the live-feed broadcaster.
func (l *Logger) SetBroadcaster(b Broadcaster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcaster = b
}

// Logf formats and appends one log line, broadcasting a copy if a
// broadcaster is installed.
func (l *Logger) Logf(level Level, component, format string, args ...any) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s %-5s [%s] %s", time.Now().UTC().Format(time.RFC3339Nano), level, component, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		fmt.Fprintln(l.file, line)
		l.file.Sync()
	}
	if l.broadcaster != nil {
		l.broadcaster.BroadcastLog(line)
	}
}

func (l *Logger) Info(component, format string, args ...any)  { l.Logf(LevelInfo, component, format, args...) }
func (l *Logger) Warn(component, format string, args ...any)  { l.Logf(LevelWarn, component, format, args...) }
func (l *Logger) Error(component, format string, args ...any) { l.Logf(LevelError, component, format, args...) }

// Close closes the backing file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
