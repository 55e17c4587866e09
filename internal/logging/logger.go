package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the diagnostics log inside the logs directory.
const FileName = "alia.log"

// Logger appends timestamped lines to <logs dir>/alia.log so users can
// inspect backend failures after the terminal UI has closed.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	prefix string
}

// New creates (or reuses) the log file inside logDir.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, closer: f}, nil
}

// NewWriter logs to w. The CLI subcommands use it with os.Stderr.
func NewWriter(w io.Writer) *Logger {
	return &Logger{out: w}
}

// With returns a logger sharing the same output that prefixes every line.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{out: &lockedWriter{l: l}, prefix: l.prefix + prefix + ": "}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s%s\n", timestamp, l.prefix, line)
}

type lockedWriter struct {
	l *Logger
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.out.Write(p)
}
