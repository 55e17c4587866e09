package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewAppendsTimestampedLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Printf("first %d\n", 1)
	logger.Printf("second")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "[") || !strings.HasSuffix(lines[0], "] first 1") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
}

func TestWithPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf).With("api")
	logger.Printf("GET /api/bugs -> 200")
	if !strings.Contains(buf.String(), "] api: GET /api/bugs -> 200") {
		t.Fatalf("missing prefix: %q", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
	if logger.With("x") != nil {
		t.Fatalf("With on nil should stay nil")
	}
}
