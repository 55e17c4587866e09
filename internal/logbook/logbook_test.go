package logbook

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journey.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("reply-%d sent", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"reply-2", "reply-3", "reply-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestLevelsAreRecorded(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "nested", "journey.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Warn("session %s not ready", "s1")
	book.Error("load failed")
	book.Printf("conversation %s completed", "c1")
	lines, _ := book.Tail(10)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for idx, want := range []string{"WARN  session s1 not ready", "ERROR load failed", "INFO  conversation c1 completed"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, want %q", idx, lines[idx], want)
		}
	}
}

func TestMissingFileAndNilLogbook(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "journey.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(5); lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
	var nilBook *Logbook
	nilBook.Info("ignored")
	if nilBook.Path() != "" {
		t.Fatalf("nil logbook path should be empty")
	}
}
