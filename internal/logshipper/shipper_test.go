package logshipper

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShipper_TailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("line one\nline two\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	var lines []Line
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines = s.Drain()
		if len(lines) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2", lines)
	}
	if lines[0].Text != "line one" || lines[1].Text != "line two" {
		t.Errorf("lines = %+v", lines)
	}
	if lines[0].File != path {
		t.Errorf("File = %q, want %q", lines[0].File, path)
	}
}

func TestShipper_DrainIsEmptyWhenNothingWritten(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if lines := s.Drain(); lines != nil {
		t.Errorf("Drain() = %v, want nil", lines)
	}
}
