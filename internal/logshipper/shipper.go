// Package logshipper watches a directory of log files with fsnotify and
// tails appended lines, handing them off in batches for the logger worker
// to forward to the control plane as log-category signals.
package logshipper

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Shipper tails writes to files under a watched directory and buffers
// newly appended lines per file until Drain is called.
type Shipper struct {
	watcher *fsnotify.Watcher
	dir     string

	mu      sync.Mutex
	offsets map[string]int64
	pending []Line
}

// Line is one appended log line attributed to its source file.
type Line struct {
	File string
	Text string
}

// New starts watching dir for file writes.
func New(dir string) (*Shipper, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch log directory %s: %w", dir, err)
	}

	s := &Shipper{
		watcher: watcher,
		dir:     dir,
		offsets: make(map[string]int64),
	}
	go s.run()
	return s, nil
}

func (s *Shipper) run() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.readNewLines(event.Name)
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Shipper) readNewLines(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	s.mu.Lock()
	offset := s.offsets[path]
	s.mu.Unlock()

	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	var lines []Line
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, Line{File: path, Text: scanner.Text()})
	}

	pos, err := f.Seek(0, 1)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.offsets[path] = pos
	s.pending = append(s.pending, lines...)
	s.mu.Unlock()
}

// Drain returns and clears every line buffered since the last Drain call.
func (s *Shipper) Drain() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (s *Shipper) Close() error {
	return s.watcher.Close()
}
