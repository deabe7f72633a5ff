package transfer

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Scratch tracks the temporary output files of subprocess invocations so
// that every one of them is removed, either when its owner releases it or
// on teardown.
type Scratch struct {
	dir   string
	files map[string]*os.File
	mu    sync.Mutex
}

// NewScratch creates a registry that places files in dir (os.TempDir when
// empty).
func NewScratch(dir string) *Scratch {
	return &Scratch{
		dir:   dir,
		files: make(map[string]*os.File),
	}
}

// Create opens a fresh private temp file and registers it.
func (s *Scratch) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	s.mu.Lock()
	s.files[f.Name()] = f
	s.mu.Unlock()
	return f, nil
}

// Release closes and removes f. Releasing an unknown or already released
// file is a no-op.
func (s *Scratch) Release(f *os.File) {
	if f == nil {
		return
	}

	s.mu.Lock()
	_, ok := s.files[f.Name()]
	delete(s.files, f.Name())
	s.mu.Unlock()

	if ok {
		remove(f)
	}
}

// ReleaseAll removes every file still registered.
func (s *Scratch) ReleaseAll() {
	s.mu.Lock()
	files := s.files
	s.files = make(map[string]*os.File)
	s.mu.Unlock()

	for _, f := range files {
		remove(f)
	}
}

// Len is the number of files currently registered.
func (s *Scratch) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func remove(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		slog.Warn("scratch remove", "path", f.Name(), "error", err)
	}
}
