// Package lock keeps two mirrorctl processes from syncing the same project at
// the same time.
//
// A lock is a directory created with a single mkdir, which is atomic on every
// filesystem mirrorctl cares about. The directory holds a pid file naming the
// owner. A record whose owner is gone is reclaimed; the reclaim itself is
// serialized with an advisory file lock so that two processes never both
// decide to take over the same stale record.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	pidFile = "pid"
	// a record without a readable pid younger than this is still being written
	pidGrace = 2 * time.Second
)

// ContentionError is returned when a live process holds the lock.
type ContentionError struct {
	Path string
	PID  int // 0 when the holder has not written its pid yet
}

func (e *ContentionError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("another instance is starting (lock %s)", e.Path)
	}
	return fmt.Sprintf("another instance is running with pid %d (lock %s)", e.PID, e.Path)
}

// processAlive reports whether pid names a running process.
var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

type Lock struct {
	path string
	pid  int

	mu   sync.Mutex
	held bool
}

// New returns a lock for the record at path. Nothing is touched on disk.
func New(path string) *Lock {
	return &Lock{path: path, pid: os.Getpid()}
}

// PathFor names the lock record of the project rooted at projectRoot inside
// dir. Projects with the same base name in different places get different
// records.
func PathFor(dir, projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := sha256.Sum256([]byte(abs))

	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, filepath.Base(abs))

	return filepath.Join(dir, name+"-"+hex.EncodeToString(sum[:4])+".lock")
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquire takes the lock or fails with *ContentionError when a live process
// holds it. Filesystem errors other than "already exists" fail immediately.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	err := l.create()
	if err == nil {
		l.held = true
		slog.Debug("lock acquired", "path", l.path, "pid", l.pid)
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return err
	}

	if pid, live := inspect(l.path); live {
		return &ContentionError{Path: l.path, PID: pid}
	}
	if err := l.reclaim(); err != nil {
		return err
	}
	l.held = true
	return nil
}

// Release removes the record if it still names this process. It is safe to
// call any number of times.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	pid, err := readPID(l.path)
	if err != nil || pid != l.pid {
		slog.Warn("lock record changed owner, leaving it", "path", l.path, "pid", pid)
		return nil
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("remove lock: %w", err)
	}
	slog.Debug("lock released", "path", l.path)
	return nil
}

// Holder returns the pid recorded at path and whether that process is alive.
// A missing record returns 0, false.
func Holder(path string) (int, bool) {
	if _, err := os.Stat(path); err != nil {
		return 0, false
	}
	return inspect(path)
}

func (l *Lock) create() error {
	if err := os.Mkdir(l.path, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("create lock: %w", err)
	}

	// write then rename so readers never see a partial pid
	tmp := filepath.Join(l.path, pidFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(l.pid)+"\n"), 0o600); err != nil {
		os.RemoveAll(l.path)
		return fmt.Errorf("write lock pid: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(l.path, pidFile)); err != nil {
		os.RemoveAll(l.path)
		return fmt.Errorf("write lock pid: %w", err)
	}
	return nil
}

func (l *Lock) reclaim() error {
	guard := flock.New(l.path + ".reclaim")
	locked, err := guard.TryLock()
	if err != nil {
		return fmt.Errorf("lock reclaim guard: %w", err)
	}
	if !locked {
		return &ContentionError{Path: l.path}
	}
	defer guard.Unlock()

	// the record may have been reclaimed while we waited for the guard
	pid, live := inspect(l.path)
	if live {
		return &ContentionError{Path: l.path, PID: pid}
	}

	slog.Warn("reclaiming stale lock", "path", l.path, "pid", pid)
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	if err := l.create(); err != nil {
		if errors.Is(err, fs.ErrExist) {
			pid, _ := readPID(l.path)
			return &ContentionError{Path: l.path, PID: pid}
		}
		return err
	}
	return nil
}

// inspect decides whether the record at path belongs to a live process.
func inspect(path string) (int, bool) {
	pid, err := readPID(path)
	if err != nil {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return 0, false
		}
		return 0, time.Since(info.ModTime()) < pidGrace
	}
	return pid, processAlive(pid)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(filepath.Join(path, pidFile))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse lock pid: %w", err)
	}
	return pid, nil
}
