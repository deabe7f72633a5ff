package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/mirrorctl/internal/exclude"
	"github.com/spf13/afero"
)

var errFound = errors.New("found")

// Poll compares file modification times against a marker file. The marker
// is advanced to the start of every scan that found something, so changes
// made while a scan or a sync runs are picked up next time.
type Poll struct {
	fs       afero.Fs
	clock    clockwork.Clock
	root     string
	marker   string
	interval time.Duration
	matcher  *exclude.Matcher
}

func NewPoll(opts Options) *Poll {
	p := &Poll{
		fs:       opts.Fs,
		clock:    opts.Clock,
		root:     filepath.Clean(opts.Root),
		marker:   opts.MarkerPath,
		interval: opts.Interval,
		matcher:  opts.Exclusions.Matcher(),
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.marker == "" {
		p.marker = p.root + ".mirrorctl-watch"
	}
	return p
}

func (p *Poll) Mode() string { return ModePoll }

// Init stamps the marker with the current time.
func (p *Poll) Init() error {
	if err := p.fs.MkdirAll(filepath.Dir(p.marker), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	if err := afero.WriteFile(p.fs, p.marker, nil, 0o644); err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	return p.stamp(p.clock.Now())
}

// Check scans for regular files and directories, the root included,
// modified after the marker and, when there are any, moves the marker to
// scanStart.
func (p *Poll) Check(scanStart time.Time) (bool, error) {
	info, err := p.fs.Stat(p.marker)
	if err != nil {
		if !isNotExist(err) {
			return false, fmt.Errorf("stat marker: %w", err)
		}
		// marker vanished: everything counts as new
		info = nil
	}

	var since time.Time
	if info != nil {
		since = info.ModTime()
	}

	err = afero.Walk(p.fs, p.root, func(path string, fi fs.FileInfo, err error) error {
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return err
		}
		if path == p.marker {
			return nil
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		if path != p.root && p.matcher.Match(filepath.ToSlash(rel)) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// deletions and renames only bump the parent directory
		if (fi.IsDir() || fi.Mode().IsRegular()) && fi.ModTime().After(since) {
			slog.Debug("poll change", "path", rel)
			return errFound
		}
		return nil
	})

	switch {
	case errors.Is(err, errFound):
	case err != nil:
		return false, fmt.Errorf("scan %s: %w", p.root, err)
	default:
		return false, nil
	}

	if info == nil {
		if err := afero.WriteFile(p.fs, p.marker, nil, 0o644); err != nil {
			return true, fmt.Errorf("recreate marker: %w", err)
		}
	}
	return true, p.stamp(scanStart)
}

func (p *Poll) Run(ctx context.Context, fn SyncFunc) error {
	if err := p.Init(); err != nil {
		return err
	}
	slog.Info("poll watcher start", "dir", p.root, "interval", p.interval)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			scanStart := p.clock.Now()
			changed, err := p.Check(scanStart)
			if err != nil {
				slog.Warn("poll scan", "error", err)
				continue
			}
			if changed {
				runCycle(ctx, ModePoll, fn)
			}
		}
	}
}

func (p *Poll) stamp(t time.Time) error {
	if err := p.fs.Chtimes(p.marker, t, t); err != nil {
		return fmt.Errorf("stamp marker: %w", err)
	}
	return nil
}
