// Package watch re-runs a sync whenever files under the local root change,
// either from filesystem notifications or by polling.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/mirrorctl/internal/exclude"
	"github.com/spf13/afero"
)

const (
	ModeAuto   = "auto"
	ModeEvents = "events"
	ModePoll   = "poll"

	DefaultInterval = 2 * time.Second
	DefaultDebounce = 500 * time.Millisecond
)

// SyncFunc is called once per detected batch of changes.
type SyncFunc func(ctx context.Context) error

// Driver blocks in Run until ctx ends. A failing SyncFunc is logged and the
// driver keeps watching.
type Driver interface {
	Run(ctx context.Context, fn SyncFunc) error
	Mode() string
}

type Options struct {
	Root       string
	Mode       string
	Exclusions exclude.Set
	Interval   time.Duration
	Debounce   time.Duration
	// MarkerPath is the polling timestamp file. It should live outside Root.
	MarkerPath string

	Fs    afero.Fs
	Clock clockwork.Clock
}

// New picks the driver for opts.Mode. In auto mode a failed notification
// subscription falls back to polling.
func New(opts Options) (Driver, error) {
	switch opts.Mode {
	case ModePoll:
		return NewPoll(opts), nil
	case ModeEvents:
		return NewEvents(opts)
	default:
		ev, err := NewEvents(opts)
		if err != nil {
			slog.Warn("file notifications unavailable, polling instead", "root", opts.Root, "error", err)
			return NewPoll(opts), nil
		}
		return ev, nil
	}
}

// runCycle runs one sync and logs the outcome under a short cycle id.
func runCycle(ctx context.Context, mode string, fn SyncFunc) {
	log := slog.With("cycle", uuid.NewString()[:8], "mode", mode)
	log.Info("watch sync start")

	start := time.Now()
	err := fn(ctx)
	switch {
	case err == nil:
		log.Info("watch sync done", "elapsed", time.Since(start))
	case ctx.Err() != nil:
		log.Debug("watch sync interrupted", "error", err)
	default:
		log.Error("watch sync failed", "error", err)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
