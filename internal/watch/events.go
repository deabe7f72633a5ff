package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const eventBufferSize = 256

// Events triggers on filesystem notifications. Bursts are folded into one
// trigger once no event has arrived for the debounce period, and triggers
// that arrive while a sync runs collapse into a single follow-up sync.
type Events struct {
	root     string
	filters  []*regexp.Regexp
	debounce time.Duration

	raw     chan notify.EventInfo
	trigger chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewEvents subscribes to every change below opts.Root.
func NewEvents(opts Options) (*Events, error) {
	root, err := filepath.EvalSymlinks(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Events{
		root:     root,
		filters:  opts.Exclusions.CompileRegexes(),
		debounce: debounce,
		raw:      make(chan notify.EventInfo, eventBufferSize),
		trigger:  make(chan struct{}, 1),
	}
	if err := notify.Watch(root+"/...", w.raw, notify.All); err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

func (w *Events) Mode() string { return ModeEvents }

func (w *Events) Run(ctx context.Context, fn SyncFunc) error {
	slog.Info("file watcher start", "dir", w.root, "debounce", w.debounce)
	defer w.stop()

	go w.filterEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.trigger:
			runCycle(ctx, ModeEvents, fn)
		}
	}
}

// Excluded reports whether an absolute event path is ignored.
func (w *Events) Excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, re := range w.filters {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

func (w *Events) filterEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.raw:
			if !ok {
				return
			}
			if w.Excluded(ev.Path()) {
				continue
			}
			slog.Debug("file watcher", "event", ev.Event(), "path", ev.Path())
			w.debounceEvent()
		}
	}
}

func (w *Events) debounceEvent() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Events) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Events) stop() {
	notify.Stop(w.raw)

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
	slog.Info("file watcher stopped")
}
