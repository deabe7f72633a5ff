package progress

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultInterval = 150 * time.Millisecond

// Source is the growing output of a running transfer.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
	// Done is closed once the writer has finished.
	Done() <-chan struct{}
}

// Renderer receives the events produced by the reporter.
type Renderer interface {
	Render(events []Event)
}

// Monitor polls a Source and feeds everything new to a Reporter. Reads start
// at the last consumed offset and never wait on the writer.
type Monitor struct {
	Interval time.Duration
	Clock    clockwork.Clock

	offset int64
	buf    []byte
}

func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{Interval: interval, Clock: clockwork.NewRealClock()}
}

// Run polls until the source is done, then performs a last read so that no
// trailing output is lost. It returns ctx.Err() if ctx ends first.
func (m *Monitor) Run(ctx context.Context, src Source, r *Reporter, out Renderer) error {
	if m.Clock == nil {
		m.Clock = clockwork.NewRealClock()
	}
	ticker := m.Clock.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		if err := m.poll(src, r, out); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-src.Done():
			return m.poll(src, r, out)
		case <-ticker.Chan():
		}
	}
}

// Offset is how many bytes have been consumed.
func (m *Monitor) Offset() int64 {
	return m.offset
}

func (m *Monitor) poll(src Source, r *Reporter, out Renderer) error {
	if m.buf == nil {
		m.buf = make([]byte, 32*1024)
	}

	var chunk []byte
	for {
		n, err := src.ReadAt(m.buf, m.offset)
		if n > 0 {
			chunk = append(chunk, m.buf[:n]...)
			m.offset += int64(n)
		}
		if errors.Is(err, io.EOF) || n == 0 {
			break
		}
		if err != nil {
			return err
		}
	}

	if events := r.Update(chunk, m.Clock.Now()); len(events) > 0 {
		out.Render(events)
	}
	return nil
}
