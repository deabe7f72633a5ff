package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openmined/mirrorctl/internal/lock"
	"github.com/openmined/mirrorctl/internal/progress"
	"github.com/openmined/mirrorctl/internal/transfer"
)

// Transport runs the plan and apply phases of a directive.
type Transport interface {
	Plan(ctx context.Context, d transfer.Directive) (*transfer.Output, error)
	Apply(ctx context.Context, d transfer.Directive, useDelete bool) (Running, error)
}

// Running is an apply in progress.
type Running interface {
	progress.Source
	Wait() (int, error)
	Output() ([]byte, error)
	Close() error
}

type invokerTransport struct {
	inv *transfer.Invoker
}

// InvokerTransport runs directives through rsync.
func InvokerTransport(inv *transfer.Invoker) Transport {
	return invokerTransport{inv: inv}
}

func (t invokerTransport) Plan(ctx context.Context, d transfer.Directive) (*transfer.Output, error) {
	return t.inv.Plan(ctx, d)
}

func (t invokerTransport) Apply(ctx context.Context, d transfer.Directive, useDelete bool) (Running, error) {
	h, err := t.inv.Apply(ctx, d, useDelete)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Session owns everything that must be given back when the process stops,
// however it stops: the running child, scratch files, the terminal cursor and
// the process lock.
type Session struct {
	Invoker  *transfer.Invoker
	Scratch  *transfer.Scratch
	Terminal *progress.Terminal
	Lock     *lock.Lock

	once sync.Once
}

// Teardown releases the session. Only the first call does anything.
func (s *Session) Teardown() {
	s.once.Do(func() {
		if s.Invoker != nil {
			s.Invoker.Terminate()
		}
		if s.Scratch != nil {
			s.Scratch.ReleaseAll()
		}
		if s.Terminal != nil {
			s.Terminal.RestoreCursor()
		}
		if s.Lock != nil {
			if err := s.Lock.Release(); err != nil {
				slog.Warn("lock release", "error", err)
			}
		}
		slog.Debug("session teardown")
	})
}
