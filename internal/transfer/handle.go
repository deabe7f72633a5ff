package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Handle is a running apply subprocess. Its combined output grows in a
// private temp file that can be read concurrently with ReadAt.
type Handle struct {
	ctx context.Context
	inv *Invoker
	cmd *exec.Cmd
	out *os.File

	waitOnce sync.Once
	code     int
	err      error
	done     chan struct{}

	closeOnce sync.Once
}

func newHandle(ctx context.Context, inv *Invoker, cmd *exec.Cmd, out *os.File) *Handle {
	return &Handle{
		ctx:  ctx,
		inv:  inv,
		cmd:  cmd,
		out:  out,
		done: make(chan struct{}),
	}
}

// ReadAt reads output bytes written so far. It never blocks on the child.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.out.ReadAt(p, off)
}

// Output returns the complete output. Meaningful after Wait.
func (h *Handle) Output() ([]byte, error) {
	info, err := h.out.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat apply output: %w", err)
	}
	buf := make([]byte, info.Size())
	n, err := h.out.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read apply output: %w", err)
	}
	return buf[:n], nil
}

// Done is closed once the child has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the child exits and returns its exit code. It is safe to
// call more than once.
func (h *Handle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		h.code, h.err = h.inv.wait(h.ctx, h.cmd)
		close(h.done)
	})
	<-h.done
	return h.code, h.err
}

// Close removes the output file. It does not wait for the child.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.inv.scratch().Release(h.out)
	})
	return nil
}
