// Package utils holds the small filesystem and logging helpers shared by the
// mirrorctl packages.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogInterceptor prefixes every complete line written to it with a running
// line number and a timestamp before passing it to the target. A trailing
// partial line is held back until it is completed or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	pending bytes.Buffer
	line    uint64
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

// Write always consumes all of p; an error means the target failed.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.emit(bytes.TrimRight(line, "\r\n")); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close flushes a partial last line. It does not close the target.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := bytes.TrimRight(i.pending.Bytes(), "\r\n")
	i.pending.Reset()
	return i.emit(line)
}

func (i *LogInterceptor) emit(line []byte) error {
	i.line++
	var b bytes.Buffer
	b.WriteString(slog.Uint64("line", i.line).String())
	b.WriteByte(' ')
	b.WriteString(slog.String("time", i.now().Format(time.RFC3339)).String())
	b.WriteByte(' ')
	b.Write(line)
	b.WriteByte('\n')
	_, err := i.target.Write(b.Bytes())
	return err
}
