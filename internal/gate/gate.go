// Package gate decides whether pending deletions are applied.
package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Decision is the outcome of the deletion gate.
type Decision int

const (
	WithoutDelete Decision = iota
	WithDelete
	Cancelled
)

func (d Decision) String() string {
	switch d {
	case WithDelete:
		return "with-delete"
	case WithoutDelete:
		return "without-delete"
	default:
		return "cancelled"
	}
}

const DefaultMaxListed = 25

var (
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	delStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Gate asks the user about deletions. Interactive must be false whenever In
// is not attached to a terminal; the gate then never reads from In.
type Gate struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
	// MaxListed caps the number of paths printed; the full count is always shown.
	MaxListed int
}

func New(in io.Reader, out io.Writer, interactive bool) *Gate {
	return &Gate{
		In:          in,
		Out:         out,
		Interactive: interactive,
		MaxListed:   DefaultMaxListed,
	}
}

// Decide applies the gate rules in order: no deletions, auto-delete,
// interactive prompt, and finally refusal for unattended runs.
func (g *Gate) Decide(ctx context.Context, label string, deletions []string, autoDelete bool) (Decision, error) {
	switch {
	case len(deletions) == 0:
		return WithoutDelete, nil
	case autoDelete:
		slog.Info("gate auto delete", "label", label, "deletions", len(deletions))
		return WithDelete, nil
	case !g.Interactive:
		slog.Warn("gate refused unattended delete", "label", label, "deletions", len(deletions))
		return Cancelled, nil
	}

	g.list(label, deletions)
	answer, err := g.readAnswer(ctx)
	if err != nil {
		return Cancelled, err
	}
	decision := ParseAnswer(answer)
	slog.Info("gate answer", "label", label, "decision", decision.String())
	return decision, nil
}

// ParseAnswer maps a prompt answer to a decision. Only the explicit answers
// proceed; blank or unknown input cancels.
func ParseAnswer(answer string) Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return WithDelete
	case "s", "skip":
		return WithoutDelete
	default:
		return Cancelled
	}
}

func (g *Gate) list(label string, deletions []string) {
	limit := g.MaxListed
	if limit <= 0 {
		limit = DefaultMaxListed
	}

	fmt.Fprintf(g.Out, "\n%s %s file(s) would be deleted by %s:\n",
		warnStyle.Render("WARNING"), humanize.Comma(int64(len(deletions))), label)
	for i, p := range deletions {
		if i == limit {
			fmt.Fprintln(g.Out, dimStyle.Render(fmt.Sprintf("  ... and %s more", humanize.Comma(int64(len(deletions)-limit)))))
			break
		}
		fmt.Fprintln(g.Out, delStyle.Render("  - "+p))
	}
	fmt.Fprint(g.Out, "\n[y] sync and delete  [s] sync, skip deletions  [c] cancel: ")
}

func (g *Gate) readAnswer(ctx context.Context) (string, error) {
	br, ok := g.In.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(g.In)
		g.In = br
	}
	line, err := ReadLine(ctx, br)
	if errors.Is(err, io.EOF) {
		// closed input answers blank
		return "", nil
	}
	if err != nil && ctx.Err() != nil {
		fmt.Fprintln(g.Out)
	}
	return line, err
}

// ReadLine blocks for one line without a timeout, but returns as soon as ctx
// is cancelled. A final line without a newline is returned as is; io.EOF is
// returned only when no input is left.
func ReadLine(ctx context.Context, r *bufio.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := r.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{strings.TrimRight(line, "\r\n"), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("read answer: %w", res.err)
		}
		return res.line, nil
	}
}
