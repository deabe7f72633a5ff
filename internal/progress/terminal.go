package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/mirrorctl/internal/changes"
)

const (
	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
	clearLine  = "\r\x1b[K"
)

var (
	outStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	inStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	delStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Terminal draws change lines and a single self-overwriting status line.
// Status events are dropped when the output is not a terminal.
type Terminal struct {
	out io.Writer
	tty bool

	mu         sync.Mutex
	hidden     bool
	statusLine string
}

func NewTerminal(out io.Writer, tty bool) *Terminal {
	return &Terminal{out: out, tty: tty}
}

// Begin starts a progress view. On a terminal the cursor is hidden until End
// or RestoreCursor.
func (t *Terminal) Begin(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "%s\n", lipgloss.NewStyle().Bold(true).Render("syncing "+label))
	if t.tty && !t.hidden {
		io.WriteString(t.out, hideCursor)
		t.hidden = true
	}
}

func (t *Terminal) Render(events []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range events {
		switch ev.Kind {
		case EventChange:
			t.clearStatus()
			fmt.Fprintln(t.out, ChangeText(ev.Change))
			t.redrawStatus()
		case EventStatus:
			if !t.tty {
				continue
			}
			t.statusLine = statusStyle.Render(StatusText(ev.Status))
			io.WriteString(t.out, clearLine+t.statusLine)
		}
	}
}

// End clears the status line and restores the cursor.
func (t *Terminal) End() {
	t.mu.Lock()
	t.clearStatus()
	t.statusLine = ""
	t.mu.Unlock()

	t.RestoreCursor()
}

// RestoreCursor shows the cursor again if it was hidden. Safe to call any
// number of times from any exit path.
func (t *Terminal) RestoreCursor() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hidden {
		io.WriteString(t.out, showCursor)
		t.hidden = false
	}
}

func (t *Terminal) clearStatus() {
	if t.tty && t.statusLine != "" {
		io.WriteString(t.out, clearLine)
	}
}

func (t *Terminal) redrawStatus() {
	if t.tty && t.statusLine != "" {
		io.WriteString(t.out, t.statusLine)
	}
}

// ChangeText renders one change line with its direction marker.
func ChangeText(l changes.Line) string {
	switch l.Kind {
	case changes.Outbound:
		return outStyle.Render("  ↑ " + l.Path)
	case changes.Inbound:
		return inStyle.Render("  ↓ " + l.Path)
	case changes.Deleted:
		return delStyle.Render("  ✗ " + l.Path)
	default:
		return "    " + l.Path
	}
}

func StatusText(s Status) string {
	text := s.Text()
	if text == "" {
		text = "working"
	}
	return fmt.Sprintf("  %s  %s elapsed", text, s.Elapsed)
}
