package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

type spinModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

type stopMsg struct{}

func newSpinModel(label string) spinModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return spinModel{spinner: s, label: label}
}

func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.done = true
		return m, tea.Quit
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m spinModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// Spin shows an indeterminate spinner with label until the returned stop
// function is called. Without a terminal it prints the label once. The
// program does not read input or install signal handlers.
func Spin(out io.Writer, label string, tty bool) (stop func()) {
	if !tty {
		fmt.Fprintln(out, label)
		return func() {}
	}

	p := tea.NewProgram(newSpinModel(label),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		_, _ = p.Run()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.Send(stopMsg{})
			p.Wait()
		})
	}
}
