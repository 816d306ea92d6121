// Package ui renders a small terminal frontend for long-running diagnostic
// commands.
package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	spinnerTick = 120 * time.Millisecond
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Run executes fn under a spinner UI. fn reports progress through the step
// callback; the collected steps are returned alongside fn's error.
func Run(title string, fn func(ctx context.Context, step func(string)) error) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	m := &model{title: title, steps: make(chan string, 32), done: make(chan error, 1)}
	go func() {
		err := fn(ctx, func(s string) { m.steps <- s })
		close(m.steps)
		m.done <- err
	}()

	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return m.seen, err
	}
	return m.seen, m.err
}

type model struct {
	title string
	steps chan string
	done  chan error

	seen     []string
	frame    int
	finished bool
	err      error
}

type tickMsg struct{}
type stepMsg string
type doneMsg struct{ err error }

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitStep())
}

func (m *model) tick() tea.Cmd {
	return tea.Tick(spinnerTick, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) waitStep() tea.Cmd {
	return func() tea.Msg {
		if s, ok := <-m.steps; ok {
			return stepMsg(s)
		}
		return doneMsg{err: <-m.done}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.finished {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, m.tick()
	case stepMsg:
		m.seen = append(m.seen, string(msg))
		return m, m.waitStep()
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.finished = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *model) View() string {
	out := titleStyle.Render(m.title) + "\n"
	for _, s := range m.seen {
		out += stepStyle.Render("  • "+s) + "\n"
	}
	if !m.finished {
		out += fmt.Sprintf("  %s working...\n", spinnerFrames[m.frame])
		return out
	}
	if m.err != nil {
		out += failStyle.Render("  ✗ "+m.err.Error()) + "\n"
	} else {
		out += okStyle.Render("  ✓ all checks passed") + "\n"
	}
	return out
}
