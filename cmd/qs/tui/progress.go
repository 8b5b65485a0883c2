// Package tui is the CLI's minimal live progress surface, driven
// purely by internal/events. Unlike the teacher's multi-screen TUI
// (file pickers, help screens, theming), this package renders exactly
// one thing: a progress bar fed by BytesTransferred events, per
// spec.md §1's scoping of front ends to pure consumers of engine
// events and commands.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/qstransfer/qs/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type tickMsg struct{}

// eventMsg wraps an events.Event so it can flow through bubbletea's
// Update loop alongside its own internal messages.
type eventMsg events.Event

// Model renders the progress of one transfer session.
type Model struct {
	title         string
	totalBytes    uint64
	totalExpected uint64
	done          bool
	cancelled     bool
	errMsg        string

	bar    progress.Model
	spin   spinner.Model
	events <-chan events.Event
}

// New builds a Model that reads events off ch until the channel closes
// or a terminal event arrives. totalExpected is the sum of the offer's
// file sizes, used only to render a percentage; zero renders a bar
// that never fills, which is still an accurate "unknown total" signal.
func New(title string, totalExpected uint64, ch <-chan events.Event) Model {
	return Model{
		title:         title,
		totalExpected: totalExpected,
		bar:           progress.New(progress.WithDefaultGradient()),
		spin:          spinner.New(spinner.WithSpinner(spinner.Dot)),
		events:        ch,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.events), tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventMsg(events.Event{Kind: events.TransferFinished})
		}
		return eventMsg(e)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		m.bar = newModel.(progress.Model)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		switch e.Kind {
		case events.BytesTransferred:
			m.totalBytes = e.TotalSoFar
			var pct float64
			if m.totalExpected > 0 {
				pct = float64(m.totalBytes) / float64(m.totalExpected)
				if pct > 1 {
					pct = 1
				}
			}
			return m, tea.Batch(waitForEvent(m.events), m.bar.SetPercent(pct))
		case events.TransferFinished:
			m.done = true
			return m, tea.Quit
		case events.TransferCancelled:
			m.cancelled = true
			return m, tea.Quit
		case events.Error:
			m.errMsg = e.Message
			return m, tea.Quit
		default:
			return m, waitForEvent(m.events)
		}
	}
	return m, nil
}

func (m Model) View() string {
	switch {
	case m.errMsg != "":
		return errorStyle.Render(fmt.Sprintf("error: %s\n", m.errMsg))
	case m.cancelled:
		return errorStyle.Render("transfer cancelled\n")
	case m.done:
		return doneStyle.Render(fmt.Sprintf("done, %d bytes transferred\n", m.totalBytes))
	default:
		return fmt.Sprintf("%s %s  %s  (%d bytes so far)\n", m.spin.View(), titleStyle.Render(m.title), m.bar.View(), m.totalBytes)
	}
}
