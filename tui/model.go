// Package tui provides the Bubble Tea terminal UI for primal, displaying
// live suite progress and a styled summary of the report.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/suite"
)

// RunFunc executes the suite. It should close the progress channel when it
// returns.
type RunFunc func(ctx context.Context) (*result.Report, error)

// Model is the Bubble Tea model for the suite TUI.
type Model struct {
	ctx        context.Context
	cancel     context.CancelFunc
	run        RunFunc
	spinner    spinner.Model
	progressCh <-chan suite.Event

	progress RunProgressMsg
	quitting bool
	done     bool
	report   *result.Report
	err      error
	width    int
}

// NewModel creates a TUI model that runs run and follows progressCh.
func NewModel(ctx context.Context, cancel context.CancelFunc, run RunFunc, progressCh <-chan suite.Event) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:        ctx,
		cancel:     cancel,
		run:        run,
		spinner:    spin,
		progressCh: progressCh,
	}
}

// Init starts the spinner, the suite, and the progress listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startSuite(), waitForProgress(m.progressCh))
}

func (m Model) startSuite() tea.Cmd {
	return func() tea.Msg {
		rep, err := m.run(m.ctx)
		if err != nil {
			err = fmt.Errorf("run suite: %w", err)
		}
		return SuiteDoneMsg{Report: rep, Err: err}
	}
}

// Update handles messages from the Bubble Tea runtime.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Runs in flight still tear down; unstarted ones are skipped.
			m.quitting = true
			m.cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case RunProgressMsg:
		m.progress = msg
		return m, waitForProgress(m.progressCh)

	case SuiteDoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the current TUI state.
func (m Model) View() string {
	if m.done && m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}
	if m.done {
		return RenderSummary(m.report)
	}

	verb := "Running"
	if m.quitting {
		verb = "Stopping"
	}
	p := m.progress
	line := fmt.Sprintf("%s %s... %d/%d done, %d failed, %d skipped",
		m.spinner.View(), verb, p.Done, p.Total, p.Failed, p.Skipped)
	if p.Last.Site == "" {
		return line + "\n"
	}
	last := fmt.Sprintf("  %s [%s] %s", p.Last.Site, p.Last.Mode, p.Last.Status)
	return line + "\n" + dimStyle.Render(last) + "\n"
}

// Failed reports whether any run failed.
func (m Model) Failed() bool {
	return m.report != nil && m.report.Failed()
}

// Report returns the suite report, nil until the suite finished.
func (m Model) Report() *result.Report {
	return m.report
}

// Err returns the error that stopped the suite.
func (m Model) Err() error {
	return m.err
}
