package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/suite"
)

// RunProgressMsg reports that one run finished.
type RunProgressMsg struct {
	Done    int
	Total   int
	Failed  int
	Skipped int
	Last    result.Record
}

// SuiteDoneMsg signals the suite has completed.
type SuiteDoneMsg struct {
	Report *result.Report
	Err    error
}

// waitForProgress returns a tea.Cmd that reads one event from the progress
// channel. A closed channel yields no message; the report arrives through
// SuiteDoneMsg from startSuite.
func waitForProgress(ch <-chan suite.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return RunProgressMsg{
			Done:    evt.Done,
			Total:   evt.Total,
			Failed:  evt.Failed,
			Skipped: evt.Skipped,
			Last:    evt.Record,
		}
	}
}
