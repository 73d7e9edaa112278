package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/suite"
)

func failingReport() *result.Report {
	return result.NewReport([]result.Record{
		{Site: "home", Mode: "passive", URL: "https://example.com/", Status: result.StatusPassed},
		{Site: "shop", Mode: "passive", URL: "https://example.com/shop", Status: result.StatusFailed,
			Category: result.CategoryConsole, Message: "console errors detected: boom"},
		{Site: "blog", Mode: "exploratory", URL: "https://example.com/blog", Status: result.StatusFailed,
			Category: result.CategoryNavigation, Reason: result.ReasonDNSFailure,
			Message: "navigation failed: net::ERR_NAME_NOT_RESOLVED\nsecond line"},
		{Site: "slow", Mode: "exploratory", URL: "https://example.com/slow", Status: result.StatusFailed,
			Message: "context canceled"},
	}, 3*time.Second)
}

func TestNewModel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progressCh := make(chan suite.Event, 10)
	called := false
	run := func(context.Context) (*result.Report, error) {
		called = true
		return nil, nil
	}

	model := NewModel(ctx, cancel, run, progressCh)

	if model.ctx != ctx {
		t.Error("expected ctx to be stored in model")
	}
	if model.cancel == nil || model.run == nil {
		t.Error("expected cancel and run to be stored in model")
	}
	if model.progressCh != progressCh {
		t.Error("expected progressCh to be stored in model")
	}
	if model.done || model.progress.Done != 0 {
		t.Error("expected a fresh model")
	}
	if model.Init() == nil {
		t.Error("Init() should return a non-nil batch command")
	}
	if called {
		t.Error("NewModel and Init must not run the suite synchronously")
	}
}

func TestStartSuite_WrapsErrors(t *testing.T) {
	boom := errors.New("no chrome")
	model := Model{ctx: context.Background(), run: func(context.Context) (*result.Report, error) {
		return nil, boom
	}}

	msg := model.startSuite()().(SuiteDoneMsg)
	if !errors.Is(msg.Err, boom) || !strings.HasPrefix(msg.Err.Error(), "run suite: ") {
		t.Errorf("SuiteDoneMsg.Err = %v, want wrapped %v", msg.Err, boom)
	}
}

func TestWaitForProgress(t *testing.T) {
	ch := make(chan suite.Event, 1)
	ch <- suite.Event{Done: 2, Total: 5, Failed: 1, Record: result.Record{Site: "shop"}}

	msg := waitForProgress(ch)().(RunProgressMsg)
	if msg.Done != 2 || msg.Total != 5 || msg.Failed != 1 || msg.Last.Site != "shop" {
		t.Errorf("RunProgressMsg = %+v", msg)
	}

	close(ch)
	if msg := waitForProgress(ch)(); msg != nil {
		t.Errorf("closed channel yielded %T, want nil", msg)
	}
}

func TestFailedAndReport(t *testing.T) {
	tests := []struct {
		name   string
		report *result.Report
		want   bool
	}{
		{name: "nil report", report: nil, want: false},
		{name: "all passed", report: result.NewReport([]result.Record{{Status: result.StatusPassed}}, 0), want: false},
		{name: "failures", report: failingReport(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := Model{report: tt.report}
			if got := model.Failed(); got != tt.want {
				t.Errorf("Failed() = %v, want %v", got, tt.want)
			}
			if model.Report() != tt.report {
				t.Error("Report() did not return the stored report")
			}
		})
	}
}

func TestRenderSummary_NilReport(t *testing.T) {
	if RenderSummary(nil) == "" {
		t.Error("expected non-empty output for nil report")
	}
}

func TestRenderSummary_AllPassed(t *testing.T) {
	rep := result.NewReport([]result.Record{
		{Site: "home", Status: result.StatusPassed},
		{Site: "blog", Status: result.StatusSkipped},
	}, 2*time.Second)

	output := RenderSummary(rep)
	if !strings.Contains(output, "All runs passed!") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "Ran 2, passed 1, failed 0, skipped 1 in 2s") {
		t.Errorf("expected stats line, got: %s", output)
	}
}

func TestRenderSummary_GroupsFailures(t *testing.T) {
	output := RenderSummary(failingReport())

	for _, want := range []string{
		"## Navigation Failures (1)",
		"## Console Errors (1)",
		"## Other Failures (1)",
		"navigation failed: net::ERR_NAME_NOT_RESOLVED (dns_failure)",
		"console errors detected: boom",
		"https://example.com/shop",
		"Ran 4, passed 1, failed 3, skipped 0 in 3s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("summary missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "second line") {
		t.Error("summary should only show the first line of a message")
	}

	nav := strings.Index(output, "Navigation Failures")
	console := strings.Index(output, "Console Errors")
	other := strings.Index(output, "Other Failures")
	if nav > console || console > other {
		t.Errorf("groups out of order: navigation %d, console %d, other %d", nav, console, other)
	}
}

func TestUpdate_RunProgressMsg(t *testing.T) {
	model := Model{progressCh: make(chan suite.Event, 10)}

	msg := RunProgressMsg{Done: 3, Total: 8, Failed: 1, Last: result.Record{Site: "shop"}}
	updatedModel, cmd := model.Update(msg)
	updated := updatedModel.(Model)

	if got := updated.progress; got.Done != 3 || got.Total != 8 || got.Failed != 1 || got.Last.Site != "shop" {
		t.Errorf("progress = %+v, want %+v", got, msg)
	}
	if cmd == nil {
		t.Error("expected non-nil cmd to re-subscribe to progress channel")
	}
}

func TestUpdate_SuiteDoneMsg(t *testing.T) {
	rep := failingReport()
	updatedModel, cmd := Model{}.Update(SuiteDoneMsg{Report: rep})
	updated := updatedModel.(Model)

	if !updated.done {
		t.Error("expected done=true after SuiteDoneMsg")
	}
	if updated.report != rep {
		t.Error("expected report to be stored")
	}
	if cmd == nil {
		t.Error("expected a quit command")
	}
}

func TestUpdate_QuitCancelsButWaitsForSuite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updatedModel, cmd := Model{cancel: cancel}.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	updated := updatedModel.(Model)

	if ctx.Err() == nil {
		t.Error("expected the suite context to be canceled")
	}
	if !updated.quitting || updated.done {
		t.Error("expected quitting without done")
	}
	if cmd != nil {
		t.Error("quitting should wait for SuiteDoneMsg instead of quitting at once")
	}
	if !strings.Contains(updated.View(), "Stopping") {
		t.Errorf("expected stopping view, got: %s", updated.View())
	}
}

func TestUpdate_SpinnerTickMsg(t *testing.T) {
	updatedModel, _ := Model{}.Update(spinner.TickMsg{})
	_ = updatedModel.(Model)
}

func TestUpdate_WindowSizeMsg(t *testing.T) {
	updatedModel, _ := Model{}.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	if updated := updatedModel.(Model); updated.width != 120 {
		t.Errorf("expected width=120, got %d", updated.width)
	}
}

func TestView_InProgress(t *testing.T) {
	model := Model{progress: RunProgressMsg{
		Done: 3, Total: 10, Failed: 1, Skipped: 2,
		Last: result.Record{Site: "shop", Mode: "passive", Status: result.StatusFailed},
	}}

	output := model.View()
	if !strings.Contains(output, "Running... 3/10 done, 1 failed, 2 skipped") {
		t.Errorf("expected progress counts in view, got: %s", output)
	}
	if !strings.Contains(output, "shop [passive] failed") {
		t.Errorf("expected last run in view, got: %s", output)
	}
}

func TestView_Done(t *testing.T) {
	done := Model{done: true, report: result.NewReport(nil, time.Second)}
	if !strings.Contains(done.View(), "All runs passed!") {
		t.Errorf("expected summary in done view, got: %s", done.View())
	}

	failed := Model{done: true, err: context.Canceled}
	if !strings.Contains(failed.View(), "Error") {
		t.Errorf("expected error in done view, got: %s", failed.View())
	}
}
