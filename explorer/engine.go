// Package explorer drives one page through one exploration mode. A run
// installs its listeners and routes, navigates, runs the mode's checks or
// perturbations, and always tears down what it installed before returning.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukemcguire/primal/a11y"
	"github.com/lukemcguire/primal/browser"
	"github.com/lukemcguire/primal/fuzz"
	"github.com/lukemcguire/primal/metrics"
	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/traffic"
)

// Selectors used to find page elements.
const (
	BodySelector        = "body"
	FormControlSelector = "input, select, textarea"
	ClickableSelector   = "button, a"
)

// DefaultTeardownTimeout bounds cleanup and the final screenshot.
const DefaultTeardownTimeout = 30 * time.Second

// DefaultSettleTimeout bounds the wait for pending page events before a
// verdict is taken.
const DefaultSettleTimeout = 5 * time.Second

// ControlFuzzer perturbs one form control.
type ControlFuzzer interface {
	FuzzOne(ctx context.Context, c fuzz.Control)
}

// StorageMutator corrupts a page's cookies and local storage.
type StorageMutator interface {
	Fuzz(ctx context.Context, s browser.Session)
}

// Outcome is everything a run observed. It is returned for every run,
// passing or not.
type Outcome struct {
	RunID          string
	Site           string
	URL            string
	Mode           Mode
	Success        bool
	Category       result.Category
	Message        string
	Issues         []traffic.Issue
	Violations     []a11y.Violation
	ConsoleErrors  []string
	FuzzedControls int
	ScrollSteps    int
	Clicked        string
	Screenshot     string
	StartedAt      time.Time
	Duration       time.Duration
}

// Engine runs sites against one browser session. Runs on the same engine
// must not overlap.
type Engine struct {
	session         browser.Session
	rand            *fuzz.Rand
	logger          *slog.Logger
	metrics         *metrics.Collector
	auditor         a11y.Auditor
	inputs          ControlFuzzer
	storage         StorageMutator
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
	teardownTimeout time.Duration
	settleTimeout   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source shared by every random decision.
func WithRand(r *fuzz.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithAuditor replaces the accessibility auditor.
func WithAuditor(a a11y.Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithInputFuzzer replaces the form-control fuzzer.
func WithInputFuzzer(f ControlFuzzer) Option {
	return func(e *Engine) { e.inputs = f }
}

// WithStorageFuzzer replaces the storage fuzzer.
func WithStorageFuzzer(f StorageMutator) Option {
	return func(e *Engine) { e.storage = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the context-aware sleep used for chaos latency and
// scroll pacing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithTeardownTimeout bounds cleanup after the caller's context is done.
func WithTeardownTimeout(d time.Duration) Option {
	return func(e *Engine) { e.teardownTimeout = d }
}

// WithSettleTimeout bounds the wait for pending page events.
func WithSettleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.settleTimeout = d }
}

// New creates an Engine bound to session.
func New(session browser.Session, opts ...Option) *Engine {
	e := &Engine{
		session:         session,
		now:             time.Now,
		sleep:           sleepContext,
		teardownTimeout: DefaultTeardownTimeout,
		settleTimeout:   DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rand == nil {
		e.rand = fuzz.TimeSeeded()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.auditor == nil {
		e.auditor = a11y.NewStaticAuditor()
	}
	if e.inputs == nil {
		e.inputs = fuzz.NewInputFuzzer(e.rand, e.logger)
	}
	if e.storage == nil {
		e.storage = fuzz.NewStorageFuzzer(e.rand, e.logger)
	}
	return e
}

// Run exercises site in mode. The outcome is returned even when the run
// fails; the error is then a *Failure, or the context's error if the run
// was cancelled mid-exploration. Run returns a nil outcome only for an
// unknown mode.
func (e *Engine) Run(ctx context.Context, site Site, mode Mode) (*Outcome, error) {
	strat, ok := strategies[mode]
	if !ok {
		return nil, fmt.Errorf("run %s: unknown mode %q", site.Name, mode)
	}

	runID := uuid.NewString()
	r := &run{
		e:    e,
		site: site,
		mode: mode,
		out: &Outcome{
			RunID:     runID,
			Site:      site.Name,
			URL:       site.URL,
			Mode:      mode,
			StartedAt: e.now(),
		},
		logger: e.logger.With("site", site.Name, "mode", string(mode), "run_id", runID),
	}

	err := r.execute(ctx, strat)
	r.finish(ctx, err)
	if err != nil {
		return r.out, err
	}
	return r.out, nil
}

// run is the state of one Engine.Run call.
type run struct {
	e       *Engine
	site    Site
	mode    Mode
	out     *Outcome
	logger  *slog.Logger
	monitor *traffic.Monitor

	// cleanups run in reverse order of registration.
	cleanups []func(ctx context.Context)

	// Set once the verdict has taken its snapshot, so the outcome reports
	// exactly what was judged.
	consoleJudged bool
	issuesJudged  bool

	mu         sync.Mutex
	pageErrors []string
}

func (r *run) execute(ctx context.Context, strat strategy) error {
	defer func() {
		tctx, cancel := r.teardownContext(ctx)
		defer cancel()
		r.teardown(tctx)
	}()

	strat.prepare(ctx, r)
	r.attachMonitor()

	r.logger.DebugContext(ctx, "navigating", "url", r.site.URL)
	if err := r.e.session.Navigate(ctx, r.site.URL); err != nil {
		return fail(result.CategoryNavigation, "navigation failed: "+err.Error(), []string{err.Error()}, err)
	}

	if err := strat.explore(ctx, r); err != nil {
		return err
	}
	return r.enforceTraffic(ctx)
}

// settle waits, within the settle timeout, for events the page has already
// emitted to reach the listeners and for the monitor's pending body reads.
func (r *run) settle(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, r.e.settleTimeout)
	defer cancel()
	if err := r.e.session.Flush(sctx); err != nil {
		r.logger.DebugContext(ctx, "flush page events", "err", err)
	}
	if r.monitor != nil {
		if err := r.monitor.Settle(sctx); err != nil {
			r.logger.DebugContext(ctx, "settle traffic monitor", "err", err)
		}
	}
}

// onTeardown registers fn to run when the run ends, whatever the outcome.
func (r *run) onTeardown(fn func(ctx context.Context)) {
	r.cleanups = append(r.cleanups, fn)
}

func (r *run) teardown(ctx context.Context) {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i](ctx)
	}
	r.cleanups = nil
}

// teardownContext outlives cancellation of ctx so cleanup can still reach
// the browser.
func (r *run) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.e.teardownTimeout)
}

func (r *run) finish(ctx context.Context, err error) {
	out := r.out
	out.Success = err == nil
	var f *Failure
	switch {
	case errors.As(err, &f):
		out.Category = f.Category
		out.Message = f.Message
	case err != nil:
		out.Message = err.Error()
	}
	if !r.consoleJudged {
		out.ConsoleErrors = r.consoleErrors()
	}

	if r.site.Screenshot.wants(out.Success) {
		tctx, cancel := r.teardownContext(ctx)
		out.Screenshot = r.captureScreenshot(tctx, out.Success)
		cancel()
	}

	out.Duration = r.e.now().Sub(out.StartedAt)
	r.e.metrics.RecordRun(string(r.mode), out.Success, string(out.Category), out.Duration)

	if out.Success {
		r.logger.InfoContext(ctx, "run passed", "duration", out.Duration)
	} else {
		r.logger.WarnContext(ctx, "run failed", "category", out.Category, "err", err, "duration", out.Duration)
	}
}

func (r *run) recordPageError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.pageErrors = append(r.pageErrors, err.Error())
	r.mu.Unlock()
}

func (r *run) consoleErrors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pageErrors...)
}

func (r *run) attachMonitor() {
	cfg := r.site.Traffic
	if cfg == nil || !cfg.Enabled {
		return
	}
	m := traffic.New(*cfg, traffic.WithLogger(r.logger))
	m.Attach(r.e.session)
	r.monitor = m
	r.onTeardown(func(context.Context) {
		m.Detach()
		if !r.issuesJudged {
			r.out.Issues = m.Issues()
		}
		for _, issue := range r.out.Issues {
			r.e.metrics.RecordTrafficIssue(string(issue.Kind))
		}
	})
}

func (r *run) enforceTraffic(ctx context.Context) error {
	if r.monitor == nil {
		return nil
	}
	r.settle(ctx)
	issues, err := r.monitor.Verdict()
	r.out.Issues = issues
	r.issuesJudged = true

	var violation *traffic.ViolationError
	if errors.As(err, &violation) {
		evidence := make([]string, len(violation.Issues))
		for i, issue := range violation.Issues {
			evidence[i] = issue.String()
		}
		return fail(result.CategoryTraffic, violation.Error(), evidence, violation)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
