// Package suite runs many (site, mode) targets over a pool of browser
// sessions and collects their outcomes into a report. It also discovers
// additional pages to test by crawling a site's same-domain links.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lukemcguire/primal/a11y"
	"github.com/lukemcguire/primal/browser"
	"github.com/lukemcguire/primal/explorer"
	"github.com/lukemcguire/primal/result"
)

// Target is one site exercised in one mode.
type Target struct {
	Site explorer.Site
	Mode explorer.Mode
}

// Targets crosses every site with every mode, sites outermost.
func Targets(sites []explorer.Site, modes []explorer.Mode) []Target {
	targets := make([]Target, 0, len(sites)*len(modes))
	for _, s := range sites {
		for _, m := range modes {
			targets = append(targets, Target{Site: s, Mode: m})
		}
	}
	return targets
}

// SessionFactory opens a browser session for one worker. Sessions that
// implement io.Closer are closed when the worker exits.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Config holds runner configuration.
type Config struct {
	Concurrency   int     // parallel sessions (default 1)
	RateLimit     float64 // runs started per second; 0 is unlimited
	RespectRobots bool    // skip exploratory runs disallowed by robots.txt
	UserAgent     string
	Retry         RetryPolicy
}

// Runner executes targets. Each worker owns one session and one engine and
// runs its targets one after another.
type Runner struct {
	cfg        Config
	newSession SessionFactory
	engineOpts []explorer.Option
	robots     *RobotsChecker
	limiter    *rate.Limiter
	logger     *slog.Logger
	progress   chan<- Event
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithProgress streams an Event per finished target to ch. The runner
// never closes ch.
func WithProgress(ch chan<- Event) Option {
	return func(r *Runner) { r.progress = ch }
}

// WithEngineOptions configures every worker's engine.
func WithEngineOptions(opts ...explorer.Option) Option {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithRobotsChecker replaces the robots.txt checker.
func WithRobotsChecker(c *RobotsChecker) Option {
	return func(r *Runner) { r.robots = c }
}

// WithSleep replaces the context-aware sleep used between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, newSession SessionFactory, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	r := &Runner{
		cfg:        cfg,
		newSession: newSession,
		limiter:    rate.NewLimiter(limit, max(1, int(cfg.RateLimit))),
		sleep:      sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.robots == nil && cfg.RespectRobots {
		r.robots = NewRobotsChecker(nil, cfg.UserAgent)
	}
	return r
}

// Run executes every target and returns the report with records in target
// order. Targets never started because ctx ended are reported as skipped.
// The error is non-nil only when a session could not be opened.
func (r *Runner) Run(ctx context.Context, targets []Target) (*result.Report, error) {
	start := r.now()
	records := make([]result.Record, len(targets))
	tally := &tally{total: len(targets)}

	type job struct {
		idx    int
		target Target
	}
	jobs := make(chan job)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i, t := range targets {
			select {
			case jobs <- job{idx: i, target: t}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	engineOpts := append([]explorer.Option{explorer.WithLogger(r.logger)}, r.engineOpts...)
	workers := min(r.cfg.Concurrency, len(targets))
	for w := range workers {
		g.Go(func() error {
			session, err := r.newSession(gctx)
			if err != nil {
				return fmt.Errorf("open session for worker %d: %w", w, err)
			}
			defer r.closeSession(session)

			engine := explorer.New(session, engineOpts...)
			for j := range jobs {
				if gctx.Err() != nil {
					continue
				}
				rec := r.runTarget(gctx, engine, j.target)
				records[j.idx] = rec
				r.report(gctx, tally.add(rec))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rec := range records {
		if rec.Status == "" {
			cause := context.Canceled
			if err := context.Cause(ctx); err != nil {
				cause = err
			}
			records[i] = skipped(targets[i], "run not started: "+cause.Error())
		}
	}
	return result.NewReport(records, r.now().Sub(start)), nil
}

func (r *Runner) runTarget(ctx context.Context, engine *explorer.Engine, t Target) result.Record {
	logger := r.logger.With("site", t.Site.Name, "mode", string(t.Mode))

	if t.Mode == explorer.Exploratory && r.robots != nil {
		allowed, err := r.robots.Allowed(ctx, t.Site.URL)
		if err != nil {
			logger.DebugContext(ctx, "robots.txt check failed, allowing", "err", err)
		}
		if !allowed {
			logger.InfoContext(ctx, "skipping run disallowed by robots.txt")
			return skipped(t, "disallowed by robots.txt")
		}
	}

	var (
		out *explorer.Outcome
		err error
	)
	attempts := 0
	for attempt := 0; attempt <= r.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.Retry.backoff(attempt)
			logger.InfoContext(ctx, "retrying navigation", "attempt", attempt+1, "delay", delay, "err", err)
			if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
				break
			}
		}
		if waitErr := r.limiter.Wait(ctx); waitErr != nil {
			if out == nil {
				return skipped(t, "run not started: "+waitErr.Error())
			}
			break
		}
		attempts++
		out, err = engine.Run(ctx, t.Site, t.Mode)
		if !shouldRetry(ctx, err) {
			break
		}
	}

	if out == nil {
		return result.Record{
			Site:     t.Site.Name,
			URL:      t.Site.URL,
			Mode:     string(t.Mode),
			Status:   result.StatusFailed,
			Message:  err.Error(),
			Attempts: attempts,
		}
	}
	return toRecord(out, err, attempts)
}

func (r *Runner) closeSession(s browser.Session) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		r.logger.Warn("close session", "err", err)
	}
}

func (r *Runner) report(ctx context.Context, evt Event) {
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- evt:
	case <-ctx.Done():
	}
}

// toRecord flattens an outcome into a report record.
func toRecord(out *explorer.Outcome, err error, attempts int) result.Record {
	rec := result.Record{
		RunID:          out.RunID,
		Site:           out.Site,
		URL:            out.URL,
		Mode:           string(out.Mode),
		Status:         result.StatusPassed,
		Message:        out.Message,
		ConsoleErrors:  out.ConsoleErrors,
		FuzzedControls: out.FuzzedControls,
		Screenshot:     out.Screenshot,
		Attempts:       attempts,
		Duration:       out.Duration,
	}
	if !out.Success {
		rec.Status = result.StatusFailed
		rec.Category = out.Category
	}
	if errors.Is(err, explorer.ErrNavigation) {
		rec.Reason = result.NavigationReason(err)
	}
	for _, issue := range out.Issues {
		rec.TrafficIssues = append(rec.TrafficIssues, issue.String())
	}
	rec.Violations = violationStrings(out.Violations)
	return rec
}

func violationStrings(vs []a11y.Violation) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func skipped(t Target, msg string) result.Record {
	return result.Record{
		Site:    t.Site.Name,
		URL:     t.Site.URL,
		Mode:    string(t.Mode),
		Status:  result.StatusSkipped,
		Message: msg,
	}
}

// tally counts finished targets for progress events.
type tally struct {
	mu      sync.Mutex
	total   int
	done    int
	failed  int
	skipped int
}

func (t *tally) add(rec result.Record) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	switch rec.Status {
	case result.StatusFailed:
		t.failed++
	case result.StatusSkipped:
		t.skipped++
	}
	return Event{Record: rec, Done: t.done, Total: t.total, Failed: t.failed, Skipped: t.skipped}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
