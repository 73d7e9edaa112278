// Package traffic watches a page's network activity and records requests
// that are slow or responses that are larger than configured limits.
package traffic

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lukemcguire/primal/browser"
)

// Config sets the thresholds. A zero slow-request threshold disables that
// check. A nil large-payload threshold disables the size check; zero flags
// any non-empty response.
type Config struct {
	Enabled                    bool   `yaml:"enabled" json:"enabled"`
	SlowRequestThresholdMS     int    `yaml:"slow_request_threshold_ms" json:"slow_request_threshold_ms"`
	LargePayloadThresholdBytes *int64 `yaml:"large_payload_threshold_bytes,omitempty" json:"large_payload_threshold_bytes,omitempty"`
	FailOnIssues               bool   `yaml:"fail_on_issues" json:"fail_on_issues"`
}

// Threshold returns a pointer to n, for building a Config in code.
func Threshold(n int64) *int64 {
	return &n
}

// SlowThreshold returns the slow-request threshold as a duration.
func (c Config) SlowThreshold() time.Duration {
	return time.Duration(c.SlowRequestThresholdMS) * time.Millisecond
}

// Monitor accumulates traffic issues for one run. Callbacks arrive on
// adapter goroutines in any order, so all state is guarded by mu.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	// bodyTimeout bounds the fallback body read for one response.
	bodyTimeout time.Duration

	mu       sync.Mutex
	issues   []Issue
	started  map[string]time.Time
	detachFn func()

	// Body reads run off the callback goroutine. reads holds one channel
	// per read, closed when it ends; stopReads cancels them all.
	readCtx   context.Context
	stopReads context.CancelFunc
	reads     map[int]chan struct{}
	nextRead  int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Monitor for cfg.
func New(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:         cfg,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		bodyTimeout: 10 * time.Second,
		started:     make(map[string]time.Time),
		reads:       make(map[int]chan struct{}),
	}
	m.readCtx, m.stopReads = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach starts observing s. It is a no-op when the monitor is disabled or
// already attached.
func (m *Monitor) Attach(s browser.Session) {
	if !m.cfg.Enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detachFn != nil {
		return
	}
	if m.readCtx.Err() != nil {
		m.readCtx, m.stopReads = context.WithCancel(context.Background())
	}
	m.detachFn = s.Listen(browser.Listener{
		Request:         m.handleRequest,
		Response:        m.handleResponse,
		RequestFinished: m.handleDone,
		RequestFailed:   m.handleDone,
	})
}

// Detach stops observing, cancels pending body reads and waits for them to
// return. Safe to call more than once.
func (m *Monitor) Detach() {
	m.mu.Lock()
	detach := m.detachFn
	m.detachFn = nil
	m.stopReads()
	pending := m.pendingLocked()
	m.mu.Unlock()
	if detach != nil {
		detach()
	}
	for _, done := range pending {
		<-done
	}
}

// Settle waits until every body read started before the call has finished,
// or ctx ends. Reads still running are left to Detach.
func (m *Monitor) Settle(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pendingLocked()
	m.mu.Unlock()
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Monitor) pendingLocked() []chan struct{} {
	out := make([]chan struct{}, 0, len(m.reads))
	for _, done := range m.reads {
		out = append(out, done)
	}
	return out
}

// Attached reports whether the monitor is currently listening.
func (m *Monitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detachFn != nil
}

// Issues returns a copy of the issues recorded so far.
func (m *Monitor) Issues() []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Issue(nil), m.issues...)
}

// InFlight reports how many requests are still awaiting completion.
func (m *Monitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// Enforce returns a *ViolationError listing every issue when the config asks
// to fail on issues and at least one was recorded.
func (m *Monitor) Enforce() error {
	_, err := m.Verdict()
	return err
}

// Verdict takes one snapshot of the issues and judges it, so the reported
// issues and the error always agree.
func (m *Monitor) Verdict() ([]Issue, error) {
	issues := m.Issues()
	if !m.cfg.FailOnIssues || len(issues) == 0 {
		return issues, nil
	}
	return issues, &ViolationError{Issues: issues}
}

func (m *Monitor) handleRequest(req browser.Request) {
	m.mu.Lock()
	m.started[req.ID] = m.now()
	m.mu.Unlock()
}

func (m *Monitor) handleDone(req browser.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, tracked := m.started[req.ID]
	delete(m.started, req.ID)

	threshold := m.cfg.SlowThreshold()
	if threshold <= 0 {
		return
	}

	var duration time.Duration
	switch {
	case req.Duration > 0:
		duration = req.Duration
	case tracked:
		duration = m.now().Sub(start)
	default:
		return
	}
	if duration > threshold {
		m.issues = append(m.issues, Issue{
			Kind:     KindSlowRequest,
			URL:      req.URL,
			Duration: duration,
		})
	}
}

func (m *Monitor) handleResponse(resp browser.Response) {
	limit := m.cfg.LargePayloadThresholdBytes
	if limit == nil || resp.Request.IsData() {
		return
	}

	if size, ok := declaredLength(resp); ok {
		m.checkSize(resp.URL(), size, *limit)
		return
	}

	// Without a length header the body has to be read in full. Streams may
	// never finish, so the read must not hold up the adapter's callbacks.
	m.mu.Lock()
	id := m.nextRead
	m.nextRead++
	done := make(chan struct{})
	m.reads[id] = done
	readCtx := m.readCtx
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.reads, id)
			m.mu.Unlock()
			close(done)
		}()
		ctx, cancel := context.WithTimeout(readCtx, m.bodyTimeout)
		body, err := resp.Body(ctx)
		cancel()
		if err != nil {
			m.logger.Debug("read response body", "url", resp.URL(), "err", err)
			return
		}
		m.checkSize(resp.URL(), int64(len(body)), *limit)
	}()
}

func (m *Monitor) checkSize(url string, size, limit int64) {
	if size <= limit {
		return
	}
	m.mu.Lock()
	m.issues = append(m.issues, Issue{
		Kind:  KindLargePayload,
		URL:   url,
		Bytes: size,
	})
	m.mu.Unlock()
}

func declaredLength(resp browser.Response) (int64, bool) {
	raw := strings.TrimSpace(resp.Headers.Get("Content-Length"))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ViolationError aggregates every issue of a run that fails on traffic.
type ViolationError struct {
	Issues []Issue
}

func (e *ViolationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.String()
	}
	return fmt.Sprintf("network traffic issues detected:\n%s", strings.Join(lines, "\n"))
}
