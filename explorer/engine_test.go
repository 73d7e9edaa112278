package explorer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukemcguire/primal/a11y"
	"github.com/lukemcguire/primal/browser"
	"github.com/lukemcguire/primal/browser/browsertest"
	"github.com/lukemcguire/primal/fuzz"
	"github.com/lukemcguire/primal/metrics"
	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/traffic"
)

const siteURL = "http://localhost:3000/"

// constSource always yields the same word: heads makes every Chance
// succeed, tails makes IntN(n) return n-1 and every Chance fail.
type constSource uint64

func (s constSource) Uint64() uint64 { return uint64(s) }

const (
	heads constSource = 0xFFE0000000000000
	tails constSource = math.MaxUint64
)

func noSleep(context.Context, time.Duration) error { return nil }

type countingFuzzer struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFuzzer) FuzzOne(context.Context, fuzz.Control) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

type countingMutator struct{ calls int }

func (m *countingMutator) Fuzz(context.Context, browser.Session) { m.calls++ }

type countingAuditor struct {
	calls      int
	violations []a11y.Violation
	err        error
}

func (a *countingAuditor) Audit(context.Context, browser.Session) ([]a11y.Violation, error) {
	a.calls++
	return a.violations, a.err
}

// newSession returns a fake page with a visible body.
func newSession() *browsertest.Session {
	s := browsertest.New()
	s.Elements[BodySelector] = []*browsertest.Element{browsertest.NewElement("body", "")}
	return s
}

func newEngine(s browser.Session, opts ...Option) *Engine {
	base := []Option{WithSleep(noSleep), WithRand(fuzz.NewRand(1))}
	return New(s, append(base, opts...)...)
}

func site() Site {
	return Site{Name: "local", URL: siteURL, Scroll: &ScrollConfig{Enabled: false}}
}

func TestRun_PassiveCleanPagePasses(t *testing.T) {
	s := newSession()
	reg := prometheus.NewRegistry()

	out, err := newEngine(s, WithMetrics(metrics.NewCollector(reg))).Run(context.Background(), site(), Passive)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Category)
	assert.Equal(t, Passive, out.Mode)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, []string{siteURL}, s.Navigations())
	assert.Equal(t, 0, s.ListenerCount())

	n, err := testutil.GatherAndCount(reg, "primal_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_UnknownMode(t *testing.T) {
	out, err := newEngine(newSession()).Run(context.Background(), site(), Mode("bogus"))

	assert.Nil(t, out)
	assert.ErrorContains(t, err, "unknown mode")
}

func TestRun_ExploratoryFuzzesEveryVisibleControl(t *testing.T) {
	s := newSession()
	controls := []*browsertest.Element{
		browsertest.NewElement("input", "text"),
		browsertest.NewElement("input", "email"),
		browsertest.NewElement("textarea", ""),
		browsertest.NewElement("select", "").WithOptions(2),
		browsertest.NewElement("input", "checkbox"),
		browsertest.NewElement("input", "text").Hidden(),
		browsertest.NewElement("input", "number").Hidden(),
	}
	s.Elements[FormControlSelector] = controls
	f := &countingFuzzer{}

	out, err := newEngine(s, WithInputFuzzer(f)).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 5, f.calls)
	assert.Equal(t, 5, out.FuzzedControls)
}

func TestRun_ControlFailuresDoNotAbortFuzzing(t *testing.T) {
	s := newSession()
	broken := browsertest.NewElement("input", "text")
	broken.FillErr = errors.New("element is not editable")
	undescribable := browsertest.NewElement("input", "text")
	undescribable.DescribeErr = errors.New("node detached")
	after := []*browsertest.Element{
		browsertest.NewElement("input", "text"),
		browsertest.NewElement("input", "url"),
	}
	s.Elements[FormControlSelector] = append([]*browsertest.Element{broken, undescribable}, after...)

	out, err := newEngine(s).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 3, out.FuzzedControls)
	assert.Equal(t, 1, broken.Actions())
	for _, el := range after {
		assert.NotEmpty(t, el.Value())
	}
}

func TestRun_PassiveInvisibleBodyFailsBeforeAudit(t *testing.T) {
	s := browsertest.New()
	s.Elements[BodySelector] = []*browsertest.Element{browsertest.NewElement("body", "").Hidden()}
	auditor := &countingAuditor{}
	st := site()
	st.Accessibility = &AccessibilityConfig{Enabled: true, FailOnViolation: true}

	out, err := newEngine(s, WithAuditor(auditor)).Run(context.Background(), st, Passive)

	require.ErrorIs(t, err, ErrVisibility)
	assert.Equal(t, result.CategoryVisibility, out.Category)
	assert.Equal(t, "body is not visible on the page", out.Message)
	assert.Equal(t, 0, auditor.calls)
}

func TestRun_PassiveMissingBodyFails(t *testing.T) {
	_, err := newEngine(browsertest.New()).Run(context.Background(), site(), Passive)

	assert.ErrorIs(t, err, ErrVisibility)
}

func TestRun_NavigationFailureReleasesListeners(t *testing.T) {
	s := newSession()
	s.NavigateErr = errors.New("net::ERR_CONNECTION_REFUSED")
	st := site()
	st.Traffic = &traffic.Config{Enabled: true, SlowRequestThresholdMS: 50}
	st.Chaos = &ChaosConfig{Enabled: true}
	e := newEngine(s)

	for _, mode := range []Mode{Passive, Exploratory, Passive} {
		out, err := e.Run(context.Background(), st, mode)

		require.ErrorIs(t, err, ErrNavigation)
		assert.ErrorIs(t, err, s.NavigateErr)
		assert.False(t, out.Success)
		assert.Equal(t, result.CategoryNavigation, out.Category)
		assert.Equal(t, "navigation failed: net::ERR_CONNECTION_REFUSED", out.Message)
		assert.Equal(t, 0, s.ListenerCount(), "mode %s leaked a listener", mode)
		assert.False(t, s.Intercepting(), "mode %s leaked a route", mode)
	}
}

func TestRun_CancelledContextStillTearsDown(t *testing.T) {
	s := newSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(s).Run(ctx, site(), Passive)

	require.ErrorIs(t, err, ErrNavigation)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestRun_ChaosFailureRateOneFailsNavigation(t *testing.T) {
	s := newSession()
	st := site()
	st.Chaos = &ChaosConfig{Enabled: true, RequestFailureRate: 1.0}

	for seed := uint64(0); seed < 5; seed++ {
		_, err := newEngine(s, WithRand(fuzz.NewRand(seed))).Run(context.Background(), st, Exploratory)

		require.ErrorIs(t, err, ErrNavigation)
		assert.ErrorIs(t, err, browser.ErrAborted)
		assert.False(t, s.Intercepting())
	}
}

func TestRun_ChaosOfflineFailsNavigationRegardlessOfRate(t *testing.T) {
	for _, rate := range []float64{0, 0.5, 1} {
		s := newSession()
		st := site()
		st.Chaos = &ChaosConfig{Enabled: true, Offline: true, RequestFailureRate: rate}

		_, err := newEngine(s).Run(context.Background(), st, Exploratory)

		require.ErrorIs(t, err, ErrNavigation, "rate %v", rate)
		assert.False(t, s.Offline(), "connectivity must be restored")
		assert.False(t, s.Intercepting())
	}
}

func TestRun_ChaosLatencyDelaysThenContinues(t *testing.T) {
	s := newSession()
	s.Pages[siteURL] = browsertest.Page{Resources: []browsertest.Resource{{URL: siteURL + "app.js"}}}
	st := site()
	st.Chaos = &ChaosConfig{Enabled: true, LatencyMS: 250}
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := newEngine(s, WithSleep(sleep)).Run(context.Background(), st, Exploratory)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, delays)
}

func TestRun_ChaosIgnoredInPassiveMode(t *testing.T) {
	s := newSession()
	st := site()
	st.Chaos = &ChaosConfig{Enabled: true, Offline: true, RequestFailureRate: 1}

	_, err := newEngine(s).Run(context.Background(), st, Passive)

	require.NoError(t, err)
}

func trafficPage() browsertest.Page {
	return browsertest.Page{Resource: browsertest.Resource{
		Body:     strings.Repeat("x", 200),
		Duration: 100 * time.Millisecond,
	}}
}

func TestRun_TrafficFailOnIssues(t *testing.T) {
	s := newSession()
	s.Pages[siteURL] = trafficPage()
	st := site()
	st.Traffic = &traffic.Config{Enabled: true, SlowRequestThresholdMS: 50, LargePayloadThresholdBytes: traffic.Threshold(100), FailOnIssues: true}

	out, err := newEngine(s).Run(context.Background(), st, Passive)

	require.ErrorIs(t, err, ErrTraffic)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Len(t, f.Evidence, 2)
	assert.Contains(t, out.Message, "Slow request detected: "+siteURL)
	assert.Contains(t, out.Message, "Large payload detected: "+siteURL+" (200 bytes)")
	assert.Len(t, out.Issues, 2)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestRun_TrafficReportOnly(t *testing.T) {
	s := newSession()
	s.Pages[siteURL] = trafficPage()
	st := site()
	st.Traffic = &traffic.Config{Enabled: true, SlowRequestThresholdMS: 50, LargePayloadThresholdBytes: traffic.Threshold(100)}

	for _, mode := range Modes {
		out, err := newEngine(s).Run(context.Background(), st, mode)

		require.NoError(t, err, "mode %s", mode)
		require.Len(t, out.Issues, 2)
		kinds := []traffic.Kind{out.Issues[0].Kind, out.Issues[1].Kind}
		assert.ElementsMatch(t, []traffic.Kind{traffic.KindSlowRequest, traffic.KindLargePayload}, kinds)
	}
}

func TestRun_PassiveConsoleErrors(t *testing.T) {
	s := newSession()
	s.Pages[siteURL] = browsertest.Page{Errors: []string{"ReferenceError: foo is not defined", "TypeError: x is null"}}

	out, err := newEngine(s).Run(context.Background(), site(), Passive)

	require.ErrorIs(t, err, ErrConsole)
	assert.Equal(t, "console errors detected: ReferenceError: foo is not defined, TypeError: x is null", out.Message)
	assert.Len(t, out.ConsoleErrors, 2)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestRun_ExploratoryIgnoresConsoleErrors(t *testing.T) {
	s := newSession()
	s.Pages[siteURL] = browsertest.Page{Errors: []string{"boom"}}

	out, err := newEngine(s).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.Empty(t, out.ConsoleErrors)
}

func TestRun_Accessibility(t *testing.T) {
	violations := []a11y.Violation{{ID: "image-alt", Impact: a11y.ImpactCritical, Description: "Images must have alternate text", Nodes: 1}}

	t.Run("fail on violation", func(t *testing.T) {
		st := site()
		st.Accessibility = &AccessibilityConfig{Enabled: true, FailOnViolation: true}

		out, err := newEngine(newSession(), WithAuditor(&countingAuditor{violations: violations})).
			Run(context.Background(), st, Passive)

		require.ErrorIs(t, err, ErrAccessibility)
		assert.Contains(t, out.Message, "image-alt (critical)")
		assert.Equal(t, violations, out.Violations)
	})

	t.Run("report only", func(t *testing.T) {
		st := site()
		st.Accessibility = &AccessibilityConfig{Enabled: true}

		out, err := newEngine(newSession(), WithAuditor(&countingAuditor{violations: violations})).
			Run(context.Background(), st, Passive)

		require.NoError(t, err)
		assert.Equal(t, violations, out.Violations)
	})

	t.Run("audit error", func(t *testing.T) {
		st := site()
		st.Accessibility = &AccessibilityConfig{Enabled: true}
		boom := errors.New("axe not injected")

		_, err := newEngine(newSession(), WithAuditor(&countingAuditor{err: boom})).
			Run(context.Background(), st, Passive)

		require.ErrorIs(t, err, ErrAccessibility)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("disabled", func(t *testing.T) {
		auditor := &countingAuditor{violations: violations}

		_, err := newEngine(newSession(), WithAuditor(auditor)).Run(context.Background(), site(), Passive)

		require.NoError(t, err)
		assert.Equal(t, 0, auditor.calls)
	})
}

func TestRun_ClicksOneRandomVisibleTarget(t *testing.T) {
	s := newSession()
	first := browsertest.NewElement("button", "")
	second := browsertest.NewElement("a", "")
	hidden := browsertest.NewElement("button", "").Hidden()
	s.Elements[ClickableSelector] = []*browsertest.Element{first, hidden, second}

	out, err := newEngine(s, WithRand(fuzz.NewRandSource(tails))).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 0, first.Clicks())
	assert.Equal(t, 0, hidden.Actions())
	assert.Equal(t, 1, second.Clicks())
	assert.Equal(t, "a #1", out.Clicked)
}

func TestRun_ClickFailureIsNotSurfaced(t *testing.T) {
	s := newSession()
	btn := browsertest.NewElement("button", "")
	btn.ClickErr = errors.New("element intercepts pointer events")
	s.Elements[ClickableSelector] = []*browsertest.Element{btn}

	out, err := newEngine(s).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, btn.Actions())
}

func TestRun_NoClickablesIsNoOp(t *testing.T) {
	out, err := newEngine(newSession()).Run(context.Background(), site(), Exploratory)

	require.NoError(t, err)
	assert.Empty(t, out.Clicked)
}

func TestRun_StorageFuzzing(t *testing.T) {
	for _, tt := range []struct {
		name  string
		cfg   *StorageFuzzingConfig
		mode  Mode
		calls int
	}{
		{"enabled exploratory", &StorageFuzzingConfig{Enabled: true}, Exploratory, 1},
		{"disabled", &StorageFuzzingConfig{Enabled: false}, Exploratory, 0},
		{"absent", nil, Exploratory, 0},
		{"passive never fuzzes", &StorageFuzzingConfig{Enabled: true}, Passive, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := &countingMutator{}
			st := site()
			st.StorageFuzzing = tt.cfg

			_, err := newEngine(newSession(), WithStorageFuzzer(m)).Run(context.Background(), st, tt.mode)

			require.NoError(t, err)
			assert.Equal(t, tt.calls, m.calls)
		})
	}
}

func TestRun_ScrollStopsAtStepCapOnEndlessPage(t *testing.T) {
	s := newSession()
	height := 1000.0
	s.EvaluateFunc = func(script string, out any) error {
		height += 500
		*out.(*scrollState) = scrollState{Height: height, AtBottom: true}
		return nil
	}
	st := site()
	st.Scroll = &ScrollConfig{Enabled: true, MaxSteps: 7}

	out, err := newEngine(s).Run(context.Background(), st, Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 7, out.ScrollSteps)
	assert.Equal(t, 7, s.Evaluations())
}

func TestRun_ScrollStopsWhenPageStopsGrowing(t *testing.T) {
	s := newSession()
	calls := 0
	s.EvaluateFunc = func(script string, out any) error {
		calls++
		*out.(*scrollState) = scrollState{Height: 3000, AtBottom: calls >= 3}
		return nil
	}
	st := site()
	st.Scroll = nil // default: enabled

	out, err := newEngine(s).Run(context.Background(), st, Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 3, out.ScrollSteps)
}

func TestRun_ScrollErrorIsSwallowed(t *testing.T) {
	s := newSession()
	s.EvaluateFunc = func(string, any) error { return errors.New("execution context was destroyed") }
	st := site()
	st.Scroll = &ScrollConfig{Enabled: true, MaxSteps: 10}

	out, err := newEngine(s).Run(context.Background(), st, Exploratory)

	require.NoError(t, err)
	assert.Equal(t, 0, out.ScrollSteps)
}

func TestRun_ScreenshotOnlyWhenVerdictMatches(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 10_000_000, time.UTC) }

	tests := []struct {
		name      string
		onSuccess bool
		onFailure bool
		fail      bool
		captures  int
	}{
		{"success captured", true, false, false, 1},
		{"failure not captured", true, false, true, 0},
		{"failure captured", false, true, true, 1},
		{"success not captured", false, true, false, 0},
		{"both", true, true, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "shots")
			s := newSession()
			if tt.fail {
				s.NavigateErr = errors.New("net::ERR_FAILED")
			}
			st := site()
			st.Name = "my site"
			st.Screenshot = &ScreenshotConfig{Enabled: true, Directory: dir, OnSuccess: tt.onSuccess, OnFailure: tt.onFailure}

			out, _ := newEngine(s, WithClock(clock)).Run(context.Background(), st, Passive)

			assert.Equal(t, tt.captures, s.Screenshots())
			if tt.captures == 0 {
				assert.Empty(t, out.Screenshot)
				return
			}
			status := "success"
			if tt.fail {
				status = "failure"
			}
			want := filepath.Join(dir, "my_site-passive-"+status+"-2024-05-06T07-08-09-010Z.png")
			assert.Equal(t, want, out.Screenshot)
			assert.FileExists(t, want)
		})
	}
}

func TestRun_ScreenshotDisabled(t *testing.T) {
	s := newSession()
	st := site()
	st.Screenshot = &ScreenshotConfig{Enabled: false, OnSuccess: true, OnFailure: true}

	_, err := newEngine(s).Run(context.Background(), st, Passive)

	require.NoError(t, err)
	assert.Equal(t, 0, s.Screenshots())
}

func TestRun_ScreenshotErrorDoesNotChangeVerdict(t *testing.T) {
	s := newSession()
	s.ScreenshotErr = errors.New("target closed")
	st := site()
	st.Screenshot = &ScreenshotConfig{Enabled: true, Directory: t.TempDir(), OnSuccess: true}

	out, err := newEngine(s).Run(context.Background(), st, Passive)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Screenshot)
}

func TestScreenshotName(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("CET", 3600))

	got := ScreenshotName("Shop: Home/Page", Exploratory, false, at)

	assert.Equal(t, "Shop__Home_Page-exploratory-failure-2024-01-02T02-04-05-006Z.png", got)
}

func TestDefaultScreenshotDir(t *testing.T) {
	tmp := t.TempDir()
	t.Chdir(tmp)

	s := newSession()
	st := site()
	st.Screenshot = &ScreenshotConfig{Enabled: true, OnSuccess: true}

	out, err := newEngine(s).Run(context.Background(), st, Passive)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Screenshot, DefaultScreenshotDir+string(filepath.Separator)))
	assert.FileExists(t, filepath.Join(tmp, out.Screenshot))
}

// lateSession holds back events until Flush, like an adapter whose
// callbacks run on their own goroutine.
type lateSession struct {
	*browsertest.Session
	once     sync.Once
	deliver  func(s *browsertest.Session)
	flushErr error
}

func (s *lateSession) Flush(ctx context.Context) error {
	s.once.Do(func() { s.deliver(s.Session) })
	if s.flushErr != nil {
		return s.flushErr
	}
	return s.Session.Flush(ctx)
}

func TestRun_PassiveWaitsForPendingPageErrors(t *testing.T) {
	s := &lateSession{Session: newSession(), deliver: func(s *browsertest.Session) {
		s.EmitPageError(errors.New("TypeError: late is undefined"))
	}}

	out, err := newEngine(s).Run(context.Background(), site(), Passive)

	require.ErrorIs(t, err, ErrConsole)
	assert.Equal(t, []string{"TypeError: late is undefined"}, out.ConsoleErrors)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestRun_TrafficVerdictWaitsForPendingEvents(t *testing.T) {
	slow := browser.Request{ID: "late", URL: siteURL + "app.js", Duration: time.Second}
	for _, mode := range Modes {
		t.Run(string(mode), func(t *testing.T) {
			s := &lateSession{Session: newSession(), deliver: func(s *browsertest.Session) {
				s.EmitRequest(slow)
				s.EmitRequestFinished(slow)
			}}
			st := site()
			st.Traffic = &traffic.Config{Enabled: true, SlowRequestThresholdMS: 50, FailOnIssues: true}

			out, err := newEngine(s).Run(context.Background(), st, mode)

			require.ErrorIs(t, err, ErrTraffic)
			require.Len(t, out.Issues, 1)
			assert.Equal(t, siteURL+"app.js", out.Issues[0].URL)
		})
	}
}

func TestRun_FlushFailureDoesNotFailTheRun(t *testing.T) {
	s := &lateSession{
		Session:  newSession(),
		deliver:  func(*browsertest.Session) {},
		flushErr: errors.New("flush events: session closed"),
	}

	out, err := newEngine(s).Run(context.Background(), site(), Passive)

	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestRun_IssuesAfterVerdictAreNotReported(t *testing.T) {
	s := &emitOnRemove{
		Session: newSession(),
		req:     browser.Request{ID: "x", URL: siteURL + "beacon", Duration: time.Second},
	}
	st := site()
	st.Traffic = &traffic.Config{Enabled: true, SlowRequestThresholdMS: 50, FailOnIssues: true}

	out, err := newEngine(s).Run(context.Background(), st, Passive)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Issues, "a passing run must not report issues it never judged")
}

// emitOnRemove finishes a slow request just as a listener is removed, after
// the verdict but before teardown completes.
type emitOnRemove struct {
	*browsertest.Session
	req browser.Request
}

func (s *emitOnRemove) Listen(l browser.Listener) func() {
	remove := s.Session.Listen(l)
	return func() {
		if l.RequestFinished != nil {
			l.RequestFinished(s.req)
		}
		remove()
	}
}
