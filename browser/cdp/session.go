package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/lukemcguire/primal/browser"
)

// registryJS returns the page-side registry that maps elements returned by
// Query to ids, creating it on first use. It lives in a non-enumerable
// window property and holds elements weakly, so the DOM is never touched.
const registryJS = `(window.__primalElements || Object.defineProperty(window, "__primalElements", {
  value: { seq: 0, ids: new WeakMap(), els: new Map() },
}).__primalElements)`

// inflight is a request between requestWillBeSent and its completion.
type inflight struct {
	req  browser.Request
	sent time.Time
	done chan struct{}
}

// Session is one Chrome tab.
type Session struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
	actionTimeout time.Duration
	queue         *eventQueue

	mu         sync.Mutex
	listeners  map[int]browser.Listener
	nextID     int
	route      browser.RouteHandler
	requests   map[network.RequestID]*inflight
	offline    bool
	docAborted bool
	closeOnce  sync.Once
}

var _ browser.Session = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		ctx:           ctx,
		cancel:        cancel,
		logger:        opts.Logger,
		actionTimeout: opts.ActionTimeout,
		queue:         newEventQueue(),
		listeners:     make(map[int]browser.Listener),
		requests:      make(map[network.RequestID]*inflight),
	}
}

// run executes actions on the tab, bounded by both the tab's lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return browser.ErrClosed
	}
	tctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// Close closes the tab.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.queue.close()
	})
	return nil
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.docAborted = false
	s.mu.Unlock()

	err := s.run(ctx, chromedp.Navigate(url))
	if err == nil {
		return nil
	}

	s.mu.Lock()
	offline, aborted := s.offline, s.docAborted
	s.mu.Unlock()
	switch {
	case offline:
		return fmt.Errorf("navigate %s: %w: %w", url, browser.ErrOffline, err)
	case aborted:
		return fmt.Errorf("navigate %s: %w: %w", url, browser.ErrAborted, err)
	}
	return fmt.Errorf("navigate %s: %w", url, err)
}

// Query implements browser.Session.
func (s *Session) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	script, err := queryScript(selector)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := s.Evaluate(ctx, script, &ids); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]browser.Element, len(ids))
	for i, id := range ids {
		out[i] = &element{s: s, id: id}
	}
	return out, nil
}

// queryScript registers every element matching selector and returns their
// registry ids in document order.
func queryScript(selector string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  const reg = %s;
  return Array.from(document.querySelectorAll(%s), el => {
    let id = reg.ids.get(el);
    if (id === undefined) {
      id = String(++reg.seq);
      reg.ids.set(el, id);
      reg.els.set(id, new WeakRef(el));
    }
    return id;
  });
})()`, registryJS, sel), nil
}

// Evaluate implements browser.Session.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard []byte
		out = &discard
	}
	return s.run(ctx, chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// HTML implements browser.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Cookies implements browser.Session.
func (s *Session) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	cookies := make([]browser.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: browser.SameSite(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			cookie.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// SetCookie implements browser.Session.
func (s *Session) SetCookie(ctx context.Context, c browser.Cookie) error {
	p := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(c.Path).
		WithHTTPOnly(c.HTTPOnly).
		WithSecure(c.Secure)
	if c.SameSite != "" {
		p = p.WithSameSite(network.CookieSameSite(c.SameSite))
	}
	if !c.Expires.IsZero() {
		exp := cdp.TimeSinceEpoch(c.Expires)
		p = p.WithExpires(&exp)
	}
	if err := s.run(ctx, p); err != nil {
		return fmt.Errorf("set cookie %s: %w", c.Name, err)
	}
	return nil
}

// DeleteCookie implements browser.Session.
func (s *Session) DeleteCookie(ctx context.Context, c browser.Cookie) error {
	p := network.DeleteCookies(c.Name).WithDomain(c.Domain).WithPath(c.Path)
	if err := s.run(ctx, p); err != nil {
		return fmt.Errorf("delete cookie %s: %w", c.Name, err)
	}
	return nil
}

// LocalStorage implements browser.Session.
func (s *Session) LocalStorage(ctx context.Context) (map[string]string, error) {
	items := map[string]string{}
	if err := s.Evaluate(ctx, `Object.fromEntries(Object.entries(window.localStorage))`, &items); err != nil {
		return nil, fmt.Errorf("read local storage: %w", err)
	}
	return items, nil
}

// SetLocalStorage implements browser.Session.
func (s *Session) SetLocalStorage(ctx context.Context, key, value string) error {
	args, err := json.Marshal([]string{key, value})
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`((kv) => { window.localStorage.setItem(kv[0], kv[1]); return true; })(%s)`, args)
	if err := s.Evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("set local storage %s: %w", key, err)
	}
	return nil
}

// RemoveLocalStorage implements browser.Session.
func (s *Session) RemoveLocalStorage(ctx context.Context, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => { window.localStorage.removeItem(%s); return true; })()`, k)
	if err := s.Evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("remove local storage %s: %w", key, err)
	}
	return nil
}

// Intercept implements browser.Session. Only one handler is active at a
// time; a later call replaces the earlier one.
func (s *Session) Intercept(ctx context.Context, handler browser.RouteHandler) (func(), error) {
	s.mu.Lock()
	s.route = handler
	s.mu.Unlock()

	if err := s.run(ctx, fetch.Enable()); err != nil {
		s.mu.Lock()
		s.route = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("enable interception: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.route = nil
			s.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
			defer cancel()
			if err := s.run(ctx, fetch.Disable()); err != nil && !errors.Is(err, browser.ErrClosed) {
				s.logger.Debug("disable interception", "err", err)
			}
		})
	}, nil
}

// Listen implements browser.Session.
func (s *Session) Listen(l browser.Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Flush implements browser.Session. The protocol round trip lets events
// Chrome sent before it reach onEvent; the queue marker then waits for
// their callbacks. A failed round trip only weakens the first half.
func (s *Session) Flush(ctx context.Context) error {
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, err := runtime.Evaluate("0").Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("flush events: %w", err)
		}
		s.logger.Debug("flush round trip", "err", err)
	}
	if err := s.queue.flush(ctx); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return nil
}

// SetOffline implements browser.Session.
func (s *Session) SetOffline(ctx context.Context, offline bool) error {
	if err := s.run(ctx, network.EmulateNetworkConditions(offline, 0, -1, -1)); err != nil {
		return fmt.Errorf("emulate network conditions: %w", err)
	}
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
	return nil
}

// Screenshot implements browser.Session.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) snapshot() []browser.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// onEvent runs on chromedp's read loop. It only records request state and
// queues callbacks; anything that talks to the browser happens elsewhere.
func (s *Session) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		req := browser.Request{
			ID:           string(ev.RequestID),
			URL:          ev.Request.URL,
			Method:       ev.Request.Method,
			ResourceType: browser.ResourceType(ev.Type),
		}
		s.mu.Lock()
		entry, ok := s.requests[ev.RequestID]
		if !ok {
			entry = &inflight{done: make(chan struct{})}
			s.requests[ev.RequestID] = entry
		}
		// Redirects reuse the request id; the latest hop wins.
		entry.req = req
		entry.sent = monotonic(ev.Timestamp)
		s.mu.Unlock()
		s.queue.push(func() {
			for _, l := range s.snapshot() {
				if l.Request != nil {
					l.Request(req)
				}
			}
		})

	case *network.EventResponseReceived:
		req := browser.Request{
			ID:           string(ev.RequestID),
			URL:          ev.Response.URL,
			ResourceType: browser.ResourceType(ev.Type),
		}
		s.mu.Lock()
		var done chan struct{}
		if entry, ok := s.requests[ev.RequestID]; ok {
			req.Method = entry.req.Method
			done = entry.done
		}
		s.mu.Unlock()
		resp := browser.NewResponse(req, int(ev.Response.Status), headers(ev.Response.Headers), s.bodyFunc(ev.RequestID, done))
		s.queue.push(func() {
			for _, l := range s.snapshot() {
				if l.Response != nil {
					l.Response(resp)
				}
			}
		})

	case *network.EventLoadingFinished:
		req, ok := s.complete(ev.RequestID, ev.Timestamp, "")
		if !ok {
			return
		}
		s.queue.push(func() {
			for _, l := range s.snapshot() {
				if l.RequestFinished != nil {
					l.RequestFinished(req)
				}
			}
		})

	case *network.EventLoadingFailed:
		req, ok := s.complete(ev.RequestID, ev.Timestamp, ev.ErrorText)
		if !ok {
			return
		}
		s.queue.push(func() {
			for _, l := range s.snapshot() {
				if l.RequestFailed != nil {
					l.RequestFailed(req)
				}
			}
		})

	case *runtime.EventExceptionThrown:
		err := exceptionError(ev.ExceptionDetails)
		s.queue.push(func() {
			for _, l := range s.snapshot() {
				if l.PageError != nil {
					l.PageError(err)
				}
			}
		})

	case *fetch.EventRequestPaused:
		go s.handlePaused(ev)
	}
}

// complete releases the in-flight entry for id and returns the request with
// its protocol-measured duration.
func (s *Session) complete(id network.RequestID, ts *cdp.MonotonicTime, failure string) (browser.Request, bool) {
	s.mu.Lock()
	entry, ok := s.requests[id]
	delete(s.requests, id)
	s.mu.Unlock()
	if !ok {
		return browser.Request{}, false
	}
	close(entry.done)

	req := entry.req
	req.FailureText = failure
	if end := monotonic(ts); !end.IsZero() && !entry.sent.IsZero() && end.After(entry.sent) {
		req.Duration = end.Sub(entry.sent)
	}
	return req, true
}

// bodyFunc loads a response body once the request has finished loading;
// Chrome rejects body reads before that.
func (s *Session) bodyFunc(id network.RequestID, done <-chan struct{}) browser.BodyFunc {
	return func(ctx context.Context) ([]byte, error) {
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.ctx.Done():
				return nil, browser.ErrClosed
			}
		}
		var body []byte
		err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			return nil, fmt.Errorf("get response body: %w", err)
		}
		return body, nil
	}
}

func (s *Session) handlePaused(ev *fetch.EventRequestPaused) {
	s.mu.Lock()
	handler := s.route
	s.mu.Unlock()

	r := &route{
		s:  s,
		id: ev.RequestID,
		req: browser.Request{
			ID:           string(ev.NetworkID),
			URL:          ev.Request.URL,
			Method:       ev.Request.Method,
			ResourceType: browser.ResourceType(ev.ResourceType),
		},
	}
	if handler != nil {
		handler(s.ctx, r)
	}
	if !r.resolved() {
		if err := r.Continue(s.ctx); err != nil {
			s.logger.Debug("continue request", "url", r.req.URL, "err", err)
		}
	}
}

// route is a request paused by the Fetch domain.
type route struct {
	s   *Session
	id  fetch.RequestID
	req browser.Request

	mu   sync.Mutex
	done bool
}

func (r *route) Request() browser.Request { return r.req }

func (r *route) resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return browser.ErrResolved
	}
	r.done = true
	return nil
}

func (r *route) resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *route) Abort(ctx context.Context) error {
	if err := r.resolve(); err != nil {
		return err
	}
	if r.req.ResourceType == browser.ResourceDocument {
		r.s.mu.Lock()
		r.s.docAborted = true
		r.s.mu.Unlock()
	}
	return r.s.run(ctx, fetch.FailRequest(r.id, network.ErrorReasonFailed))
}

func (r *route) Continue(ctx context.Context) error {
	if err := r.resolve(); err != nil {
		return err
	}
	return r.s.run(ctx, fetch.ContinueRequest(r.id))
}

func monotonic(ts *cdp.MonotonicTime) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.Time()
}

func headers(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		// Chrome joins repeated headers with newlines.
		for _, part := range strings.Split(fmt.Sprint(v), "\n") {
			out.Add(k, part)
		}
	}
	return out
}

func exceptionError(d *runtime.ExceptionDetails) error {
	if d == nil {
		return errors.New("uncaught exception")
	}
	if d.Exception != nil && d.Exception.Description != "" {
		// The description carries the message and stack; keep the message.
		msg, _, _ := strings.Cut(d.Exception.Description, "\n")
		return errors.New(msg)
	}
	return errors.New(d.Text)
}
