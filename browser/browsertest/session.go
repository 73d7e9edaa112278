// Package browsertest provides an in-memory browser.Session for tests.
//
// Navigation is scripted through Pages: every navigation emits the request,
// response and finished events for the document and its resources, runs
// them through the installed route handler, and raises the page's script
// errors. Listener callbacks run synchronously on the caller's goroutine.
package browsertest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lukemcguire/primal/browser"
)

// Resource is one scripted network exchange.
type Resource struct {
	URL      string
	Status   int
	Body     string
	Headers  http.Header
	Duration time.Duration // protocol duration reported on finish
	BodyErr  error
}

// Page is the scripted behavior of one URL.
type Page struct {
	Resource
	Errors    []string   // uncaught script errors raised after load
	Resources []Resource // subresources fetched after the document
}

// Session is a scriptable fake browser.Session. Exported fields configure
// behavior and must be set before the session is used.
type Session struct {
	Pages        map[string]Page
	Elements     map[string][]*Element
	HTMLDoc      string
	NavigateErr  error
	EvaluateFunc func(script string, out any) error

	CookiesErr      error
	SetCookieErr    error
	StorageErr      error
	ScreenshotErr   error
	ScreenshotBytes []byte

	mu          sync.Mutex
	listeners   map[int]browser.Listener
	nextID      int
	route       browser.RouteHandler
	offline     bool
	cookies     []browser.Cookie
	storage     map[string]string
	navigations []string
	screenshots int
	evaluations int
	flushes     int
	requestSeq  int
}

// New returns an empty session.
func New() *Session {
	return &Session{
		Pages:     make(map[string]Page),
		Elements:  make(map[string][]*Element),
		listeners: make(map[int]browser.Listener),
		storage:   make(map[string]string),
	}
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	offline := s.offline
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if offline {
		return fmt.Errorf("navigate %s: net::ERR_INTERNET_DISCONNECTED: %w", url, browser.ErrOffline)
	}
	if s.NavigateErr != nil {
		return s.NavigateErr
	}

	page, ok := s.Pages[url]
	if !ok {
		page = Page{Resource: Resource{Status: http.StatusOK, Body: "<html><body></body></html>"}}
	}
	page.URL = url
	if err := s.exchange(ctx, page.Resource, browser.ResourceDocument); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	for _, res := range page.Resources {
		// Subresource failures never fail the navigation.
		_ = s.exchange(ctx, res, browser.ResourceScript)
	}
	for _, msg := range page.Errors {
		s.EmitPageError(fmt.Errorf("%s", msg))
	}
	return nil
}

func (s *Session) exchange(ctx context.Context, res Resource, kind browser.ResourceType) error {
	s.mu.Lock()
	s.requestSeq++
	req := browser.Request{
		ID:           strconv.Itoa(s.requestSeq),
		URL:          res.URL,
		Method:       http.MethodGet,
		ResourceType: kind,
	}
	handler := s.route
	s.mu.Unlock()

	s.emit(func(l browser.Listener) {
		if l.Request != nil {
			l.Request(req)
		}
	})

	if handler != nil {
		route := &Route{req: req}
		handler(ctx, route)
		if route.Aborted() {
			failed := req
			failed.FailureText = "net::ERR_FAILED"
			s.emit(func(l browser.Listener) {
				if l.RequestFailed != nil {
					l.RequestFailed(failed)
				}
			})
			return fmt.Errorf("net::ERR_FAILED: %w", browser.ErrAborted)
		}
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	body, bodyErr := []byte(res.Body), res.BodyErr
	resp := browser.NewResponse(req, status, res.Headers.Clone(), func(context.Context) ([]byte, error) {
		if bodyErr != nil {
			return nil, bodyErr
		}
		return body, nil
	})
	s.emit(func(l browser.Listener) {
		if l.Response != nil {
			l.Response(resp)
		}
	})

	finished := req
	finished.Duration = res.Duration
	s.emit(func(l browser.Listener) {
		if l.RequestFinished != nil {
			l.RequestFinished(finished)
		}
	})
	return nil
}

// Query implements browser.Session.
func (s *Session) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := s.Elements[selector]
	out := make([]browser.Element, 0, len(found))
	for _, el := range found {
		out = append(out, el)
	}
	return out, nil
}

// Evaluate implements browser.Session.
func (s *Session) Evaluate(_ context.Context, script string, out any) error {
	s.mu.Lock()
	s.evaluations++
	s.mu.Unlock()
	if s.EvaluateFunc == nil {
		return nil
	}
	return s.EvaluateFunc(script, out)
}

// HTML implements browser.Session.
func (s *Session) HTML(context.Context) (string, error) {
	return s.HTMLDoc, nil
}

// Cookies implements browser.Session.
func (s *Session) Cookies(context.Context) ([]browser.Cookie, error) {
	if s.CookiesErr != nil {
		return nil, s.CookiesErr
	}
	return s.CookieJar(), nil
}

// SetCookie implements browser.Session.
func (s *Session) SetCookie(_ context.Context, cookie browser.Cookie) error {
	if s.SetCookieErr != nil {
		return s.SetCookieErr
	}
	s.AddCookie(cookie)
	return nil
}

// DeleteCookie implements browser.Session.
func (s *Session) DeleteCookie(_ context.Context, cookie browser.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cookies[:0]
	for _, c := range s.cookies {
		if sameCookie(c, cookie) {
			continue
		}
		kept = append(kept, c)
	}
	s.cookies = kept
	return nil
}

// LocalStorage implements browser.Session.
func (s *Session) LocalStorage(context.Context) (map[string]string, error) {
	if s.StorageErr != nil {
		return nil, s.StorageErr
	}
	return s.Storage(), nil
}

// SetLocalStorage implements browser.Session.
func (s *Session) SetLocalStorage(_ context.Context, key, value string) error {
	if s.StorageErr != nil {
		return s.StorageErr
	}
	s.SetItem(key, value)
	return nil
}

// RemoveLocalStorage implements browser.Session.
func (s *Session) RemoveLocalStorage(_ context.Context, key string) error {
	if s.StorageErr != nil {
		return s.StorageErr
	}
	s.mu.Lock()
	delete(s.storage, key)
	s.mu.Unlock()
	return nil
}

// Intercept implements browser.Session.
func (s *Session) Intercept(_ context.Context, handler browser.RouteHandler) (func(), error) {
	s.mu.Lock()
	s.route = handler
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.route = nil
			s.mu.Unlock()
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

// Flush implements browser.Session. Events are delivered synchronously, so
// there is never anything pending.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return ctx.Err()
}

// Flushes reports how many times Flush was called.
func (s *Session) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// SetOffline implements browser.Session.
func (s *Session) SetOffline(_ context.Context, offline bool) error {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
	return nil
}

// Screenshot implements browser.Session.
func (s *Session) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	s.screenshots++
	s.mu.Unlock()
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	if s.ScreenshotBytes != nil {
		return s.ScreenshotBytes, nil
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

// EmitPageError delivers err to every PageError listener.
func (s *Session) EmitPageError(err error) {
	s.emit(func(l browser.Listener) {
		if l.PageError != nil {
			l.PageError(err)
		}
	})
}

// EmitResponse delivers resp to every Response listener.
func (s *Session) EmitResponse(resp browser.Response) {
	s.emit(func(l browser.Listener) {
		if l.Response != nil {
			l.Response(resp)
		}
	})
}

// EmitRequest delivers req to every Request listener.
func (s *Session) EmitRequest(req browser.Request) {
	s.emit(func(l browser.Listener) {
		if l.Request != nil {
			l.Request(req)
		}
	})
}

// EmitRequestFinished delivers req to every RequestFinished listener.
func (s *Session) EmitRequestFinished(req browser.Request) {
	s.emit(func(l browser.Listener) {
		if l.RequestFinished != nil {
			l.RequestFinished(req)
		}
	})
}

// EmitRequestFailed delivers req to every RequestFailed listener.
func (s *Session) EmitRequestFailed(req browser.Request) {
	s.emit(func(l browser.Listener) {
		if l.RequestFailed != nil {
			l.RequestFailed(req)
		}
	})
}

func (s *Session) emit(fn func(l browser.Listener)) {
	s.mu.Lock()
	snapshot := make([]browser.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		snapshot = append(snapshot, l)
	}
	s.mu.Unlock()
	for _, l := range snapshot {
		fn(l)
	}
}

// AddCookie stores cookie, replacing one with the same name, domain and path.
func (s *Session) AddCookie(cookie browser.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.cookies {
		if sameCookie(c, cookie) {
			s.cookies[i] = cookie
			return
		}
	}
	s.cookies = append(s.cookies, cookie)
}

// CookieJar returns a copy of the stored cookies.
func (s *Session) CookieJar() []browser.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// SetItem stores a local-storage entry.
func (s *Session) SetItem(key, value string) {
	s.mu.Lock()
	s.storage[key] = value
	s.mu.Unlock()
}

// Storage returns a copy of local storage.
func (s *Session) Storage() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.storage))
	for k, v := range s.storage {
		out[k] = v
	}
	return out
}

// ListenerCount reports how many listeners are registered.
func (s *Session) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Intercepting reports whether a route handler is installed.
func (s *Session) Intercepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route != nil
}

// Offline reports the current connectivity setting.
func (s *Session) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Navigations returns every URL passed to Navigate.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Screenshots reports how many captures were taken.
func (s *Session) Screenshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots
}

// Evaluations reports how many scripts were evaluated.
func (s *Session) Evaluations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluations
}

func sameCookie(a, b browser.Cookie) bool {
	return a.Name == b.Name && a.Domain == b.Domain && a.Path == b.Path
}

// Route is the fake's intercepted request.
type Route struct {
	mu        sync.Mutex
	req       browser.Request
	aborted   bool
	continued bool
}

// Request implements browser.Route.
func (r *Route) Request() browser.Request { return r.req }

// Abort implements browser.Route.
func (r *Route) Abort(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || r.continued {
		return browser.ErrResolved
	}
	r.aborted = true
	return nil
}

// Continue implements browser.Route.
func (r *Route) Continue(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || r.continued {
		return browser.ErrResolved
	}
	r.continued = true
	return nil
}

// Aborted reports whether Abort was called.
func (r *Route) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}
