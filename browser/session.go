// Package browser defines the browser-automation surface the exploration
// engine drives. Adapters (see browser/cdp) implement Session against a real
// browser; browser/browsertest provides an in-memory fake for tests.
package browser

import "context"

// Session is one page in one browsing context.
//
// Listener callbacks registered through Listen and route handlers registered
// through Intercept may be invoked from goroutines owned by the adapter,
// concurrently with calls made on the session.
type Session interface {
	// Navigate loads url and waits for the document to load.
	Navigate(ctx context.Context, url string) error
	// Query returns every element matching the CSS selector, visible or not.
	Query(ctx context.Context, selector string) ([]Element, error)
	// Evaluate runs script in the page and decodes its JSON result into out.
	// The script must evaluate to a JSON-serializable value.
	Evaluate(ctx context.Context, script string, out any) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookie(ctx context.Context, cookie Cookie) error
	// DeleteCookie removes the cookie identified by name, domain and path.
	DeleteCookie(ctx context.Context, cookie Cookie) error

	LocalStorage(ctx context.Context) (map[string]string, error)
	SetLocalStorage(ctx context.Context, key, value string) error
	RemoveLocalStorage(ctx context.Context, key string) error

	// Intercept routes every outgoing request through handler until the
	// returned remove func is called. Each Route must be resolved exactly once.
	Intercept(ctx context.Context, handler RouteHandler) (remove func(), err error)
	// Listen registers l until the returned remove func is called.
	Listen(l Listener) (remove func())
	// Flush blocks until every event the page emitted before the call has
	// been handed to the listeners, or ctx ends.
	Flush(ctx context.Context) error
	// SetOffline toggles the browsing context's connectivity.
	SetOffline(ctx context.Context, offline bool) error
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Element is a handle to a DOM element found by Session.Query.
type Element interface {
	// Describe reads the element's current state from the live page.
	Describe(ctx context.Context) (ElementInfo, error)
	Fill(ctx context.Context, value string) error
	Check(ctx context.Context) error
	SelectIndex(ctx context.Context, index int) error
	Click(ctx context.Context) error
}

// RouteHandler decides the fate of one intercepted request.
type RouteHandler func(ctx context.Context, route Route)

// Route is an intercepted request awaiting a decision.
type Route interface {
	Request() Request
	Abort(ctx context.Context) error
	Continue(ctx context.Context) error
}

// Listener holds the callbacks for page events. Nil fields are skipped.
type Listener struct {
	PageError       func(err error)
	Request         func(req Request)
	Response        func(resp Response)
	RequestFinished func(req Request)
	RequestFailed   func(req Request)
}
