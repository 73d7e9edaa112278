package browser

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ElementInfo is a snapshot of an element's identity and visibility.
type ElementInfo struct {
	Tag     string // lowercase tag name
	Type    string // lowercase type attribute, empty when absent
	Visible bool
	Options int // number of <option> children for select elements
}

// SameSite mirrors the cookie SameSite attribute.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Cookie is a browser cookie with all of its attributes.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero for session cookies
	HTTPOnly bool
	Secure   bool
	SameSite SameSite
}

// ResourceType classifies a request the way the browser does.
type ResourceType string

const (
	ResourceDocument ResourceType = "Document"
	ResourceScript   ResourceType = "Script"
	ResourceXHR      ResourceType = "XHR"
	ResourceFetch    ResourceType = "Fetch"
	ResourceImage    ResourceType = "Image"
	ResourceOther    ResourceType = "Other"
)

// Request describes one network request.
type Request struct {
	ID           string
	URL          string
	Method       string
	ResourceType ResourceType
	// Duration is the protocol-reported time from send to completion. It is
	// only set on finished and failed events, and is zero when the adapter
	// could not measure it.
	Duration time.Duration
	// FailureText is set on failed events.
	FailureText string
}

// IsData reports whether the request targets a data: URL.
func (r Request) IsData() bool {
	return strings.HasPrefix(r.URL, "data:")
}

// BodyFunc loads a response body on demand.
type BodyFunc func(ctx context.Context) ([]byte, error)

// Response describes a received response.
type Response struct {
	Request Request
	Status  int
	Headers http.Header
	body    BodyFunc
}

// NewResponse builds a Response whose body is loaded lazily by body.
func NewResponse(req Request, status int, headers http.Header, body BodyFunc) Response {
	if headers == nil {
		headers = http.Header{}
	}
	return Response{Request: req, Status: status, Headers: headers, body: body}
}

// URL returns the URL of the underlying request.
func (r Response) URL() string {
	return r.Request.URL
}

// Body reads the full response body.
func (r Response) Body(ctx context.Context) ([]byte, error) {
	if r.body == nil {
		return nil, ErrNoBody
	}
	return r.body(ctx)
}
