package suite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// DefaultUserAgent identifies primal to robots.txt and discovery requests.
const DefaultUserAgent = "primal/1.0 (+https://github.com/lukemcguire/primal)"

const (
	robotsTTL       = time.Hour
	robotsBodyLimit = 512 << 10
)

// robotsEntry is the cached rule set for one origin. A nil group allows
// everything.
type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsChecker answers whether a URL may be exercised, caching one
// robots.txt per origin. It fails open: any fetch or parse problem allows
// the URL and is returned alongside the verdict.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]robotsEntry
	fetches singleflight.Group
}

// NewRobotsChecker creates a checker. A nil client uses a client with a 5s
// timeout.
func NewRobotsChecker(client *http.Client, userAgent string) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		now:       time.Now,
		entries:   make(map[string]robotsEntry),
	}
}

// Allowed reports whether rawURL may be visited. Non-HTTP URLs are always
// allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return true, nil
	}
	origin := u.Scheme + "://" + u.Host

	group, err := r.group(ctx, origin)
	if group == nil {
		return true, err
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path), err
}

func (r *RobotsChecker) group(ctx context.Context, origin string) (*robotstxt.Group, error) {
	r.mu.Lock()
	entry, ok := r.entries[origin]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.fetchedAt) < robotsTTL {
		return entry.group, nil
	}

	// Concurrent workers hitting the same origin share one fetch.
	v, err, _ := r.fetches.Do(origin, func() (any, error) {
		group, fetchErr := r.fetch(ctx, origin)
		r.mu.Lock()
		r.entries[origin] = robotsEntry{group: group, fetchedAt: r.now()}
		r.mu.Unlock()
		return group, fetchErr
	})
	group, _ := v.(*robotstxt.Group)
	return group, err
}

func (r *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots.txt request for %s: %w", origin, err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", origin, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt for %s: %w", origin, err)
	}

	// Missing or broken robots.txt allows everything.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return nil, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", origin, err)
	}
	return data.FindGroup(r.userAgent), nil
}
