package suite

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/lukemcguire/primal/explorer"
	"github.com/lukemcguire/primal/urlutil"
)

// DiscoverOptions bounds a discovery crawl.
type DiscoverOptions struct {
	MaxPages  int           // pages returned, including the start page
	Client    *http.Client  // nil uses a client with Timeout
	Timeout   time.Duration // per-request timeout when Client is nil
	UserAgent string
	Robots    *RobotsChecker // nil ignores robots.txt
	Pacer     *Pacer         // nil fetches without pacing
	Logger    *slog.Logger
}

// Discover crawls same-domain links breadth-first from site.URL over plain
// HTTP and returns one Site per page that answered with HTML. The first
// element is site itself; the others are named "<site>-<path>" and inherit
// its policies. Pages that fail to load are logged and left out.
func Discover(ctx context.Context, site explorer.Site, opts DiscoverOptions) ([]explorer.Site, error) {
	if opts.MaxPages <= 1 || !urlutil.IsHTTPScheme(site.URL) {
		return []explorer.Site{site}, nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	logger := opts.Logger.With("site", site.Name)

	start, err := urlutil.Normalize(site.URL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", site.Name, err)
	}
	startURL, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", site.Name, err)
	}

	visited, err := newVisitedSet(opts.MaxPages * 20)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", site.Name, err)
	}
	defer func() {
		if closeErr := visited.Close(); closeErr != nil {
			logger.Warn("release visited set", "err", closeErr)
		}
	}()

	sites := []explorer.Site{site}
	visited.add(start)
	queue := []string{start}

	for len(queue) > 0 && len(sites) < opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return sites, err
		}
		page := queue[0]
		queue = queue[1:]

		links, ok := fetchPage(ctx, page, opts, logger)
		if page != start && ok {
			child := site
			child.Name = site.Name + "-" + urlutil.Slug(page)
			child.URL = page
			sites = append(sites, child)
		}
		for _, link := range links {
			if !urlutil.IsSameDomain(link, startURL.Hostname()) || !visited.add(link) {
				continue
			}
			if opts.Robots != nil {
				allowed, robotsErr := opts.Robots.Allowed(ctx, link)
				if robotsErr != nil {
					logger.Debug("robots.txt check", "url", link, "err", robotsErr)
				}
				if !allowed {
					continue
				}
			}
			queue = append(queue, link)
		}
	}

	logger.Info("discovery finished", "pages", len(sites))
	return sites, nil
}

// fetchPage GETs page and returns its links. ok is false when the page
// failed or is not HTML.
func fetchPage(ctx context.Context, page string, opts DiscoverOptions, logger *slog.Logger) (links []string, ok bool) {
	if opts.Pacer != nil {
		if err := opts.Pacer.Wait(ctx); err != nil {
			return nil, false
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		logger.Warn("skip page", "url", page, "err", err)
		return nil, false
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	sent := time.Now()
	resp, err := opts.Client.Do(req)
	if opts.Pacer != nil {
		opts.Pacer.Observe(time.Since(sent))
	}
	if err != nil {
		logger.Warn("skip page", "url", page, "err", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("skip page", "url", page, "status", resp.StatusCode)
		return nil, false
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/html" && mt != "application/xhtml+xml" {
		return nil, false
	}

	links, err = extractLinks(resp.Body, resp.Request.URL)
	if err != nil {
		logger.Debug("partial link extraction", "url", page, "err", err)
	}
	return links, true
}
