package suite

import (
	"io"
	"net/url"

	"golang.org/x/net/html"

	"github.com/lukemcguire/primal/urlutil"
)

// extractLinks returns the normalized http(s) targets of every anchor in
// the document, in document order and without duplicates. A <base href>
// seen before an anchor changes the resolution base for later anchors.
// Hrefs that do not parse are skipped.
func extractLinks(body io.Reader, base *url.URL) ([]string, error) {
	z := html.NewTokenizer(body)
	seen := make(map[string]struct{})
	var links []string

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return links, err
			}
			return links, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			href, ok := attr(tok, "href")
			if !ok {
				continue
			}
			switch tok.Data {
			case "base":
				if u, err := base.Parse(href); err == nil {
					base = u
				}
			case "a":
				u, err := base.Parse(href)
				if err != nil {
					continue
				}
				link, err := urlutil.Normalize(u.String())
				if err != nil || !urlutil.IsHTTPScheme(link) {
					continue
				}
				if _, dup := seen[link]; dup {
					continue
				}
				seen[link] = struct{}{}
				links = append(links, link)
			}
		}
	}
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
