package a11y

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lukemcguire/primal/browser"
)

// rule checks one property of a parsed document and returns the number of
// offending nodes.
type rule struct {
	id          string
	impact      Impact
	description string
	check       func(doc *goquery.Document) int
}

var rules = []rule{
	{
		id:          "image-alt",
		impact:      ImpactCritical,
		description: "Images must have alternate text",
		check: func(doc *goquery.Document) int {
			return count(doc.Find("img"), func(s *goquery.Selection) bool {
				if role, _ := s.Attr("role"); role == "presentation" || role == "none" {
					return false
				}
				_, hasAlt := s.Attr("alt")
				return !hasAlt && !hasLabelAttr(s)
			})
		},
	},
	{
		id:          "html-has-lang",
		impact:      ImpactSerious,
		description: "<html> element must have a lang attribute",
		check: func(doc *goquery.Document) int {
			lang, _ := doc.Find("html").First().Attr("lang")
			if strings.TrimSpace(lang) == "" {
				return 1
			}
			return 0
		},
	},
	{
		id:          "document-title",
		impact:      ImpactSerious,
		description: "Documents must have <title> element to aid in navigation",
		check: func(doc *goquery.Document) int {
			if strings.TrimSpace(doc.Find("title").First().Text()) == "" {
				return 1
			}
			return 0
		},
	},
	{
		id:          "button-name",
		impact:      ImpactCritical,
		description: "Buttons must have discernible text",
		check: func(doc *goquery.Document) int {
			return count(doc.Find("button"), func(s *goquery.Selection) bool {
				return !hasDiscernibleText(s)
			})
		},
	},
	{
		id:          "link-name",
		impact:      ImpactSerious,
		description: "Links must have discernible text",
		check: func(doc *goquery.Document) int {
			return count(doc.Find("a[href]"), func(s *goquery.Selection) bool {
				return !hasDiscernibleText(s)
			})
		},
	},
	{
		id:          "label",
		impact:      ImpactCritical,
		description: "Form elements must have labels",
		check: func(doc *goquery.Document) int {
			return count(doc.Find("input, select, textarea"), func(s *goquery.Selection) bool {
				switch typ, _ := s.Attr("type"); strings.ToLower(typ) {
				case "hidden", "submit", "reset", "button", "image":
					return false
				}
				if hasLabelAttr(s) || s.ParentsFiltered("label").Length() > 0 {
					return false
				}
				if id, ok := s.Attr("id"); ok && id != "" {
					if doc.Find(fmt.Sprintf(`label[for=%q]`, id)).Length() > 0 {
						return false
					}
				}
				return true
			})
		},
	},
}

// StaticAuditor checks the serialized DOM against a fixed set of rules. It
// sees the document as the page renders it at audit time, but does not
// evaluate computed styles or contrast.
type StaticAuditor struct{}

// NewStaticAuditor returns an auditor with the built-in rule set.
func NewStaticAuditor() *StaticAuditor {
	return &StaticAuditor{}
}

// Audit implements Auditor.
func (a *StaticAuditor) Audit(ctx context.Context, s browser.Session) ([]Violation, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return a.AuditHTML(html)
}

// AuditHTML runs the rules against an HTML document.
func (a *StaticAuditor) AuditHTML(html string) ([]Violation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var violations []Violation
	for _, r := range rules {
		if n := r.check(doc); n > 0 {
			violations = append(violations, Violation{
				ID:          r.id,
				Impact:      r.impact,
				Description: r.description,
				Nodes:       n,
			})
		}
	}
	return violations, nil
}

func count(sel *goquery.Selection, failing func(*goquery.Selection) bool) int {
	n := 0
	sel.Each(func(_ int, s *goquery.Selection) {
		if failing(s) {
			n++
		}
	})
	return n
}

func hasLabelAttr(s *goquery.Selection) bool {
	for _, attr := range []string{"aria-label", "aria-labelledby", "title"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func hasDiscernibleText(s *goquery.Selection) bool {
	if hasLabelAttr(s) || strings.TrimSpace(s.Text()) != "" {
		return true
	}
	// An image with alt text names its enclosing control.
	named := false
	s.Find("img[alt]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt, _ := img.Attr("alt")
		named = strings.TrimSpace(alt) != ""
		return !named
	})
	return named
}
