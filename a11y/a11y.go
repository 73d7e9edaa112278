// Package a11y audits a loaded page for accessibility violations.
package a11y

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukemcguire/primal/browser"
)

// Impact grades how badly a violation affects users.
type Impact string

const (
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

// Violation is one failed rule and how many nodes failed it.
type Violation struct {
	ID          string `json:"id"`
	Impact      Impact `json:"impact"`
	Description string `json:"description"`
	Nodes       int    `json:"nodes"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s): %s [%d node(s)]", v.ID, v.Impact, v.Description, v.Nodes)
}

// Auditor runs an accessibility audit against the page loaded in a session.
type Auditor interface {
	Audit(ctx context.Context, s browser.Session) ([]Violation, error)
}

// AuditorFunc adapts a function to the Auditor interface.
type AuditorFunc func(ctx context.Context, s browser.Session) ([]Violation, error)

// Audit calls f.
func (f AuditorFunc) Audit(ctx context.Context, s browser.Session) ([]Violation, error) {
	return f(ctx, s)
}

// Summarize renders violations one per line.
func Summarize(violations []Violation) string {
	lines := make([]string, len(violations))
	for i, v := range violations {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}
