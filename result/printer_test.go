package result

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrintResults_AllPassed(t *testing.T) {
	var buf bytes.Buffer
	r := NewReport([]Record{
		{Site: "home", Status: StatusPassed},
		{Site: "blog", Status: StatusSkipped},
	}, time.Second)

	PrintResults(&buf, r)

	got := buf.String()
	want := "All runs passed!\nRan 2, passed 1, failed 0, skipped 1 in 1s\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPrintResults_GroupsByCategory(t *testing.T) {
	var buf bytes.Buffer
	r := NewReport([]Record{
		{Site: "shop", Mode: "passive", URL: "http://example.com/", Status: StatusFailed,
			Category: CategoryConsole, Message: "console errors detected: a, b"},
		{Site: "blog", Mode: "exploratory", URL: "http://example.com/blog", Status: StatusFailed,
			Category: CategoryNavigation, Message: "navigation failed: net::ERR_FAILED",
			Screenshot: "screenshots/blog-exploratory-failure.png"},
		{Site: "home", Mode: "passive", Status: StatusPassed},
	}, 5*time.Second)

	PrintResults(&buf, r)

	got := buf.String()
	for _, want := range []string{
		"Navigation Failures (1):",
		"  blog [exploratory] http://example.com/blog",
		"    navigation failed: net::ERR_FAILED",
		"    Screenshot: screenshots/blog-exploratory-failure.png",
		"Console Errors (1):",
		"    console errors detected: a, b",
		"Ran 3, passed 1, failed 2, skipped 0 in 5s",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	// Categories print in a fixed order
	if strings.Index(got, "Navigation Failures") > strings.Index(got, "Console Errors") {
		t.Error("navigation group should print before console group")
	}
}

func TestPrintResults_UncategorizedFailuresLast(t *testing.T) {
	var buf bytes.Buffer
	r := NewReport([]Record{
		{Site: "slow", Mode: "exploratory", URL: "http://example.com/slow", Status: StatusFailed,
			Message: "context canceled"},
		{Site: "shop", Mode: "passive", URL: "http://example.com/", Status: StatusFailed,
			Category: CategoryTraffic, Message: "network traffic violations detected"},
	}, time.Second)

	PrintResults(&buf, r)

	got := buf.String()
	other := strings.Index(got, "Other Failures (1):")
	if other < 0 {
		t.Fatalf("output missing uncategorized group:\n%s", got)
	}
	if strings.Index(got, "Network Traffic Violations (1):") > other {
		t.Errorf("uncategorized group should print last:\n%s", got)
	}
}
