package result

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/lukemcguire/primal/browser"
)

// Category classifies why a run failed.
type Category string

const (
	CategoryNavigation    Category = "navigation"
	CategoryVisibility    Category = "visibility"
	CategoryAccessibility Category = "accessibility"
	CategoryConsole       Category = "console"
	CategoryTraffic       Category = "traffic"
)

// Categories lists every category in report order.
var Categories = []Category{
	CategoryNavigation,
	CategoryVisibility,
	CategoryAccessibility,
	CategoryConsole,
	CategoryTraffic,
}

// Navigation failure reasons.
const (
	ReasonTimeout           = "timeout"
	ReasonDNSFailure        = "dns_failure"
	ReasonConnectionRefused = "connection_refused"
	ReasonOffline           = "offline"
	ReasonAborted           = "aborted"
	ReasonCanceled          = "canceled"
	ReasonUnknown           = "unknown"
)

// NavigationReason narrows a navigation error down to a reason. Browsers
// report network failures as net::ERR_* text, so those are matched by name.
func NavigationReason(err error) string {
	if err == nil {
		return ""
	}

	// Check timeout first, a deadline can wrap any other cause
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, browser.ErrOffline) {
		return ReasonOffline
	}
	if errors.Is(err, browser.ErrAborted) {
		return ReasonAborted
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNSFailure
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ReasonTimeout
		}
		if opErr.Op == "dial" && strings.Contains(opErr.Error(), "connection refused") {
			return ReasonConnectionRefused
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"):
		return ReasonDNSFailure
	case strings.Contains(msg, "ERR_CONNECTION_REFUSED"):
		return ReasonConnectionRefused
	case strings.Contains(msg, "ERR_TIMED_OUT"), strings.Contains(msg, "ERR_CONNECTION_TIMED_OUT"):
		return ReasonTimeout
	case strings.Contains(msg, "ERR_INTERNET_DISCONNECTED"):
		return ReasonOffline
	case strings.Contains(msg, "ERR_FAILED"), strings.Contains(msg, "ERR_ABORTED"):
		return ReasonAborted
	}
	return ReasonUnknown
}

// FormatCategory returns a human-readable label for a category.
func FormatCategory(cat Category) string {
	switch cat {
	case CategoryNavigation:
		return "Navigation Failures"
	case CategoryVisibility:
		return "Visibility Failures"
	case CategoryAccessibility:
		return "Accessibility Violations"
	case CategoryConsole:
		return "Console Errors"
	case CategoryTraffic:
		return "Network Traffic Violations"
	default:
		return "Other Failures"
	}
}
