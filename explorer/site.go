package explorer

import (
	"fmt"
	"strings"
	"time"

	"github.com/lukemcguire/primal/traffic"
)

// Mode selects how a page is exercised.
type Mode string

const (
	// Passive observes the page without interacting with it.
	Passive Mode = "passive"
	// Exploratory perturbs the page with random input, clicks, storage
	// corruption and network chaos.
	Exploratory Mode = "exploratory"
)

// Modes lists the supported modes.
var Modes = []Mode{Passive, Exploratory}

// ParseMode parses a mode name, case-insensitively. READ_ONLY and GORILLA
// are accepted as aliases of passive and exploratory.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passive", "read_only", "read-only":
		return Passive, nil
	case "exploratory", "gorilla":
		return Exploratory, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Site describes one page under test. Nil nested configs disable the
// feature, except Scroll, which defaults to enabled.
type Site struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`

	Screenshot     *ScreenshotConfig     `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	Chaos          *ChaosConfig          `yaml:"network_chaos,omitempty" json:"network_chaos,omitempty"`
	Accessibility  *AccessibilityConfig  `yaml:"accessibility,omitempty" json:"accessibility,omitempty"`
	StorageFuzzing *StorageFuzzingConfig `yaml:"storage_fuzzing,omitempty" json:"storage_fuzzing,omitempty"`
	Traffic        *traffic.Config       `yaml:"network_traffic,omitempty" json:"network_traffic,omitempty"`
	Scroll         *ScrollConfig         `yaml:"scroll,omitempty" json:"scroll,omitempty"`
}

// ScreenshotConfig controls end-of-run captures.
type ScreenshotConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory" json:"directory"`
	OnSuccess bool   `yaml:"on_success" json:"on_success"`
	OnFailure bool   `yaml:"on_failure" json:"on_failure"`
}

// DefaultScreenshotDir is used when ScreenshotConfig.Directory is empty.
const DefaultScreenshotDir = "screenshots"

func (c *ScreenshotConfig) dir() string {
	if c.Directory == "" {
		return DefaultScreenshotDir
	}
	return c.Directory
}

// wants reports whether a run with the given verdict is captured.
func (c *ScreenshotConfig) wants(success bool) bool {
	if c == nil || !c.Enabled {
		return false
	}
	return (success && c.OnSuccess) || (!success && c.OnFailure)
}

// ChaosConfig perturbs the network during exploratory runs.
type ChaosConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	Offline            bool    `yaml:"offline" json:"offline"`
	LatencyMS          int     `yaml:"latency_ms" json:"latency_ms"`
	RequestFailureRate float64 `yaml:"request_failure_rate" json:"request_failure_rate"`
}

// Latency returns the added per-request delay.
func (c *ChaosConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}

// AccessibilityConfig enables the accessibility audit in passive runs.
type AccessibilityConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	FailOnViolation bool `yaml:"fail_on_violation" json:"fail_on_violation"`
}

// StorageFuzzingConfig enables cookie and local-storage corruption in
// exploratory runs.
type StorageFuzzingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ScrollConfig bounds the scroll pass of exploratory runs.
type ScrollConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	MaxSteps int           `yaml:"max_steps" json:"max_steps"`
	Delay    time.Duration `yaml:"delay" json:"delay"`
}

// Scroll defaults.
const (
	DefaultScrollSteps = 50
	DefaultScrollDelay = 100 * time.Millisecond
)

// scrollSettings resolves the effective scroll settings for s.
func (s Site) scrollSettings() (enabled bool, steps int, delay time.Duration) {
	if s.Scroll == nil {
		return true, DefaultScrollSteps, DefaultScrollDelay
	}
	steps, delay = s.Scroll.MaxSteps, s.Scroll.Delay
	if steps <= 0 {
		steps = DefaultScrollSteps
	}
	if delay < 0 {
		delay = 0
	}
	return s.Scroll.Enabled, steps, delay
}
