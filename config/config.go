// Package config loads a suite file: the sites to test, their policies and
// how the suite is run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lukemcguire/primal/explorer"
	"github.com/lukemcguire/primal/suite"
	"github.com/lukemcguire/primal/urlutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRIMAL_"

// Config is a parsed suite file.
type Config struct {
	Modes         []string          `yaml:"modes"`
	Concurrency   int               `yaml:"concurrency"`
	RateLimit     float64           `yaml:"rate_limit"` // runs started per second, 0 is unlimited
	RespectRobots bool              `yaml:"respect_robots"`
	Retry         suite.RetryPolicy `yaml:",inline"`
	Seed          uint64            `yaml:"seed"` // 0 seeds from the clock
	Headless      bool              `yaml:"headless"`
	ChromePath    string            `yaml:"chrome_path"`
	ScreenshotDir string            `yaml:"screenshot_dir"`
	MaxPages      int               `yaml:"max_pages"` // discovery budget per site, 0 disables
	Sites         []SiteConfig      `yaml:"sites"`
}

// SiteConfig is one entry of the sites list. It is either a single page
// (url) or a path map (base_url plus named relative paths), each path
// becoming its own site.
type SiteConfig struct {
	explorer.Site `yaml:",inline"`
	BaseURL       string            `yaml:"base_url"`
	Paths         map[string]string `yaml:"paths"`
}

// Default returns the configuration used for keys a suite file omits.
func Default() *Config {
	return &Config{
		Modes:         []string{string(explorer.Passive), string(explorer.Exploratory)},
		Concurrency:   1,
		Retry:         suite.DefaultRetryPolicy(),
		Headless:      true,
		ScreenshotDir: explorer.DefaultScreenshotDir,
	}
}

// Load reads the suite file at path over Default, then applies PRIMAL_*
// overrides from the environment or, failing that, from a .env file next
// to the suite file. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dotenv, err := readDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(lookup(dotenv)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a suite file over Default without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readDotEnv returns the variables in path. A missing file is empty.
func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

// lookup prefers the process environment over dotenv.
func lookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func (c *Config) applyEnv(get func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := get(EnvPrefix + name); ok {
			*dst = v
		}
	}
	parse := func(name string, set func(string) error) {
		v, ok := get(EnvPrefix + name)
		if !ok {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}

	str("SCREENSHOT_DIR", &c.ScreenshotDir)
	str("CHROME_PATH", &c.ChromePath)
	parse("HEADLESS", func(v string) (err error) {
		c.Headless, err = strconv.ParseBool(v)
		return err
	})
	parse("CONCURRENCY", func(v string) (err error) {
		c.Concurrency, err = strconv.Atoi(v)
		return err
	})
	parse("RATE_LIMIT", func(v string) (err error) {
		c.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("SEED", func(v string) (err error) {
		c.Seed, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("MODES", func(v string) error {
		c.Modes = strings.Split(v, ",")
		return nil
	})
	return errors.Join(errs...)
}

// ParsedModes returns the configured modes.
func (c *Config) ParsedModes() ([]explorer.Mode, error) {
	modes := make([]explorer.Mode, 0, len(c.Modes))
	for _, m := range c.Modes {
		mode, err := explorer.ParseMode(m)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(modes, mode) {
			modes = append(modes, mode)
		}
	}
	return modes, nil
}

// ExpandedSites returns one explorer.Site per page under test. Path maps
// expand in path-name order into sites named "<site>-<path name>". Sites
// that capture screenshots without a directory get ScreenshotDir.
func (c *Config) ExpandedSites() ([]explorer.Site, error) {
	var sites []explorer.Site
	for _, sc := range c.Sites {
		expanded, err := sc.expand()
		if err != nil {
			return nil, err
		}
		for _, s := range expanded {
			if s.Screenshot != nil && s.Screenshot.Directory == "" {
				shot := *s.Screenshot
				shot.Directory = c.ScreenshotDir
				s.Screenshot = &shot
			}
			sites = append(sites, s)
		}
	}
	return sites, nil
}

func (sc SiteConfig) expand() ([]explorer.Site, error) {
	if len(sc.Paths) == 0 {
		s := sc.Site
		if s.URL == "" {
			s.URL = sc.BaseURL
		}
		return []explorer.Site{s}, nil
	}

	sites := make([]explorer.Site, 0, len(sc.Paths))
	for _, name := range slices.Sorted(maps.Keys(sc.Paths)) {
		u, err := urlutil.ResolveReference(sc.BaseURL, sc.Paths[name])
		if err != nil {
			return nil, fmt.Errorf("site %s path %s: %w", sc.Name, name, err)
		}
		s := sc.Site
		s.Name = sc.Name + "-" + name
		s.URL = u
		sites = append(sites, s)
	}
	return sites, nil
}

// Validate reports every problem in c.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, err := c.ParsedModes(); err != nil {
		errs = append(errs, err)
	}
	check(len(c.Modes) > 0, "no modes configured")
	check(c.Concurrency >= 0, "concurrency must not be negative, got %d", c.Concurrency)
	check(c.RateLimit >= 0, "rate_limit must not be negative, got %g", c.RateLimit)
	check(c.Retry.MaxRetries >= 0, "retries must not be negative, got %d", c.Retry.MaxRetries)
	check(c.Retry.BaseDelay >= 0 && c.Retry.MaxDelay >= 0, "retry delays must not be negative")
	check(c.MaxPages >= 0, "max_pages must not be negative, got %d", c.MaxPages)

	for i, sc := range c.Sites {
		check(sc.Name != "", "sites[%d]: name is required", i)
		key, u := "url", sc.URL
		if len(sc.Paths) > 0 || u == "" {
			key, u = "base_url", sc.BaseURL
		}
		check(urlutil.IsTestable(u), "site %s: %s %q must be an absolute http(s) or file URL", sc.Name, key, u)
		errs = append(errs, validatePolicies(sc.Name, sc.Site)...)
	}

	sites, err := c.ExpandedSites()
	if err != nil {
		errs = append(errs, err)
	}
	check(len(sites) > 0, "no sites configured")
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		check(!seen[s.Name], "duplicate site name %q", s.Name)
		seen[s.Name] = true
	}

	return errors.Join(errs...)
}

func validatePolicies(name string, s explorer.Site) []error {
	var errs []error
	if ch := s.Chaos; ch != nil {
		if ch.RequestFailureRate < 0 || ch.RequestFailureRate > 1 {
			errs = append(errs, fmt.Errorf("site %s: request_failure_rate must be within [0, 1], got %g", name, ch.RequestFailureRate))
		}
		if ch.LatencyMS < 0 {
			errs = append(errs, fmt.Errorf("site %s: latency_ms must not be negative, got %d", name, ch.LatencyMS))
		}
	}
	if tr := s.Traffic; tr != nil {
		large := tr.LargePayloadThresholdBytes
		if tr.SlowRequestThresholdMS < 0 || (large != nil && *large < 0) {
			errs = append(errs, fmt.Errorf("site %s: traffic thresholds must not be negative", name))
		}
	}
	if sc := s.Scroll; sc != nil && (sc.MaxSteps < 0 || sc.Delay < 0) {
		errs = append(errs, fmt.Errorf("site %s: scroll max_steps and delay must not be negative", name))
	}
	return errs
}
