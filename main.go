// Package main provides the primal CLI entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lukemcguire/primal/browser"
	"github.com/lukemcguire/primal/browser/cdp"
	"github.com/lukemcguire/primal/config"
	"github.com/lukemcguire/primal/explorer"
	"github.com/lukemcguire/primal/fuzz"
	"github.com/lukemcguire/primal/metrics"
	"github.com/lukemcguire/primal/result"
	"github.com/lukemcguire/primal/suite"
	"github.com/lukemcguire/primal/tui"
)

type options struct {
	configPath    string
	mode          string
	concurrency   int
	rateLimit     float64
	retries       int
	seed          uint64
	format        string
	screenshotDir string
	chromePath    string
	headful       bool
	discover      int
	metricsAddr   string
	logFile       string
	verbose       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "primal.yaml", "suite configuration file")
	flag.StringVar(&opts.mode, "mode", "", "run only this mode: passive, exploratory or all")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "number of parallel browser sessions (overrides config)")
	flag.Float64Var(&opts.rateLimit, "rate-limit", -1, "navigations per second, 0 for unlimited (overrides config)")
	flag.IntVar(&opts.retries, "retries", -1, "retries for transient navigation failures (overrides config)")
	flag.Uint64Var(&opts.seed, "seed", 0, "random seed for fuzzing and chaos (overrides config)")
	flag.StringVar(&opts.format, "format", "tui", "output format: tui, text, json or csv")
	flag.StringVar(&opts.screenshotDir, "screenshot-dir", "", "default screenshot directory (overrides config)")
	flag.StringVar(&opts.chromePath, "chrome", "", "path to the Chrome binary (overrides config)")
	flag.BoolVar(&opts.headful, "headful", false, "show the browser window")
	flag.IntVar(&opts.discover, "discover", -1, "crawl up to this many same-domain pages per site (overrides config)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flag.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	flag.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: primal [flags]")
		fmt.Fprintln(os.Stderr, "Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	code, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func run(opts options) (int, error) {
	switch opts.format {
	case "tui", "text", "json", "csv":
	default:
		return 2, fmt.Errorf("unknown format %q", opts.format)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return 2, err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return 2, err
	}

	logger, closeLog, err := newLogger(opts)
	if err != nil {
		return 2, err
	}
	defer closeLog()

	modes, err := cfg.ParsedModes()
	if err != nil {
		return 2, err
	}
	sites, err := cfg.ExpandedSites()
	if err != nil {
		return 2, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, logger)
		defer srv.Close()
	}

	rng := fuzz.TimeSeeded()
	if cfg.Seed != 0 {
		rng = fuzz.NewRand(cfg.Seed)
	}

	var robots *suite.RobotsChecker
	if cfg.RespectRobots {
		robots = suite.NewRobotsChecker(nil, suite.DefaultUserAgent)
	}
	if cfg.MaxPages > 1 {
		sites, err = discoverAll(ctx, sites, cfg, robots, logger)
		if err != nil {
			return 1, err
		}
	}

	b, err := cdp.Launch(ctx, cdp.Options{
		ExecPath: cfg.ChromePath,
		Headless: cfg.Headless,
		Logger:   logger,
	})
	if err != nil {
		return 1, err
	}
	defer b.Close()

	progressCh := make(chan suite.Event, 100)
	runnerOpts := []suite.Option{
		suite.WithLogger(logger),
		suite.WithProgress(progressCh),
		suite.WithEngineOptions(explorer.WithRand(rng), explorer.WithMetrics(collector)),
	}
	if robots != nil {
		runnerOpts = append(runnerOpts, suite.WithRobotsChecker(robots))
	}
	runner := suite.NewRunner(suite.Config{
		Concurrency:   cfg.Concurrency,
		RateLimit:     cfg.RateLimit,
		RespectRobots: cfg.RespectRobots,
		UserAgent:     suite.DefaultUserAgent,
		Retry:         cfg.Retry,
	}, func(ctx context.Context) (browser.Session, error) {
		return b.NewSession(ctx)
	}, runnerOpts...)

	targets := suite.Targets(sites, modes)
	logger.Info("starting suite", "sites", len(sites), "modes", len(modes), "runs", len(targets))

	runSuite := func(ctx context.Context) (*result.Report, error) {
		defer close(progressCh)
		return runner.Run(ctx, targets)
	}

	rep, err := execute(ctx, stop, opts.format, runSuite, progressCh)
	if err != nil {
		return 1, err
	}
	if err := writeReport(os.Stdout, opts.format, rep); err != nil {
		return 1, err
	}
	if rep.Failed() {
		return 1, nil
	}
	return 0, nil
}

// applyFlags overlays explicitly set flags onto the loaded config.
func applyFlags(cfg *config.Config, opts options) error {
	if opts.mode != "" {
		if opts.mode == "all" {
			cfg.Modes = []string{string(explorer.Passive), string(explorer.Exploratory)}
		} else {
			if _, err := explorer.ParseMode(opts.mode); err != nil {
				return err
			}
			cfg.Modes = []string{opts.mode}
		}
	}
	if opts.concurrency > 0 {
		cfg.Concurrency = opts.concurrency
	}
	if opts.rateLimit >= 0 {
		cfg.RateLimit = opts.rateLimit
	}
	if opts.retries >= 0 {
		cfg.Retry.MaxRetries = opts.retries
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}
	if opts.screenshotDir != "" {
		cfg.ScreenshotDir = opts.screenshotDir
	}
	if opts.chromePath != "" {
		cfg.ChromePath = opts.chromePath
	}
	if opts.headful {
		cfg.Headless = false
	}
	if opts.discover >= 0 {
		cfg.MaxPages = opts.discover
	}
	return cfg.Validate()
}

// newLogger builds the slog logger. The TUI owns the terminal, so logs are
// discarded there unless a log file is given.
func newLogger(opts options) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return slog.New(slog.NewJSONHandler(f, handlerOpts)), func() { f.Close() }, nil
	}
	if opts.format == "tui" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), func() {}, nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

// discoverTargetRTT is the response time above which discovery slows down.
const discoverTargetRTT = time.Second

func discoverAll(ctx context.Context, sites []explorer.Site, cfg *config.Config, robots *suite.RobotsChecker, logger *slog.Logger) ([]explorer.Site, error) {
	var all []explorer.Site
	pacer := suite.NewPacer(cfg.RateLimit, discoverTargetRTT)
	for _, site := range sites {
		found, err := suite.Discover(ctx, site, suite.DiscoverOptions{
			MaxPages:  cfg.MaxPages,
			UserAgent: suite.DefaultUserAgent,
			Robots:    robots,
			Pacer:     pacer,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", site.Name, err)
		}
		logger.Info("discovered pages", "site", site.Name, "pages", len(found))
		all = append(all, found...)
	}
	return all, nil
}

// execute runs the suite, behind the TUI when format is tui.
func execute(ctx context.Context, cancel context.CancelFunc, format string, runSuite tui.RunFunc, progressCh <-chan suite.Event) (*result.Report, error) {
	if format != "tui" {
		go func() {
			for range progressCh {
			}
		}()
		return runSuite(ctx)
	}

	program := tea.NewProgram(tui.NewModel(ctx, cancel, runSuite, progressCh))
	finalModel, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("run tui: %w", err)
	}
	m := finalModel.(tui.Model)
	if m.Err() != nil {
		return nil, m.Err()
	}
	if m.Report() == nil {
		return nil, errors.New("suite ended without a report")
	}
	return m.Report(), nil
}

// writeReport prints the report. The TUI already rendered its summary.
func writeReport(w io.Writer, format string, rep *result.Report) error {
	switch format {
	case "json":
		return result.WriteJSON(w, rep.Records)
	case "csv":
		return result.WriteCSV(w, rep.Records)
	case "text":
		result.PrintResults(w, rep)
	}
	return nil
}
