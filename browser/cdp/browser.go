// Package cdp implements browser.Session on top of the Chrome DevTools
// Protocol via chromedp.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Options configures the browser process.
type Options struct {
	// ExecPath is the Chrome binary. Empty means let chromedp find one.
	ExecPath string
	Headless bool
	// ActionTimeout bounds single element interactions such as clicks.
	ActionTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultActionTimeout is used when Options.ActionTimeout is zero.
const DefaultActionTimeout = 5 * time.Second

// Browser is one Chrome process. Each Session is a tab in it.
type Browser struct {
	opts        Options
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// Launch starts Chrome. The process lives until Close is called, independent
// of ctx's cancellation.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)

	logger := opts.Logger
	bctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Browser{opts: opts, ctx: bctx, cancel: cancel, allocCancel: allocCancel}, nil
}

// NewSession opens a new tab.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	tctx, cancel := chromedp.NewContext(b.ctx)
	s := newSession(tctx, cancel, b.opts)
	chromedp.ListenTarget(tctx, s.onEvent)

	if err := s.run(ctx, network.Enable(), runtime.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	go s.queue.run()
	return s, nil
}

// Close terminates the browser process and every tab.
func (b *Browser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}
