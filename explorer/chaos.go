package explorer

import (
	"context"

	"github.com/lukemcguire/primal/browser"
)

// installChaos routes every request through the chaos handler and, when
// configured, takes the context offline. Both are undone on teardown.
func (r *run) installChaos(ctx context.Context) {
	cfg := r.site.Chaos
	if cfg == nil || !cfg.Enabled {
		return
	}

	remove, err := r.e.session.Intercept(ctx, r.chaosRoute(cfg))
	if err != nil {
		r.logger.WarnContext(ctx, "install network chaos", "err", err)
	} else {
		r.onTeardown(func(context.Context) { remove() })
	}

	if !cfg.Offline {
		return
	}
	if err := r.e.session.SetOffline(ctx, true); err != nil {
		r.logger.WarnContext(ctx, "go offline", "err", err)
		return
	}
	r.onTeardown(func(ctx context.Context) {
		if err := r.e.session.SetOffline(ctx, false); err != nil {
			r.logger.WarnContext(ctx, "restore connectivity", "err", err)
		}
	})
}

// chaosRoute aborts each request with the configured probability and
// delays the survivors.
func (r *run) chaosRoute(cfg *ChaosConfig) browser.RouteHandler {
	return func(ctx context.Context, route browser.Route) {
		req := route.Request()
		if cfg.RequestFailureRate > 0 && r.e.rand.Chance(cfg.RequestFailureRate) {
			r.e.metrics.RecordChaosAbort()
			if err := route.Abort(ctx); err != nil {
				r.logger.DebugContext(ctx, "chaos abort", "url", req.URL, "err", err)
			}
			return
		}
		if d := cfg.Latency(); d > 0 {
			if err := r.e.sleep(ctx, d); err != nil {
				r.logger.DebugContext(ctx, "chaos delay", "url", req.URL, "err", err)
			}
		}
		if err := route.Continue(ctx); err != nil {
			r.logger.DebugContext(ctx, "chaos continue", "url", req.URL, "err", err)
		}
	}
}
