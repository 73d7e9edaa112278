package explorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukemcguire/primal/a11y"
	"github.com/lukemcguire/primal/browser"
	"github.com/lukemcguire/primal/fuzz"
	"github.com/lukemcguire/primal/result"
)

// strategy is a mode's behavior: prepare runs before navigation, explore
// after it succeeds.
type strategy struct {
	prepare func(ctx context.Context, r *run)
	explore func(ctx context.Context, r *run) error
}

var strategies = map[Mode]strategy{
	Passive: {
		prepare: preparePassive,
		explore: explorePassive,
	},
	Exploratory: {
		prepare: prepareExploratory,
		explore: exploreExploratory,
	},
}

func preparePassive(_ context.Context, r *run) {
	remove := r.e.session.Listen(browser.Listener{PageError: r.recordPageError})
	r.onTeardown(func(context.Context) { remove() })
}

func explorePassive(ctx context.Context, r *run) error {
	if err := r.checkVisibility(ctx); err != nil {
		return err
	}
	if err := r.audit(ctx); err != nil {
		return err
	}
	r.settle(ctx)
	errs := r.consoleErrors()
	r.out.ConsoleErrors = errs
	r.consoleJudged = true
	if len(errs) > 0 {
		return fail(result.CategoryConsole, "console errors detected: "+strings.Join(errs, ", "), errs, nil)
	}
	return nil
}

func prepareExploratory(ctx context.Context, r *run) {
	r.installChaos(ctx)
}

func exploreExploratory(ctx context.Context, r *run) error {
	r.scroll(ctx)
	if cfg := r.site.StorageFuzzing; cfg != nil && cfg.Enabled {
		r.e.storage.Fuzz(ctx, r.e.session)
	}
	r.fuzzControls(ctx)
	r.clickRandom(ctx)
	return ctx.Err()
}

func (r *run) checkVisibility(ctx context.Context) error {
	bodies, err := r.e.session.Query(ctx, BodySelector)
	if err != nil {
		return fail(result.CategoryVisibility, "body visibility check failed: "+err.Error(), nil, err)
	}
	for _, body := range bodies {
		info, err := body.Describe(ctx)
		if err != nil {
			r.logger.DebugContext(ctx, "describe body", "err", err)
			continue
		}
		if info.Visible {
			return nil
		}
	}
	return fail(result.CategoryVisibility, "body is not visible on the page", nil, nil)
}

func (r *run) audit(ctx context.Context) error {
	cfg := r.site.Accessibility
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	violations, err := r.e.auditor.Audit(ctx, r.e.session)
	if err != nil {
		return fail(result.CategoryAccessibility, "accessibility audit failed: "+err.Error(), nil, err)
	}
	r.out.Violations = violations
	if len(violations) == 0 {
		return nil
	}
	if !cfg.FailOnViolation {
		r.logger.WarnContext(ctx, "accessibility violations", "count", len(violations))
		return nil
	}
	evidence := make([]string, len(violations))
	for i, v := range violations {
		evidence[i] = v.String()
	}
	return fail(result.CategoryAccessibility,
		"accessibility violations detected:\n"+a11y.Summarize(violations), evidence, nil)
}

// fuzzControls hands every visible form control to the input fuzzer.
func (r *run) fuzzControls(ctx context.Context) {
	elements, err := r.e.session.Query(ctx, FormControlSelector)
	if err != nil {
		r.logger.WarnContext(ctx, "query form controls", "err", err)
		return
	}
	for _, el := range elements {
		if ctx.Err() != nil {
			break
		}
		c, err := fuzz.Describe(ctx, el)
		if err != nil {
			r.logger.DebugContext(ctx, "skip form control", "err", err)
			continue
		}
		if !c.Visible {
			continue
		}
		r.e.inputs.FuzzOne(ctx, c)
		r.out.FuzzedControls++
	}
	r.e.metrics.RecordFuzzedControls(r.out.FuzzedControls)
}

// clickRandom clicks one uniformly chosen visible button or link.
func (r *run) clickRandom(ctx context.Context) {
	elements, err := r.e.session.Query(ctx, ClickableSelector)
	if err != nil {
		r.logger.WarnContext(ctx, "query clickables", "err", err)
		return
	}

	type target struct {
		el  browser.Element
		tag string
	}
	var visible []target
	for _, el := range elements {
		info, err := el.Describe(ctx)
		if err != nil || !info.Visible {
			continue
		}
		visible = append(visible, target{el: el, tag: info.Tag})
	}
	if len(visible) == 0 {
		r.logger.WarnContext(ctx, "no visible buttons or links to click")
		return
	}

	i := r.e.rand.IntN(len(visible))
	pick := visible[i]
	r.out.Clicked = fmt.Sprintf("%s #%d", pick.tag, i)
	if err := pick.el.Click(ctx); err != nil {
		r.logger.WarnContext(ctx, "random click failed", "element", r.out.Clicked, "err", err)
	}
}
