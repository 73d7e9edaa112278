package explorer

import "context"

// scrollScript scrolls one viewport down and reports the document height
// and whether the viewport reached the bottom.
const scrollScript = `(() => {
  window.scrollBy(0, window.innerHeight);
  const h = document.documentElement.scrollHeight;
  return { height: h, atBottom: window.scrollY + window.innerHeight >= h - 1 };
})()`

type scrollState struct {
	Height   float64 `json:"height"`
	AtBottom bool    `json:"atBottom"`
}

// scroll pages down until the bottom is reached and the document stops
// growing, or the step cap is hit. Infinite feeds stop at the cap.
func (r *run) scroll(ctx context.Context) {
	enabled, maxSteps, delay := r.site.scrollSettings()
	if !enabled {
		return
	}

	lastHeight := -1.0
	for r.out.ScrollSteps < maxSteps {
		var st scrollState
		if err := r.e.session.Evaluate(ctx, scrollScript, &st); err != nil {
			r.logger.DebugContext(ctx, "scroll", "err", err)
			return
		}
		r.out.ScrollSteps++
		if st.AtBottom && st.Height == lastHeight {
			return
		}
		lastHeight = st.Height
		if err := r.e.sleep(ctx, delay); err != nil {
			return
		}
	}
	r.logger.DebugContext(ctx, "scroll stopped at step cap", "steps", maxSteps)
}
