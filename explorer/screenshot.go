package explorer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ScreenshotName returns the file name for a capture of site in mode.
func ScreenshotName(site string, mode Mode, success bool, at time.Time) string {
	status := "failure"
	if success {
		status = "success"
	}
	return fmt.Sprintf("%s-%s-%s-%s.png",
		unsafeNameChars.ReplaceAllString(site, "_"), mode, status, timestamp(at))
}

// timestamp renders t in UTC as an ISO-8601 instant with ':' and '.'
// replaced by '-' so it is safe in file names.
func timestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03dZ", t.Format("2006-01-02T15-04-05"), t.Nanosecond()/int(time.Millisecond))
}

// captureScreenshot writes a full-page capture and returns its path, or ""
// if any step failed.
func (r *run) captureScreenshot(ctx context.Context, success bool) string {
	dir := r.site.Screenshot.dir()
	path := filepath.Join(dir, ScreenshotName(r.site.Name, r.mode, success, r.e.now()))

	err := r.writeScreenshot(ctx, dir, path)
	r.e.metrics.RecordScreenshot(err)
	if err != nil {
		r.logger.WarnContext(ctx, "screenshot failed", "path", path, "err", err)
		return ""
	}
	r.logger.InfoContext(ctx, "screenshot saved", "path", path)
	return path
}

func (r *run) writeScreenshot(ctx context.Context, dir, path string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	png, err := r.e.session.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}
