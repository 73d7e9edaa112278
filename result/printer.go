package result

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// PrintResults writes failures grouped by category and a summary to w.
func PrintResults(w io.Writer, rep *Report) {
	writef := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	if !rep.Failed() {
		writef("All runs passed!\n")
	} else {
		groups := rep.Failures()
		first := true
		// Uncategorized failures, e.g. canceled runs, come last.
		for _, cat := range append(slices.Clone(Categories), "") {
			recs := groups[cat]
			if len(recs) == 0 {
				continue
			}
			if !first {
				writef("\n")
			}
			first = false
			writef("%s (%d):\n", FormatCategory(cat), len(recs))
			for _, rec := range recs {
				writef("  %s [%s] %s\n", rec.Site, rec.Mode, rec.URL)
				for _, line := range strings.Split(rec.Message, "\n") {
					writef("    %s\n", line)
				}
				if rec.Screenshot != "" {
					writef("    Screenshot: %s\n", rec.Screenshot)
				}
			}
		}
	}
	writef("Ran %d, passed %d, failed %d, skipped %d in %s\n",
		rep.Stats.Total, rep.Stats.Passed, rep.Stats.Failed, rep.Stats.Skipped,
		rep.Stats.Duration.Round(time.Millisecond))
}
