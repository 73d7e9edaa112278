package result

import "time"

// Status is the verdict of one run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Record is the reported outcome of one (site, mode) run.
type Record struct {
	RunID          string        `json:"run_id"`
	Site           string        `json:"site"`
	URL            string        `json:"url"`
	Mode           string        `json:"mode"`
	Status         Status        `json:"status"`
	Category       Category      `json:"category,omitempty"` // empty unless failed
	Reason         string        `json:"reason,omitempty"`   // navigation failure detail
	Message        string        `json:"message,omitempty"`
	TrafficIssues  []string      `json:"traffic_issues,omitempty"`
	Violations     []string      `json:"violations,omitempty"`
	ConsoleErrors  []string      `json:"console_errors,omitempty"`
	FuzzedControls int           `json:"fuzzed_controls"`
	Screenshot     string        `json:"screenshot,omitempty"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"duration_ns"`
}

// Stats contains aggregate counts for a suite.
type Stats struct {
	Total    int           // Runs attempted, including skipped ones
	Passed   int           // Runs that passed
	Failed   int           // Runs that failed
	Skipped  int           // Runs not started, e.g. disallowed by robots.txt
	Duration time.Duration // Wall-clock time for the whole suite
}

// Report is the complete output of a suite.
type Report struct {
	Records []Record
	Stats   Stats
}

// NewReport builds a report and its stats from records.
func NewReport(records []Record, elapsed time.Duration) *Report {
	r := &Report{Records: records, Stats: Stats{Total: len(records), Duration: elapsed}}
	for _, rec := range records {
		switch rec.Status {
		case StatusPassed:
			r.Stats.Passed++
		case StatusFailed:
			r.Stats.Failed++
		case StatusSkipped:
			r.Stats.Skipped++
		}
	}
	return r
}

// Failed reports whether any run failed.
func (r *Report) Failed() bool {
	return r.Stats.Failed > 0
}

// Failures returns the failed records grouped by category.
func (r *Report) Failures() map[Category][]Record {
	groups := make(map[Category][]Record)
	for _, rec := range r.Records {
		if rec.Status == StatusFailed {
			groups[rec.Category] = append(groups[rec.Category], rec)
		}
	}
	return groups
}
