package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteJSON writes the records as a formatted JSON array to the writer.
// Uses flat array format (not wrapped with metadata) for simpler CI integration.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"run_id", "site", "url", "mode", "status", "category", "reason",
	"message", "traffic_issues", "violations", "console_errors",
	"fuzzed_controls", "screenshot", "attempts", "duration_ms",
}

// WriteCSV writes the records as CSV to the writer.
// Always includes a header row, even if there are no records.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.RunID,
			rec.Site,
			rec.URL,
			rec.Mode,
			string(rec.Status),
			string(rec.Category),
			rec.Reason,
			rec.Message,
			joinList(rec.TrafficIssues),
			joinList(rec.Violations),
			joinList(rec.ConsoleErrors),
			strconv.Itoa(rec.FuzzedControls),
			rec.Screenshot,
			strconv.Itoa(rec.Attempts),
			strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv record for %s: %w", rec.Site, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

// joinList flattens a list into one cell. Empty lists become an empty cell.
func joinList(items []string) string {
	return strings.Join(items, "; ")
}
