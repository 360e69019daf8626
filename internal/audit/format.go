package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.SessionID
	if label == "" {
		label = "all sessions"
	}
	if len(result.Records) == 0 {
		return fmt.Sprintf("Session: %s | No records found.\n", label)
	}

	var b strings.Builder

	first := stamp(result.Summary.FirstTimestamp, "2006-01-02 15:04:05")
	last := stamp(result.Summary.LastTimestamp, "15:04:05")
	b.WriteString(fmt.Sprintf("Session: %s | %s–%s UTC\n", label, first, last))
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		b.WriteString(FormatRecord(r))
		for _, a := range r.Attempts {
			status := string(a.Status)
			if a.ErrorKind != "" {
				status += " (" + string(a.ErrorKind) + ")"
			}
			b.WriteString(fmt.Sprintf("           ↳ %-8s %-24s %-36s %dms\n",
				a.Tier, truncate(a.CapabilityID, 24), status, a.WaitedMs))
		}
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatRecord renders one record as a timeline row.
func FormatRecord(r RunRecord) string {
	status := strings.ToUpper(string(r.Outcome.Status))
	if r.Outcome.ErrorKind != "" {
		status += " " + string(r.Outcome.ErrorKind)
	}
	return fmt.Sprintf("%-10s %-8s %-24s %-30s %-34s %6dms\n",
		stamp(r.Timestamp, "15:04:05"), r.ExecutorTier, truncate(r.CapabilityID, 24),
		truncate(r.Subject, 30), truncate(status, 34), r.DurationMs)
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: encode replay: %w", err)
	}
	return string(data), nil
}

// stamp re-renders a record timestamp in layout, or returns it untouched
// if it does not parse.
func stamp(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.SucceededCount > 0 {
		parts = append(parts, fmt.Sprintf("%d succeeded", s.SucceededCount))
	}
	if s.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.FailedCount))
	}
	if s.CancelledCount > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", s.CancelledCount))
	}
	return fmt.Sprintf("Summary: %s | Elevated: %d of %d\n",
		strings.Join(parts, ", "), s.ElevatedCount, s.Total)
}

// truncate shortens s to max runes. Subjects carry app names that are not
// always ASCII.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
