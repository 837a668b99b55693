package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/matching"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(header)
	return t
}

func renderMatches(w io.Writer, results []matching.MatchResult) {
	t := newTable(w, table.Row{"#", "Opportunity", "Category", "Score", "Urgent", "Deadline", "Why"})
	for i, r := range results {
		deadline := "-"
		if r.Opportunity.ApplicationDeadline != nil {
			deadline = r.Opportunity.ApplicationDeadline.Format("2006-01-02")
		}
		urgent := ""
		if r.Opportunity.IsUrgent {
			urgent = "yes"
		}
		t.AppendRow(table.Row{i + 1, r.Opportunity.Title, r.Opportunity.Category, fmt.Sprintf("%.2f", r.Score), urgent, deadline, reasonKinds(r.Reasons)})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d result(s)", len(results))})
	t.Render()
}

func renderCandidates(w io.Writer, matches []matching.VolunteerMatch) {
	t := newTable(w, table.Row{"#", "Volunteer", "Email", "Score", "Notify", "Why"})
	for i, m := range matches {
		notify := "no"
		if m.Volunteer.WantsMatchNotifications() {
			notify = m.Volunteer.Preferences.NotificationFrequency
		}
		t.AppendRow(table.Row{i + 1, m.Volunteer.Name, m.Volunteer.Email, fmt.Sprintf("%.2f", m.Score), notify, reasonKinds(m.Reasons)})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d candidate(s)", len(matches))})
	t.Render()
}

func renderExplanation(w io.Writer, ex matching.Explanation) {
	t := newTable(w, table.Row{"Factor", "Points", "Detail"})
	for _, r := range ex.Reasons {
		t.AppendRow(table.Row{r.Kind, fmt.Sprintf("%.2f", r.Points), r.Text})
	}
	t.AppendFooter(table.Row{"total", fmt.Sprintf("%.2f", ex.Score), ""})
	t.Render()
}

func renderJobs(w io.Writer, stats map[string]int, recent []db.Job) {
	statuses := make([]string, 0, len(stats))
	for s := range stats {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	counts := newTable(w, table.Row{"Status", "Jobs"})
	for _, s := range statuses {
		counts.AppendRow(table.Row{s, stats[s]})
	}
	counts.Render()

	t := newTable(w, table.Row{"Job", "Kind", "Status", "Attempts", "Run At", "Last Error"})
	for _, j := range recent {
		lastErr := ""
		if j.LastError != nil {
			lastErr = truncate(*j.LastError, 60)
		}
		t.AppendRow(table.Row{
			j.ID.String()[:8], j.Kind, j.Status,
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			j.RunAt.Format(time.DateTime), lastErr,
		})
	}
	t.Render()
}

func reasonKinds(reasons []matching.Reason) string {
	kinds := make([]string, 0, len(reasons))
	for _, r := range reasons {
		kinds = append(kinds, r.Kind)
	}
	return strings.Join(kinds, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
