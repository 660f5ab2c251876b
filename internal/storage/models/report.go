package models

import (
	"fmt"
	"sort"
	"strings"
)

const reportTopRows = 20

// Markdown renders the report as the daily trending summary. top is the
// accepted shortlist in rank order; only the first 20 rows are listed.
func (r *RunReport) Markdown(top []ShortlistEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Trending report %s\n\n", r.RunDate)
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- **Candidates fetched:** %d\n", r.CandidatesFetched)
	fmt.Fprintf(&b, "- **Scored:** %d\n", r.Scored)
	fmt.Fprintf(&b, "- **Shorts selected:** %d\n", r.Accepted.Short)
	fmt.Fprintf(&b, "- **Longs selected:** %d\n", r.Accepted.Long)
	fmt.Fprintf(&b, "- **Quota used:** %d (%.1f%% remaining)\n\n", r.QuotaUsed, r.QuotaRemainingFraction*100)

	if len(r.Tasks) > 0 {
		b.WriteString("## Tasks\n\n")
		b.WriteString("| Task | Status | Duration | Error |\n")
		b.WriteString("|------|--------|----------|-------|\n")
		for _, t := range r.Tasks {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", t.Name, t.Status, t.Duration.Round(1e6), escapeCell(t.Error))
		}
		b.WriteString("\n")
	}

	if len(r.SkipTally) > 0 || len(r.Rejected) > 0 {
		b.WriteString("## Filtered\n\n")
		for _, k := range sortedKeys(r.SkipTally) {
			fmt.Fprintf(&b, "- skipped `%s`: %d\n", k, r.SkipTally[SkipReason(k)])
		}
		for _, k := range sortedKeys(r.Rejected) {
			fmt.Fprintf(&b, "- rejected `%s`: %d\n", k, r.Rejected[RejectionReason(k)])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Top videos\n\n")
	if len(top) == 0 {
		b.WriteString("_No videos selected._\n")
		return b.String()
	}

	b.WriteString("| Rank | Title | Format | Score | Similarity | Views |\n")
	b.WriteString("|------|-------|--------|-------|------------|-------|\n")
	for i, e := range top {
		if i == reportTopRows {
			break
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %.2f | %.2f | %d |\n",
			e.Rank, escapeCell(truncate(e.Title, 50)), e.Format, e.CompositeScore, e.SimilarityToNiche, e.ViewCount)
	}

	return b.String()
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
