package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/steveyegge/governor/internal/types"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	return t
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRuleStats renders rule and violation counts the same way for
// `enforce stats` and the aggregator summary.
func printRuleStats(w io.Writer, s *types.RuleStats) {
	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== Governance (last %dh) ===", s.WindowHours)))
	fmt.Fprintf(w, "Rules:      %d active / %d total\n", s.ActiveRules, s.TotalRules)
	fmt.Fprintf(w, "Violations: %d (%d unresolved)\n\n", s.TotalViolations, s.UnresolvedViolations)

	if len(s.RulesByKind) > 0 {
		kinds := make([]string, 0, len(s.RulesByKind))
		for k := range s.RulesByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		t := newTable(w, "Kind", "Rules")
		for _, k := range kinds {
			t.Append([]string{k, fmt.Sprint(s.RulesByKind[types.RuleKind(k)])})
		}
		t.Render()
		fmt.Fprintln(w)
	}

	t := newTable(w, "Severity", "Violations")
	for _, sev := range types.AllSeverities {
		t.Append([]string{string(sev), fmt.Sprint(s.ViolationsBySeverity[sev])})
	}
	t.Render()

	if len(s.TopRules) == 0 {
		fmt.Fprintf(w, "\n%s\n", gray("No violations in the window"))
		return
	}
	fmt.Fprintln(w)
	t = newTable(w, "Rule", "Kind", "Severity", "Count", "Description")
	for _, r := range s.TopRules {
		t.Append([]string{r.RuleID, string(r.Kind), string(r.Severity), fmt.Sprint(r.Count), types.Truncate(r.Description, 60)})
	}
	t.Render()
}
