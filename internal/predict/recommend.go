package predict

import (
	"sort"
	"strings"

	"github.com/steveyegge/governor/internal/types"
)

const topFeatures = 5

// contributions pairs each feature with its importance and observed value and
// keeps the strongest n.
func contributions(names []string, importances, x []float64, n int) []types.FeatureContribution {
	out := make([]types.FeatureContribution, 0, len(names))
	for i, name := range names {
		if i >= len(importances) || i >= len(x) {
			break
		}
		out = append(out, types.FeatureContribution{Name: name, Importance: round(importances[i]), Value: round(x[i])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// featureAdvice maps feature name fragments to actions. First match wins per
// feature; duplicates are dropped.
var featureAdvice = []struct {
	fragment string
	advice   string
}{
	{"alerts_critical", "Resolve open CRITICAL alerts before starting new work"},
	{"alerts_high", "Triage recent HIGH alerts; they predict further violations"},
	{"file_size_violation", "Split oversized files before they cross the size limit"},
	{"duplication", "Consolidate duplicated code paths flagged by the monitor"},
	{"technical_debt", "Schedule cleanup of TODO/FIXME markers"},
	{"navigation", "Flatten deep directory structures to reduce navigation steps"},
	{"performance", "Investigate slow monitor handling; the latency SLO is at risk"},
	{"health_score", "Review the governance health trend on the dashboard"},
	{"p55", "Check real-execution evidence for recent instructions"},
	{"p56", "Announce tool usage to keep transparency compliance up"},
	{"compliance", "Review compliance checks that are trending toward their thresholds"},
	{"response_ms", "Reduce monitor response time for the slowest violation types"},
}

// recommend derives actions from the predicted class and the names of the
// contributing features.
func recommend(class types.ViolationClass, feats []types.FeatureContribution) []string {
	var out []string
	switch class {
	case types.ClassCritical:
		out = append(out, "Escalate: a CRITICAL violation is likely within the horizon; pause risky changes")
	case types.ClassHigh:
		out = append(out, "Increase monitoring: a HIGH severity violation is likely within the horizon")
	case types.ClassMedium:
		out = append(out, "Review governance rules touched by current work")
	default:
		out = append(out, "No action required; keep current practices")
	}
	if class == types.ClassNone {
		return out
	}

	seen := map[string]bool{}
	for _, f := range feats {
		for _, fa := range featureAdvice {
			if !strings.Contains(f.Name, fa.fragment) {
				continue
			}
			if !seen[fa.advice] {
				seen[fa.advice] = true
				out = append(out, fa.advice)
			}
			break
		}
		if strings.Contains(f.Name, "_slope_") && f.Value < 0 {
			msg := "Investigate the declining trend in " + strings.SplitN(f.Name, "_slope_", 2)[0]
			if !seen[msg] {
				seen[msg] = true
				out = append(out, msg)
			}
		}
	}
	return out
}
