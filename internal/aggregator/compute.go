package aggregator

import (
	"math"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

const realtimeWindow = 10 * time.Minute

// snapshot is everything one cycle reads from the store.
type snapshot struct {
	instructions []*types.InstructionTiming
	tools        []*types.ToolTiming
	events       []*types.ThresholdEvent
	violations   []*types.Violation
	health       *types.ComplianceMetric
}

// ratio is n/d, and 1 for an empty population.
func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// compute builds the feed. Stale open instructions are judged here the way
// the collector would close them, without writing anything.
func compute(now time.Time, window, grace time.Duration, snap *snapshot) *Feed {
	f := &Feed{
		GeneratedAt: now.UTC(),
		WindowHours: window.Hours(),
		ByType:      map[types.InstructionType]*TypeStats{},
		Tiers:       map[types.PerformanceTier]int{},
		Tools:       map[string]*ToolStats{},
		Hourly:      make([]HourBucket, 24),
		Realtime:    Realtime{WindowMinutes: int(realtimeWindow / time.Minute)},
		Governance:  Governance{ThresholdEvents: map[types.ThresholdEventKind]int{}},
	}
	for _, tier := range types.AllPerformanceTiers {
		f.Tiers[tier] = 0
	}
	for h := range f.Hourly {
		f.Hourly[h].Hour = h
	}

	graceCutoff := now.Add(-grace).UnixMilli()
	realtimeCutoff := now.Add(-realtimeWindow).UnixMilli()

	type typeAcc struct {
		sumMs, sumTools, sumComplexity float64
		success                        int
	}
	typeAccs := map[types.InstructionType]*typeAcc{}
	hourSums := make([]float64, 24)

	var (
		judged                                   int
		sumMs, sumTools, sumComplexity, sumRWR   float64
		success, realExec, transparent, evidence int
		within30s, within2m, efficient           int
		rtClosed                                 int
		rtSumMs                                  float64
	)

	for _, src := range snap.instructions {
		it := *src
		f.Overall.Instructions++
		started := time.UnixMilli(it.StartMs)
		if it.StartMs >= realtimeCutoff {
			f.Realtime.Instructions++
		}
		if !it.Closed {
			if it.StartMs >= graceCutoff {
				f.Overall.InProgress++
				continue
			}
			terminate(&it, snap.tools)
			f.Overall.Terminated++
		} else {
			f.Overall.Completed++
		}
		judged++

		ts, ok := f.ByType[it.Type]
		if !ok {
			ts = &TypeStats{MinMs: it.TotalMs, MaxMs: it.TotalMs}
			f.ByType[it.Type] = ts
			typeAccs[it.Type] = &typeAcc{}
		}
		acc := typeAccs[it.Type]
		ts.Count++
		ts.MinMs = min(ts.MinMs, it.TotalMs)
		ts.MaxMs = max(ts.MaxMs, it.TotalMs)
		acc.sumMs += float64(it.TotalMs)
		acc.sumTools += float64(it.ToolCalls)
		acc.sumComplexity += it.ComplexityScore
		if it.Success {
			acc.success++
		}

		f.Tiers[types.TierFor(it.TotalMs)]++
		sumMs += float64(it.TotalMs)
		sumTools += float64(it.ToolCalls)
		sumComplexity += it.ComplexityScore
		sumRWR += it.RealWorkRatio
		if it.Success {
			success++
		}
		if it.RealExecution {
			realExec++
		}
		if it.Transparency {
			transparent++
		}
		if it.EvidenceDocumented {
			evidence++
		}
		if it.TotalMs <= 30_000 {
			within30s++
		}
		if it.TotalMs <= 120_000 {
			within2m++
		}
		if it.ToolCalls <= 10 {
			efficient++
		}

		h := started.UTC().Hour()
		f.Hourly[h].Count++
		hourSums[h] += float64(it.TotalMs)
		if it.StartMs >= realtimeCutoff {
			rtClosed++
			rtSumMs += float64(it.TotalMs)
		}
	}

	for typ, ts := range f.ByType {
		acc := typeAccs[typ]
		ts.AvgMs = round(mean(acc.sumMs, ts.Count))
		ts.AvgToolCalls = round(mean(acc.sumTools, ts.Count))
		ts.AvgComplexity = round(mean(acc.sumComplexity, ts.Count))
		ts.SuccessRate = round(ratio(acc.success, ts.Count))
	}
	for h := range f.Hourly {
		f.Hourly[h].AvgMs = round(mean(hourSums[h], f.Hourly[h].Count))
	}

	f.Overall.AvgMs = round(mean(sumMs, judged))
	f.Overall.AvgToolCalls = round(mean(sumTools, judged))
	f.Overall.AvgComplexity = round(mean(sumComplexity, judged))
	f.Overall.RealWorkRatio = round(mean(sumRWR, judged))
	f.Overall.SuccessRate = round(ratio(success, judged))
	f.Overall.RealExecutionRate = round(ratio(realExec, judged))
	f.Overall.TransparencyRate = round(ratio(transparent, judged))
	f.Overall.EvidenceRate = round(ratio(evidence, judged))
	f.Thresholds = ThresholdRates{
		Within30s:          round(ratio(within30s, judged)),
		Within2m:           round(ratio(within2m, judged)),
		EfficientToolUsage: round(ratio(efficient, judged)),
	}
	f.Realtime.AvgMs = round(mean(rtSumMs, rtClosed))

	type toolAcc struct{ sumMs, sumBytes float64 }
	toolAccs := map[string]*toolAcc{}
	var toolSuccess, toolReal int
	var toolSumMs float64
	for _, t := range snap.tools {
		if t.StartMs >= realtimeCutoff {
			f.Realtime.ToolCalls++
		}
		if t.IsOpen() {
			continue
		}
		f.Overall.ToolCalls++
		ts, ok := f.Tools[t.ToolName]
		if !ok {
			ts = &ToolStats{MinMs: t.ExecutionMs, MaxMs: t.ExecutionMs}
			f.Tools[t.ToolName] = ts
			toolAccs[t.ToolName] = &toolAcc{}
		}
		acc := toolAccs[t.ToolName]
		ts.Count++
		ts.MinMs = min(ts.MinMs, t.ExecutionMs)
		ts.MaxMs = max(ts.MaxMs, t.ExecutionMs)
		acc.sumMs += float64(t.ExecutionMs)
		acc.sumBytes += float64(t.ResultSizeBytes)
		if t.Success {
			ts.SuccessRate++
			toolSuccess++
		}
		if t.RealExecution {
			toolReal++
		}
		toolSumMs += float64(t.ExecutionMs)
	}
	for name, ts := range f.Tools {
		acc := toolAccs[name]
		ts.SuccessRate = round(ts.SuccessRate / float64(ts.Count))
		ts.AvgMs = round(mean(acc.sumMs, ts.Count))
		ts.AvgResultBytes = round(mean(acc.sumBytes, ts.Count))
	}
	f.Overall.ToolSuccessRate = round(ratio(toolSuccess, f.Overall.ToolCalls))
	f.Overall.RealToolRate = round(ratio(toolReal, f.Overall.ToolCalls))
	f.Overall.AvgToolMs = round(mean(toolSumMs, f.Overall.ToolCalls))

	for _, e := range snap.events {
		f.Governance.ThresholdEvents[e.Kind]++
		if e.ThresholdViolated {
			f.Governance.ViolatedEvents++
		}
	}
	for _, v := range snap.violations {
		f.Governance.RuleViolations++
		if !v.Resolved {
			f.Governance.UnresolvedRules++
		}
	}
	if snap.health != nil {
		score := snap.health.Value
		at := snap.health.Timestamp.UTC()
		f.Governance.HealthScore = &score
		f.Governance.HealthCollectedAt = &at
	}
	return f
}

// terminate closes a copy of a stale instruction at its last tool activity
// with success=false.
func terminate(it *types.InstructionTiming, tools []*types.ToolTiming) {
	end := it.StartMs
	calls := 0
	var toolMs int64
	for _, t := range tools {
		if t.SessionID != it.SessionID || t.InstructionID != it.InstructionID {
			continue
		}
		end = max(end, t.StartMs, t.EndMs)
		if !t.IsOpen() {
			calls++
			toolMs += t.ExecutionMs
		}
	}
	it.EndMs = end
	it.TotalMs = end - it.StartMs
	it.ToolCalls = calls
	it.ToolTimeMs = toolMs
	it.Success = false
	it.Closed = true
	it.ComplexityScore = types.ComplexityScore(it.TotalMs, calls)
	it.Tier = types.TierFor(it.TotalMs)
}
