package predict

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// Rolling window sizes, in samples.
var windowSizes = []int{5, 10}

// Alert lookback windows for the severity counts.
var alertWindows = []time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour}

// point is one metric observation.
type point struct {
	At        time.Time
	Value     float64
	Compliant bool
}

// series is the history of one metric type, oldest first.
type series struct {
	Name      string
	Threshold float64
	Points    []point
}

// history is everything features and labels are derived from.
type history struct {
	Series []*series
	Alerts []*types.Alert // oldest first
}

func newHistory(metricTypes []string, rows []*types.ComplianceMetric, alerts []*types.Alert) *history {
	byType := make(map[string]*series, len(metricTypes))
	h := &history{}
	for _, name := range metricTypes {
		s := &series{Name: name}
		byType[name] = s
		h.Series = append(h.Series, s)
	}
	for _, r := range rows {
		s, ok := byType[r.MetricType]
		if !ok {
			continue
		}
		s.Points = append(s.Points, point{At: r.Timestamp, Value: r.Value, Compliant: r.Compliant})
		s.Threshold = r.Threshold
	}
	for _, s := range h.Series {
		sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].At.Before(s.Points[j].At) })
	}
	h.Alerts = append(h.Alerts, alerts...)
	sort.SliceStable(h.Alerts, func(i, j int) bool { return h.Alerts[i].Timestamp.Before(h.Alerts[j].Timestamp) })
	return h
}

// span returns the first and last observation times.
func (h *history) span() (first, last time.Time, ok bool) {
	consider := func(t time.Time) {
		if !ok || t.Before(first) {
			first = t
		}
		if !ok || t.After(last) {
			last = t
		}
		ok = true
	}
	for _, s := range h.Series {
		if n := len(s.Points); n > 0 {
			consider(s.Points[0].At)
			consider(s.Points[n-1].At)
		}
	}
	if n := len(h.Alerts); n > 0 {
		consider(h.Alerts[0].Timestamp)
		consider(h.Alerts[n-1].Timestamp)
	}
	return first, last, ok
}

// alertTypes are the per-type response time features, in order.
func alertTypes() []string {
	out := make([]string, 0, len(types.AllThresholdEventKinds)+1)
	for _, k := range types.AllThresholdEventKinds {
		out = append(out, string(k))
	}
	return append(out, "rule")
}

// FeatureNames lists the feature vector layout for the given metric types.
func FeatureNames(metricTypes []string) []string {
	var names []string
	for _, m := range metricTypes {
		for _, w := range windowSizes {
			names = append(names,
				m+"_mean_"+strconv.Itoa(w), m+"_std_"+strconv.Itoa(w), m+"_slope_"+strconv.Itoa(w))
		}
		names = append(names, m+"_threshold_distance", m+"_proximity_ratio", m+"_compliance_streak")
	}
	names = append(names, "hour_of_day", "day_of_week", "is_weekend")
	for _, sev := range types.AllSeverities {
		for _, w := range alertWindows {
			names = append(names, "alerts_"+strings.ToLower(string(sev))+"_"+durationLabel(w))
		}
	}
	for _, t := range alertTypes() {
		names = append(names, "response_ms_"+t)
	}
	return names
}

// features builds the vector observed at t. Only data at or before t is used.
func (h *history) features(t time.Time) []float64 {
	var x []float64
	for _, s := range h.Series {
		n := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].At.After(t) })
		seen := s.Points[:n]
		for _, w := range windowSizes {
			vals := lastValues(seen, w)
			m, sd := meanStd(vals)
			x = append(x, m, sd, slope(vals))
		}
		var current, distance, proximity, streak float64
		if n > 0 {
			current = seen[n-1].Value
			distance = current - s.Threshold
			if s.Threshold != 0 {
				proximity = current / s.Threshold
			}
			for i := n - 1; i >= 0 && seen[i].Compliant; i-- {
				streak++
			}
		}
		x = append(x, distance, proximity, streak)
	}

	utc := t.UTC()
	weekend := 0.0
	if wd := utc.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1
	}
	x = append(x, float64(utc.Hour()), float64(utc.Weekday()), weekend)

	end := sort.Search(len(h.Alerts), func(i int) bool { return h.Alerts[i].Timestamp.After(t) })
	past := h.Alerts[:end]
	for _, sev := range types.AllSeverities {
		for _, w := range alertWindows {
			from := t.Add(-w)
			count := 0
			for i := len(past) - 1; i >= 0 && past[i].Timestamp.After(from); i-- {
				if past[i].Severity == sev {
					count++
				}
			}
			x = append(x, float64(count))
		}
	}

	dayAgo := t.Add(-24 * time.Hour)
	sums := map[string]float64{}
	counts := map[string]int{}
	for i := len(past) - 1; i >= 0 && past[i].Timestamp.After(dayAgo); i-- {
		typ := past[i].Type
		if strings.HasPrefix(typ, "rule:") {
			typ = "rule"
		}
		sums[typ] += float64(past[i].ResponseMs)
		counts[typ]++
	}
	for _, typ := range alertTypes() {
		x = append(x, mean(sums[typ], counts[typ]))
	}
	return x
}

// label is the most severe alert class in (t, t+horizon].
func (h *history) label(t time.Time, horizon time.Duration) types.ViolationClass {
	start := sort.Search(len(h.Alerts), func(i int) bool { return h.Alerts[i].Timestamp.After(t) })
	end := t.Add(horizon)
	worst := types.ClassNone
	for i := start; i < len(h.Alerts) && !h.Alerts[i].Timestamp.After(end); i++ {
		if c := types.ClassForSeverity(h.Alerts[i].Severity); c > worst {
			worst = c
		}
	}
	return worst
}

func lastValues(pts []point, n int) []float64 {
	if len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanStd(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - m) * (v - m)
	}
	return m, math.Sqrt(sq / float64(len(vals)))
}

// slope is the least-squares slope of vals against their index.
func slope(vals []float64) float64 {
	n := float64(len(vals))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, v := range vals {
		x := float64(i)
		sx += x
		sy += v
		sxy += x * v
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func durationLabel(d time.Duration) string {
	return strconv.Itoa(int(d/time.Hour)) + "h"
}
