// Package dashboard renders a standalone HTML snapshot of governance health.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/aggregator"
	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/health"
	"github.com/steveyegge/governor/internal/predict"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

//go:embed templates/dashboard.html
var templatesFS embed.FS

// Status is the traffic-light state of the system or one component.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
	StatusUnknown  Status = "UNKNOWN"
)

// StatusForScore maps a [0,1] health score onto a status.
func StatusForScore(score float64) Status {
	switch {
	case score >= 0.9:
		return StatusHealthy
	case score >= 0.7:
		return StatusDegraded
	}
	return StatusCritical
}

const DefaultWindow = 24 * time.Hour

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock

	// FeedPath is the aggregator's dashboard feed. Optional.
	FeedPath string
	Window   time.Duration
	TopRules int
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.TopRules == 0 {
		c.TopRules = 5
	}
	return nil
}

// Component is one row of the component table.
type Component struct {
	Name      string
	Status    Status
	Value     string
	Detail    string
	UpdatedAt *time.Time
}

// Snapshot is everything the template renders.
type Snapshot struct {
	GeneratedAt time.Time
	Status      Status
	HealthScore *float64
	Components  []Component
	Rules       *types.RuleStats
	Feed        *aggregator.Feed
	Prediction  *types.Prediction
}

type Renderer struct {
	cfg  Config
	log  *slog.Logger
	tmpl *template.Template
}

func New(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	tmpl, err := template.New("dashboard.html").Funcs(funcMap).ParseFS(templatesFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("could not parse html template: %w", err)
	}
	return &Renderer{cfg: cfg, log: cfg.Logger.With("component", "dashboard"), tmpl: tmpl}, nil
}

var funcMap = template.FuncMap{
	"lower": func(s Status) string { return strings.ToLower(string(s)) },
	"pct":   func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"ms":    func(v float64) string { return fmt.Sprintf("%.0f ms", v) },
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

func (r *Renderer) latest(ctx context.Context, metricType string) (*types.ComplianceMetric, error) {
	m, err := r.cfg.Store.LatestMetric(ctx, metricType)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// Snapshot gathers the current state from the store and the feed.
func (r *Renderer) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := r.cfg.Clock.Now()
	s := &Snapshot{GeneratedAt: now.UTC(), Status: StatusUnknown}

	hm, err := r.latest(ctx, health.HealthMetricType)
	if err != nil {
		return nil, fmt.Errorf("reading health score: %w", err)
	}
	row := Component{Name: "Growth monitor", Status: StatusUnknown, Value: "no data"}
	if hm != nil {
		score := hm.Value
		s.HealthScore = &score
		s.Status = StatusForScore(score)
		at := hm.Timestamp.UTC()
		row = Component{Name: "Growth monitor", Status: s.Status, Value: fmt.Sprintf("%.1f%%", score*100), UpdatedAt: &at}
	}
	s.Components = append(s.Components, row)

	for _, c := range []struct{ name, metric string }{
		{"Protocol compliance", compliance.MetricCombined},
		{"P55 real execution", compliance.MetricP55Overall},
		{"P56 transparency", compliance.MetricP56Overall},
	} {
		m, err := r.latest(ctx, c.metric)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", c.metric, err)
		}
		s.Components = append(s.Components, complianceRow(c.name, m))
	}

	pm, err := r.latest(ctx, predict.AvailabilityMetricType)
	if err != nil {
		return nil, fmt.Errorf("reading model availability: %w", err)
	}
	preds, err := r.cfg.Store.RecentPredictions(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("reading predictions: %w", err)
	}
	if len(preds) > 0 {
		s.Prediction = preds[0]
	}
	s.Components = append(s.Components, predictionRow(pm, s.Prediction))

	if r.cfg.FeedPath != "" {
		feed, err := aggregator.LoadFeed(r.cfg.FeedPath)
		switch {
		case err == nil:
			s.Feed = feed
		case errors.Is(err, os.ErrNotExist):
		default:
			r.log.Warn("ignoring unreadable feed", "path", r.cfg.FeedPath, "error", err)
		}
	}
	s.Components = append(s.Components, feedRow(s.Feed))

	if s.Rules, err = r.cfg.Store.RuleStats(ctx, now.Add(-r.cfg.Window), r.cfg.TopRules); err != nil {
		return nil, fmt.Errorf("reading rule stats: %w", err)
	}

	// A failing component pulls the system status down.
	for _, c := range s.Components {
		if c.Status == StatusCritical && s.Status != StatusUnknown {
			s.Status = StatusCritical
		}
		if c.Status == StatusDegraded && s.Status == StatusHealthy {
			s.Status = StatusDegraded
		}
	}
	return s, nil
}

func complianceRow(name string, m *types.ComplianceMetric) Component {
	if m == nil {
		return Component{Name: name, Status: StatusUnknown, Value: "no data"}
	}
	status := StatusHealthy
	if !m.Compliant {
		status = StatusDegraded
		if m.Value < m.Threshold*0.9 {
			status = StatusCritical
		}
	}
	at := m.Timestamp.UTC()
	return Component{
		Name:      name,
		Status:    status,
		Value:     fmt.Sprintf("%.1f%%", m.Value),
		Detail:    fmt.Sprintf("threshold %.1f%%", m.Threshold),
		UpdatedAt: &at,
	}
}

func predictionRow(avail *types.ComplianceMetric, p *types.Prediction) Component {
	row := Component{Name: "Predictive analytics", Status: StatusUnknown, Value: "no model"}
	if avail != nil {
		at := avail.Timestamp.UTC()
		row.UpdatedAt = &at
		if !avail.Compliant {
			row.Status = StatusDegraded
			row.Detail = avail.Details
			return row
		}
		row.Status = StatusHealthy
		row.Value = "model available"
	}
	if p != nil {
		row.Value = fmt.Sprintf("%s in %dh (p=%.2f)", p.ClassLabel, p.HorizonHours, p.Probability)
		row.Detail = "risk " + p.RiskLevel
		if p.RiskLevel == "HIGH" && p.Class >= types.ClassHigh {
			row.Status = StatusDegraded
		}
	}
	return row
}

func feedRow(f *aggregator.Feed) Component {
	if f == nil {
		return Component{Name: "Aggregator", Status: StatusUnknown, Value: "no feed"}
	}
	at := f.GeneratedAt.UTC()
	return Component{
		Name:      "Aggregator",
		Status:    StatusHealthy,
		Value:     fmt.Sprintf("%d instructions, %d tool calls", f.Overall.Instructions, f.Overall.ToolCalls),
		Detail:    fmt.Sprintf("%.0fh window", f.WindowHours),
		UpdatedAt: &at,
	}
}

// RenderSnapshot writes s as a standalone HTML document.
func (r *Renderer) RenderSnapshot(w io.Writer, s *Snapshot) error {
	if err := r.tmpl.Execute(w, s); err != nil {
		return fmt.Errorf("could not execute html template: %w", err)
	}
	return nil
}

// Render gathers a snapshot and writes it to w.
func (r *Renderer) Render(ctx context.Context, w io.Writer) error {
	s, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	return r.RenderSnapshot(w, s)
}

// WriteFile renders to path atomically.
func (r *Renderer) WriteFile(ctx context.Context, path string) error {
	var buf bytes.Buffer
	if err := r.Render(ctx, &buf); err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing dashboard: %w", err)
	}
	r.log.Info("dashboard written", "path", path)
	return nil
}
