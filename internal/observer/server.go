// Package observer is the local HTTP endpoint that receives hook records,
// exposes Prometheus metrics and serves the dashboard.
package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/steveyegge/governor/internal/aggregator"
	"github.com/steveyegge/governor/internal/metrics"
)

const (
	DefaultRetention = time.Hour
	DefaultCapacity  = 5000
	DefaultRate      = 100
	DefaultBurst     = 200

	maxBody       = 1 << 20
	defaultLimit  = 50
	shutdownGrace = 5 * time.Second
)

// Record kinds, matching the hook bridge's endpoints.
const (
	KindEvent       = "event"
	KindMetric      = "metric"
	KindPerformance = "performance"
)

// DashboardRenderer writes the HTML dashboard.
type DashboardRenderer interface {
	Render(ctx context.Context, w io.Writer) error
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Dashboard and FeedPath are optional; their routes answer 404 without
	// them.
	Dashboard DashboardRenderer
	FeedPath  string

	Retention time.Duration
	Capacity  uint64
	Rate      rate.Limit
	Burst     int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Rate == 0 {
		c.Rate = DefaultRate
	}
	if c.Burst == 0 {
		c.Burst = DefaultBurst
	}
	return nil
}

// Record is one accepted hook payload.
type Record struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

type Server struct {
	cfg     Config
	log     *slog.Logger
	records *ttlcache.Cache[string, *Record]
	limiter *rate.Limiter
	router  chi.Router
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Server{
		cfg: cfg,
		log: cfg.Logger.With("component", "observer"),
		records: ttlcache.New(
			ttlcache.WithTTL[string, *Record](cfg.Retention),
			ttlcache.WithCapacity[string, *Record](cfg.Capacity),
			ttlcache.WithDisableTouchOnHit[string, *Record](),
		),
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/dashboard", s.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.With(s.rateLimit).Post("/hooks/{kind}", s.handleRecord)
		r.Get("/hooks/recent", s.handleRecent)
		r.Get("/feed", s.handleFeed)
	})
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go s.records.Start()
	defer s.records.Stop()

	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("observer listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("observer server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("observer shutdown: %w", err)
	}
	s.log.Info("observer stopped")
	return nil
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, errorBody("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "error": msg}
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	switch kind {
	case KindEvent, KindMetric, KindPerformance:
	default:
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorBody("unknown record kind "+strconv.Quote(kind)))
		return
	}

	var payload json.RawMessage
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBody), &payload); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody("invalid JSON body: "+err.Error()))
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 || bytes.TrimSpace(payload)[0] != '{' {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody("body must be a JSON object"))
		return
	}

	rec := &Record{ID: uuid.NewString(), Kind: kind, ReceivedAt: s.cfg.Clock.Now().UTC(), Payload: payload}
	s.records.Set(rec.ID, rec, ttlcache.DefaultTTL)
	metrics.ObserverRecords.WithLabelValues(kind).Inc()
	s.log.Debug("record accepted", "kind", kind, "id", rec.ID)
	render.JSON(w, r, map[string]string{"status": "accepted", "id": rec.ID})
}

// Recent returns unexpired records, newest first. An empty kind matches all.
func (s *Server) Recent(kind string, limit int) []*Record {
	out := make([]*Record, 0)
	for _, item := range s.records.Items() {
		if item.IsExpired() {
			continue
		}
		if rec := item.Value(); kind == "" || rec.Kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorBody("limit must be a positive integer"))
			return
		}
		limit = n
	}
	render.JSON(w, r, s.Recent(r.URL.Query().Get("kind"), limit))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.cfg.FeedPath == "" {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorBody("no feed configured"))
		return
	}
	feed, err := aggregator.LoadFeed(s.cfg.FeedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorBody("feed not generated yet"))
	case err != nil:
		s.log.Warn("reading feed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorBody("feed unreadable"))
	default:
		render.JSON(w, r, feed)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Dashboard == nil {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := s.cfg.Dashboard.Render(r.Context(), &buf); err != nil {
		s.log.Warn("rendering dashboard", "error", err)
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"status": "ok", "records": s.records.Len()})
}
