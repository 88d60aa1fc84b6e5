package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	orchestratorx "github.com/tanpawarit/healthguard-agent/agent/agents/orchestrator"
	"github.com/tanpawarit/healthguard-agent/agent/analysis"
	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
	metricsx "github.com/tanpawarit/healthguard-agent/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Addr           string        `envconfig:"ADDR" default:":8080"`
	RateLimit      float64       `envconfig:"RATE_LIMIT" split_words:"true" default:"20"`
	RateBurst      int           `envconfig:"RATE_BURST" split_words:"true" default:"40"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" split_words:"true" default:"120s"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
	return c
}

// TurnHandler is the conversational entry point served by POST .../turns.
type TurnHandler interface {
	HandleTurn(ctx context.Context, patientID, message string, opts ...orchestratorx.TurnOption) (contractx.TurnResponse, error)
}

// Analyzer serves the dashboard analysis endpoints.
type Analyzer interface {
	Adherence(ctx context.Context, patientID, medication string, from, to time.Time, loc *time.Location) (analysis.AdherenceReport, error)
	AdherenceOverview(ctx context.Context, patientID string, from, to time.Time, loc *time.Location) (analysis.AdherenceOverview, error)
	SymptomTrend(ctx context.Context, patientID, label string, from, to time.Time, loc *time.Location) (analysis.TrendReport, error)
}

type Option func(*Server)

func WithMetrics(m *metricsx.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

type Server struct {
	cfg      Config
	turns    TurnHandler
	store    statex.Store
	analyzer Analyzer

	metrics  *metricsx.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	validate *validator.Validate

	loc *time.Location
	now func() time.Time
}

func New(cfg Config, turns TurnHandler, store statex.Store, analyzer Analyzer, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		turns:    turns,
		store:    store,
		analyzer: analyzer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/patients/{patientID}", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Post("/turns", s.postTurn)
		r.Get("/turns", s.listTurns)
		r.Get("/medications", s.listMedications)
		r.Get("/symptoms", s.listSymptoms)
		r.Get("/adherence", s.adherenceOverview)
		r.Get("/adherence/{medication}", s.adherence)
		r.Get("/trends/{label}", s.trend)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
