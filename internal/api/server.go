package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slotopt/internal/auth"
	"slotopt/internal/metrics"
	"slotopt/internal/runs"
	"slotopt/internal/store"
)

type Server struct {
	Runs   *runs.Service
	Store  store.Store
	Broker EventBroker
	Auth   *auth.Verifier
	Log    *slog.Logger
	// Info is reported by /debug/info and must not carry secrets.
	Info map[string]any
	// Ready checks the backing services for /readyz.
	Ready func(ctx context.Context) error

	validate *validator.Validate
}

func NewServer(svc *runs.Service, st store.Store, broker EventBroker, verifier *auth.Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if broker == nil {
		broker = NewBroker()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{Runs: svc, Store: st, Broker: broker, Auth: verifier, Log: log, validate: v}
}

// Routes builds the HTTP handler of the service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/info", s.DebugJSON)
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)
	r.Get("/swagger", s.SwaggerHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/optimizations", func(r chi.Router) {
			r.Post("/", s.CreateOptimization)
			r.Get("/", s.ListOptimizations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetOptimization)
				r.Delete("/", s.DeleteOptimization)
				r.Post("/run", s.RunOptimization)
				r.Post("/abort", s.AbortOptimization)
				r.Get("/statistics", s.OptimizationStatistics)
				r.Get("/results", s.OptimizationResults)
				r.Get("/events", s.OptimizationEvents)
				r.Get("/ws", s.OptimizationWS)
			})
		})
		r.Post("/assignments/optimum", s.AssignmentOptimum)
		r.Post("/assignments/front", s.AssignmentFront)
		r.Get("/operators", s.OperatorsHandler)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", s.CreateSubscription)
			r.Get("/", s.ListSubscriptions)
			r.Delete("/{id}", s.DeleteSubscription)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/webhook-deliveries", s.WebhookDeliveries)
			r.Post("/webhook-deliveries/{id}/retry", s.RetryWebhookDelivery)
		})
	})
	return r
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
