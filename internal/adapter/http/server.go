package http

import (
	"net/http"
	"time"

	"github.com/bnema/sketchmotion/internal/adapter/http/middleware"
	"github.com/bnema/sketchmotion/internal/adapter/http/ratelimit"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerConfig struct {
	Pipelines   PipelineService
	Resources   ResourceLister
	EventBus    *service.EventBus
	Auth        Authenticator
	Limiter     *ratelimit.AuthFailureLimiter
	BehindProxy bool
	Version     string
	StartTime   time.Time
}

type Server struct {
	router http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{router: NewRouter(cfg)}
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	sseHandler := NewSSEHandler(cfg.EventBus, cfg.Pipelines)
	wsHandler := NewWSHandler(cfg.EventBus, cfg.Pipelines)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())

	r.Get("/healthz", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(AuthMiddleware(cfg.Auth, cfg.Limiter, cfg.BehindProxy))
		}

		r.Post("/pipelines", submitPipelineHandler(cfg))
		r.Get("/pipelines/{id}", getPipelineHandler(cfg))
		r.Delete("/pipelines/{id}", cancelPipelineHandler(cfg))
		r.Get("/pipelines/{id}/events", sseHandler.Events())
		r.Get("/pipelines/{id}/ws", wsHandler.Status())
		r.Get("/resources", listResourcesHandler(cfg))
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.router).ServeHTTP(w, r)
}
