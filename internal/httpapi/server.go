// Package httpapi serves the upload, batch, order and event endpoints.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rpattn/bulkorders/internal/auth"
	"github.com/rpattn/bulkorders/internal/ingestion"
	"github.com/rpattn/bulkorders/internal/lifecycle"
	"github.com/rpattn/bulkorders/internal/middleware"
	"github.com/rpattn/bulkorders/internal/notify"
	"github.com/rpattn/bulkorders/internal/repository"
)

const (
	requestTimeout    = 2 * time.Minute
	heartbeatInterval = 25 * time.Second
)

// Deps are the services the API exposes.
type Deps struct {
	Store       repository.Store
	Ingestion   *ingestion.Service
	Orders      *lifecycle.Service
	Hub         *notify.Hub
	MaxFileSize int64
}

// Server routes HTTP requests to the services.
type Server struct {
	router    chi.Router
	store     repository.Store
	ingestion *ingestion.Service
	orders    *lifecycle.Service
	hub       *notify.Hub
	heartbeat time.Duration
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     deps.Store,
		ingestion: deps.Ingestion,
		orders:    deps.Orders,
		hub:       deps.Hub,
		heartbeat: heartbeatInterval,
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.LoggingMiddleware)
	s.router.Use(chimw.Recoverer)
	s.router.Use(auth.ActorMiddleware)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Streaming stays outside the request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))
			r.Use(middleware.DataLoaderMiddleware(deps.Store.Orders()))

			r.Method(http.MethodPost, "/batches", ingestion.NewHTTPHandler(deps.Ingestion, deps.MaxFileSize))
			r.Get("/batches", s.handleListBatches)
			r.Get("/batches/{batchID}", s.handleGetBatch)
			r.Get("/batches/{batchID}/report", s.handleBatchReport)

			r.Get("/orders/{orderID}", s.handleGetOrder)
			r.Post("/orders/{orderID}/status", s.handleTransition)
		})
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
