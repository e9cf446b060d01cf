// Package chi wires the HTTP surface over the usecase services.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	chiRouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/logger"
	"github.com/kailas-cloud/omnidex/internal/metrics"
	analyticsuc "github.com/kailas-cloud/omnidex/internal/usecase/analytics"
	collectionuc "github.com/kailas-cloud/omnidex/internal/usecase/collection"
	curationuc "github.com/kailas-cloud/omnidex/internal/usecase/curation"
	documentuc "github.com/kailas-cloud/omnidex/internal/usecase/document"
	healthuc "github.com/kailas-cloud/omnidex/internal/usecase/health"
	searchuc "github.com/kailas-cloud/omnidex/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server is the omnidex HTTP API.
type Server struct {
	collections *collectionuc.Service
	documents   *documentuc.Service
	search      *searchuc.Service
	curation    *curationuc.Service
	analytics   *analyticsuc.Service
	health      *healthuc.Service

	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	collections *collectionuc.Service,
	documents *documentuc.Service,
	search *searchuc.Service,
	curation *curationuc.Service,
	analytics *analyticsuc.Service,
	health *healthuc.Service,
	log *zap.Logger,
) *Server {
	s := &Server{
		collections: collections,
		documents:   documents,
		search:      search,
		curation:    curation,
		analytics:   analytics,
		health:      health,
		logger:      log,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound),
		sentinelHandler(domain.ErrConflict, http.StatusConflict),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest),
		sentinelHandler(domain.ErrIncompatibleStoredData, http.StatusBadRequest),
		sentinelHandler(domain.ErrTimeout, http.StatusRequestTimeout),
		// Rate limiting surfaces as 500 at this boundary (semantically 429).
		sentinelHandler(domain.ErrRateLimited, http.StatusInternalServerError),
	}
	return s
}

// Router builds the chi router with logging and metrics middleware.
func (s *Server) Router() http.Handler {
	r := chiRouter.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logger.ContextWithLogger(req.Context(), s.logger)))
		})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/collections", func(r chiRouter.Router) {
		r.Post("/", s.handleCreateCollection)
		r.Get("/", s.handleListCollections)
		r.Route("/{collection}", func(r chiRouter.Router) {
			r.Get("/", s.handleGetCollection)
			r.Delete("/", s.handleDropCollection)
			r.Patch("/", s.handleAlterCollection)
			r.Get("/alter_status", s.handleAlterStatus)

			r.Route("/documents", func(r chiRouter.Router) {
				r.Post("/", s.handleAddDocument)
				r.Delete("/", s.handleDeleteDocuments)
				r.Post("/import", s.handleImportDocuments)
				r.Get("/search", s.handleSearch)
				r.Post("/search", s.handleSearch)
				r.Get("/{id}", s.handleGetDocument)
				r.Delete("/{id}", s.handleDeleteDocument)
			})

			r.Route("/overrides", func(r chiRouter.Router) {
				r.Get("/", s.handleListOverrides)
				r.Put("/{id}", s.handleUpsertOverride)
				r.Get("/{id}", s.handleGetOverride)
				r.Delete("/{id}", s.handleDeleteOverride)
			})
		})
	})

	r.Post("/multi_search", s.handleMultiSearch)

	r.Route("/analytics", func(r chiRouter.Router) {
		r.Post("/rules", s.handleCreateAnalyticsRule)
		r.Put("/rules/{name}", s.handleUpsertAnalyticsRule)
		r.Get("/rules", s.handleListAnalyticsRules)
		r.Get("/rules/{name}", s.handleGetAnalyticsRule)
		r.Delete("/rules/{name}", s.handleDeleteAnalyticsRule)
		r.Post("/events", s.handleAddAnalyticsEvent)
		r.Get("/events", s.handleGetAnalyticsEvents)
		r.Post("/aggregate_events", s.handleAggregateEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleDomainError maps a domain error onto the HTTP surface.
func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "An internal error has occurred.")
}

func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, err.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(domain.ErrInvalidArgument, err)
	}
	return nil
}
