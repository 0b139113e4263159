// Package api serves the read-only node status API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/node"
)

const (
	moduleName = "api"
)

// StatusSource reports the current state of a node.
type StatusSource interface {
	Status() node.Status
}

// NewRouter returns the handler serving the status API.
func NewRouter(src StatusSource, m metrics.RequestMetrics, logger *log.Logger) http.Handler {
	logger = logger.WithModule(moduleName)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m, logger))
	r.Use(CorsMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("content-type", "application/json; charset=utf-8")
			if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
				logger.Warn("failed to write status response", "err", err)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		HumanReadableJsonErrorHandler(w, r, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		HumanReadableJsonErrorHandler(w, r, ErrMethodNotAllowed)
	})

	return r
}
