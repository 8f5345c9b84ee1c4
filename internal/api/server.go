// Package api exposes the read-only query surface over the indexed data:
// casts, users, job progress and store counts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cast-indexer/internal/config"
	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/logging"
)

// Server wraps the HTTP server around the query handlers
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *logging.Logger
}

// NewServer creates a query API server
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger *logging.Logger) *Server {
	s := &Server{handlers: handlers, logger: logger}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/casts/recent", s.handlers.RecentCasts).Methods(http.MethodGet)
	v1.HandleFunc("/casts/{hash}", s.handlers.CastByHash).Methods(http.MethodGet)
	v1.HandleFunc("/casts/{hash}/replies", s.handlers.CastReplies).Methods(http.MethodGet)
	v1.HandleFunc("/users/{fid}", s.handlers.UserByFid).Methods(http.MethodGet)
	v1.HandleFunc("/users/{fid}/casts", s.handlers.CastsByFid).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handlers.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}", s.handlers.JobStatus).Methods(http.MethodGet)

	return r
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Query API server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps categorized errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryNotFound:
		status = http.StatusNotFound
	case apperrors.CategoryValidation:
		status = http.StatusBadRequest
	case apperrors.CategoryConflict:
		status = http.StatusConflict
	}

	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		writeJSON(w, status, map[string]interface{}{"error": catErr.ToServiceError()})
		return
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": err.Error()},
	})
}
