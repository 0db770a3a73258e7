// Package api provides HTTP handlers for the content pipeline API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/contentpipeline/internal/config"
	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/metrics"
	"github.com/ashureev/contentpipeline/internal/pipeline"
	"github.com/ashureev/contentpipeline/internal/registry"
	"github.com/ashureev/contentpipeline/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	orch     *pipeline.Orchestrator
	agents   *registry.Registry
	metrics  *metrics.Aggregator
	cfg      *config.Config
	counters *pipeline.Counters
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, orch *pipeline.Orchestrator, agents *registry.Registry, agg *metrics.Aggregator, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		orch:     orch,
		agents:   agents,
		metrics:  agg,
		cfg:      cfg,
		counters: orch.Counters(),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapabilityFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusFor picks. Server-side failures
// are logged in full and answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	message := err.Error()
	switch status {
	case http.StatusBadGateway:
		message = "content capability failed"
	case http.StatusServiceUnavailable:
		message = "persistence unavailable"
	case http.StatusInternalServerError:
		message = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, message)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}
