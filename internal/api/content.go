package api

import (
	"fmt"
	"net/http"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// ContentHandler handles pipeline stage endpoints.
type ContentHandler struct {
	*Handler
}

// NewContentHandler creates a content handler.
func NewContentHandler(base *Handler) *ContentHandler {
	return &ContentHandler{Handler: base}
}

// RegisterRoutes registers content routes.
func (h *ContentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/content", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Post("/optimize", h.Optimize)
		r.Post("/publish", h.Publish)
		r.Get("/{contentID}", h.Get)
	})
	r.Put("/publications/{publicationID}/actual-reach", h.ActualReach)
}

// Generate runs the generate stage.
func (h *ContentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	item, err := h.orch.Generate(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Content generated successfully",
		"content": item,
	})
}

// Optimize runs the optimize stage.
func (h *ContentHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req pipeline.OptimizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	rec, err := h.orch.Optimize(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":               "success",
		"message":              "Content optimized successfully",
		"optimization_results": rec,
	})
}

// Publish runs the publish stage.
func (h *ContentHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req pipeline.PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	rec, err := h.orch.Publish(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":              "success",
		"message":             "Content published successfully",
		"publication_results": rec,
	})
}

// Get returns a content item with its optimization and publication history.
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	history, err := h.orch.History(r.Context(), chi.URLParam(r, "contentID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, history)
}

type actualReachRequest struct {
	ActualReach *int64 `json:"actual_reach"`
}

// ActualReach records the measured reach of a publication.
func (h *ContentHandler) ActualReach(w http.ResponseWriter, r *http.Request) {
	var req actualReachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.ActualReach == nil {
		WriteError(w, r, fmt.Errorf("%w: actual_reach is required", domain.ErrValidation))
		return
	}

	rec, err := h.orch.RecordActualReach(r.Context(), chi.URLParam(r, "publicationID"), *req.ActualReach)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":              "success",
		"message":             "Actual reach recorded",
		"publication_results": rec,
	})
}
