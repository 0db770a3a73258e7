package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/go-chi/chi/v5"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 200
)

// SystemHandler handles read-only system and analytics endpoints.
type SystemHandler struct {
	*Handler
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(base *Handler) *SystemHandler {
	return &SystemHandler{Handler: base}
}

// RegisterRoutes registers system routes.
func (h *SystemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/status", h.Status)
	r.Get("/agents", h.Agents)
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/performance", h.Performance)
		r.Get("/snapshots", h.Snapshots)
	})
}

// Root describes the service.
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"message":       "AI Content Creation System",
		"version":       Version,
		"status":        "operational",
		"agents_active": h.agents.ActiveCount(),
		"wow_factors":   h.agents.Highlights(),
	})
}

// Status reports the system counters and the agent table.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.metrics.Snapshot()

	JSON(w, http.StatusOK, map[string]interface{}{
		"system": map[string]interface{}{
			"status":                "operational",
			"start_time":            h.counters.StartedAt(),
			"uptime_seconds":        snap.Performance.UptimeSeconds,
			"total_content_created": snap.TotalContent,
			"agents_active":         snap.ActiveAgents,
		},
		"agents": h.agents.List(),
		"performance": map[string]interface{}{
			"total_agents":          snap.TotalAgents,
			"active_agents":         snap.ActiveAgents,
			"content_created_today": snap.TotalContent,
		},
	})
}

// Agents lists the agent table.
func (h *SystemHandler) Agents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.agents.List(),
	})
}

// Performance reports current aggregate metrics.
func (h *SystemHandler) Performance(w http.ResponseWriter, r *http.Request) {
	snap := h.metrics.Snapshot()
	perf := snap.Performance

	JSON(w, http.StatusOK, map[string]interface{}{
		"system_uptime":           perf.UptimeSeconds,
		"total_agents":            snap.TotalAgents,
		"active_agents":           snap.ActiveAgents,
		"total_content_created":   snap.TotalContent,
		"average_engagement_rate": perf.AverageEngagement,
		"average_conversion_rate": perf.AverageConversion,
		"content_types_supported": perf.ContentTypesSupported,
		"total_optimizations":     perf.TotalOptimizations,
		"total_publications":      perf.TotalPublications,
	})
}

// Snapshots lists recently persisted metric snapshots, newest first.
func (h *SystemHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snaps, err := h.repo.ListMetricSnapshots(r.Context(), limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []*domain.MetricSnapshot{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := 5 * time.Second
	if h.cfg != nil && h.cfg.Timeout.HealthCheck > 0 {
		healthCheckTimeout = h.cfg.Timeout.HealthCheck
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	agents := make(map[string]interface{}, h.agents.Len())
	for _, a := range h.agents.List() {
		agents[a.ID] = map[string]interface{}{
			"status": a.Status,
			"name":   a.Name,
		}
	}
	status["agents"] = agents

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
