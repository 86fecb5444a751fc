package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down, unknown
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := []ServiceHealth{
		h.checkStore(ctx),
		h.checkObjects(ctx),
		h.checkNodes(),
	}

	status := "healthy"
	for _, s := range services {
		if s.Status == "down" {
			status = "degraded"
		}
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": services,
	})
}

func (h *Handler) checkStore(ctx context.Context) ServiceHealth {
	if err := h.store.Healthy(ctx); err != nil {
		return ServiceHealth{Name: "store", Status: "down", Details: err.Error()}
	}
	return ServiceHealth{Name: "store", Status: "up"}
}

func (h *Handler) checkObjects(ctx context.Context) ServiceHealth {
	if h.objects == nil {
		return ServiceHealth{Name: "s3", Status: "unknown", Details: "not configured"}
	}
	if err := h.objects.Healthy(ctx); err != nil {
		return ServiceHealth{Name: "s3", Status: "down", Details: err.Error()}
	}
	return ServiceHealth{Name: "s3", Status: "up"}
}

// checkNodes reports the health poller's view; an unreachable node degrades
// the panel but does not make it unhealthy.
func (h *Handler) checkNodes() ServiceHealth {
	if h.health == nil {
		return ServiceHealth{Name: "nodes", Status: "unknown", Details: "poller not running"}
	}
	snap := h.health.Snapshot()
	down := 0
	for _, st := range snap {
		if !st.Reachable {
			down++
		}
	}
	if down > 0 {
		return ServiceHealth{Name: "nodes", Status: "up", Details: fmt.Sprintf("%d of %d nodes unreachable", down, len(snap))}
	}
	return ServiceHealth{Name: "nodes", Status: "up"}
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": h.version})
}
