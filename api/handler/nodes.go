package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hearth/api/auth"
	"hearth/api/daemon"
	"hearth/api/ledger"
	"hearth/api/model"
)

func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.Nodes.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Redacted())
	}
	writeJSON(w, out)
}

func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Nodes.Get(r.Context(), chi.URLParam(r, "nodeId"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, n.Redacted())
}

func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var n model.Node
	if !decode(w, r, &n) {
		return
	}
	if err := n.Validate(); err != nil {
		fail(w, err)
		return
	}
	now := time.Now().UTC()
	n.ID = uuid.NewString()
	n.DaemonTokenID, n.DaemonToken = auth.NewDaemonCredential()
	if n.Scheme == "" {
		n.Scheme = "https"
	}
	if n.DaemonSFTP == 0 {
		n.DaemonSFTP = 2022
	}
	if n.AllocationIP == "" {
		n.AllocationIP = "0.0.0.0"
	}
	n.CreatedAt, n.UpdatedAt = now, now
	if err := h.store.Nodes.Insert(r.Context(), &n); err != nil {
		fail(w, err)
		return
	}
	log.Printf("node %s (%s) registered", n.Name, n.ID)
	writeStatus(w, http.StatusCreated, n.Redacted())
}

// UpdateNode replaces the editable fields. Identity, credentials and the
// creation time are kept.
func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	cur, err := h.store.Nodes.Get(r.Context(), chi.URLParam(r, "nodeId"))
	if err != nil {
		fail(w, err)
		return
	}
	var n model.Node
	if !decode(w, r, &n) {
		return
	}
	if err := n.Validate(); err != nil {
		fail(w, err)
		return
	}
	n.ID = cur.ID
	n.DaemonTokenID, n.DaemonToken = cur.DaemonTokenID, cur.DaemonToken
	n.CreatedAt = cur.CreatedAt
	n.UpdatedAt = time.Now().UTC()
	if err := h.store.Nodes.Update(r.Context(), &n); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, n.Redacted())
}

func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeId")
	if _, err := h.store.Nodes.Get(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	servers, err := h.store.ServersOnNode(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	if len(servers) > 0 {
		fail(w, &model.ValidationError{Field: "node", Reason: "still hosts servers"})
		return
	}
	if err := h.store.Nodes.Delete(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateNodeCredentials issues a new daemon token pair. The daemon keeps
// failing authentication until its configuration is redeployed.
func (h *Handler) RotateNodeCredentials(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Nodes.Get(r.Context(), chi.URLParam(r, "nodeId"))
	if err != nil {
		fail(w, err)
		return
	}
	n.DaemonTokenID, n.DaemonToken = auth.NewDaemonCredential()
	n.UpdatedAt = time.Now().UTC()
	if err := h.store.Nodes.Update(r.Context(), n); err != nil {
		fail(w, err)
		return
	}
	log.Printf("node %s credentials rotated", n.ID)
	writeJSON(w, n.Redacted())
}

func (h *Handler) NodeUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeId")
	n, err := h.store.Nodes.Get(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	u, err := h.ledger.ForNode(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"usage":    u,
		"capacity": ledger.Display(n, *u),
	})
}

// NodeConfiguration renders the daemon's config.yml; ?format=json returns
// the same document as JSON.
func (h *Handler) NodeConfiguration(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Nodes.Get(r.Context(), chi.URLParam(r, "nodeId"))
	if err != nil {
		fail(w, err)
		return
	}
	cfg := daemon.BuildNodeConfig(n, h.cfg.PanelURL)
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, cfg)
		return
	}
	out, err := cfg.YAML()
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

func (h *Handler) NodeHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeId")
	if h.health == nil {
		writeError(w, http.StatusServiceUnavailable, "health poller not running")
		return
	}
	st, ok := h.health.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node has not been polled yet")
		return
	}
	writeJSON(w, st)
}
