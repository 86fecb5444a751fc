package handler

import (
	"context"
	"fmt"
	"net/http"

	"hearth/api/lifecycle"
	"hearth/api/model"
)

// visibleServer loads a server the actor holds any permission on. Servers the
// actor cannot see are reported as missing.
func (h *Handler) visibleServer(ctx context.Context, a model.Actor, id string) (*model.Server, error) {
	srv, err := h.store.Servers.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", id, err)
	}
	if srv.Grants(a) == nil {
		return nil, fmt.Errorf("server %s: %w", id, model.ErrNotFound)
	}
	return srv, nil
}

// ListServers returns every server to admins and otherwise the servers the
// caller owns or is a subuser of.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	all, err := h.store.Servers.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]model.Server, 0, len(all))
	for _, srv := range all {
		if srv.Grants(a) != nil {
			out = append(out, srv)
		}
	}
	writeJSON(w, out)
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	srv, err := h.visibleServer(r.Context(), a, serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"server":      srv,
		"permissions": srv.Grants(a),
	})
}

// CreateServer answers 201 even when the daemon refused the install; the
// server is then install_failed and can be retried.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	srv, err := h.lifecycle.Create(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, srv)
}

func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Delete(r.Context(), serverID(r)); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SuspendServer(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.lifecycle.SetSuspended(r.Context(), serverID(r), true))
}

func (h *Handler) UnsuspendServer(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.lifecycle.SetSuspended(r.Context(), serverID(r), false))
}

func (h *Handler) ReinstallServer(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.lifecycle.Reinstall(r.Context(), serverID(r)))
}

func (h *Handler) RetryInstall(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.lifecycle.RetryInstall(r.Context(), serverID(r)))
}

func (h *Handler) ChangeEgg(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EggID string `json:"eggId"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.EggID == "" {
		fail(w, &model.ValidationError{Field: "eggId", Reason: "required"})
		return
	}
	h.respondServer(w)(h.lifecycle.ChangeEgg(r.Context(), serverID(r), body.EggID))
}

func (h *Handler) UpdateBuild(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.BuildRequest
	if !decode(w, r, &req) {
		return
	}
	h.respondServer(w)(h.lifecycle.UpdateBuild(r.Context(), serverID(r), req))
}

func (h *Handler) respondServer(w http.ResponseWriter) func(*model.Server, error) {
	return func(srv *model.Server, err error) {
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, srv)
	}
}

func (h *Handler) ServerResources(w http.ResponseWriter, r *http.Request) {
	srv, err := h.visibleServer(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	n, err := h.store.Nodes.Get(r.Context(), srv.NodeID)
	if err != nil {
		fail(w, err)
		return
	}
	usage, err := h.daemon.ServerResources(r.Context(), n, srv.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, usage)
}

func (h *Handler) Power(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Signal string `json:"signal"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := h.lifecycle.Power(r.Context(), actor(r), serverID(r), body.Signal); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := h.lifecycle.SendCommand(r.Context(), actor(r), serverID(r), body.Command); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ServerActivity(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	srv, err := h.visibleServer(r.Context(), a, serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	if !srv.Permits(a, model.PermActivityRead) {
		fail(w, &model.PermissionDenied{Permission: model.PermActivityRead})
		return
	}
	entries, err := h.activity.ListByServer(r.Context(), srv.ID, queryInt(r, "limit", 50))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, entries)
}
