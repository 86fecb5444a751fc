package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	srv, err := h.visibleServer(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, srv.Allocations)
}

func (h *Handler) AddAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.allocs.Add(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, alloc)
}

func (h *Handler) SetPrimaryAllocation(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.allocs.SetPrimary(r.Context(), actor(r), serverID(r), chi.URLParam(r, "alloc")))
}

func (h *Handler) RemoveAllocation(w http.ResponseWriter, r *http.Request) {
	h.respondServer(w)(h.allocs.Remove(r.Context(), actor(r), serverID(r), chi.URLParam(r, "alloc")))
}
