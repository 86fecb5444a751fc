package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	list, err := h.lifecycle.ListBackups(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Ignored string `json:"ignored"`
	}
	if !decode(w, r, &body) {
		return
	}
	b, err := h.lifecycle.CreateBackup(r.Context(), actor(r), serverID(r), body.Name, body.Ignored)
	if err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusAccepted, b)
}

func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	url, err := h.lifecycle.DownloadBackup(r.Context(), actor(r), serverID(r), chi.URLParam(r, "backup"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"url": url})
}

func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Truncate bool `json:"truncate"`
	}
	if !decode(w, r, &body) {
		return
	}
	srv, err := h.lifecycle.RestoreBackup(r.Context(), actor(r), serverID(r), chi.URLParam(r, "backup"), body.Truncate)
	if err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusAccepted, srv)
}

func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, h.lifecycle.DeleteBackup(r.Context(), actor(r), serverID(r), chi.URLParam(r, "backup")))
}
