package handler

import (
	"io"
	"net/http"

	"hearth/api/daemon"
)

type filesRequest struct {
	Root  string              `json:"root"`
	Name  string              `json:"name,omitempty"`
	File  string              `json:"file,omitempty"`
	Files []string            `json:"files,omitempty"`
	Pairs []daemon.RenamePair `json:"pairs,omitempty"`
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.files.List(r.Context(), actor(r), serverID(r), r.URL.Query().Get("directory"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) FileContents(w http.ResponseWriter, r *http.Request) {
	body, err := h.files.Contents(r.Context(), actor(r), serverID(r), r.URL.Query().Get("file"))
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(body)
}

// WriteFile takes the raw file body; the path is the file query parameter.
func (h *Handler) WriteFile(w http.ResponseWriter, r *http.Request) {
	limit := int64(100) << 20
	if h.cfg.MaxFileWrite > 0 {
		limit = h.cfg.MaxFileWrite
	}
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err := h.files.Write(r.Context(), actor(r), serverID(r), r.URL.Query().Get("file"), content); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req filesRequest
	if !decode(w, r, &req) {
		return
	}
	h.noContent(w, h.files.CreateDirectory(r.Context(), actor(r), serverID(r), req.Root, req.Name))
}

func (h *Handler) RenameFiles(w http.ResponseWriter, r *http.Request) {
	var req filesRequest
	if !decode(w, r, &req) {
		return
	}
	h.noContent(w, h.files.Rename(r.Context(), actor(r), serverID(r), req.Root, req.Pairs))
}

func (h *Handler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req filesRequest
	if !decode(w, r, &req) {
		return
	}
	h.noContent(w, h.files.Delete(r.Context(), actor(r), serverID(r), req.Root, req.Files))
}

func (h *Handler) CompressFiles(w http.ResponseWriter, r *http.Request) {
	var req filesRequest
	if !decode(w, r, &req) {
		return
	}
	archive, err := h.files.Compress(r.Context(), actor(r), serverID(r), req.Root, req.Files)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, archive)
}

func (h *Handler) DecompressFile(w http.ResponseWriter, r *http.Request) {
	var req filesRequest
	if !decode(w, r, &req) {
		return
	}
	h.noContent(w, h.files.Decompress(r.Context(), actor(r), serverID(r), req.Root, req.File))
}

func (h *Handler) noContent(w http.ResponseWriter, err error) {
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
