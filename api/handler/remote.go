package handler

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hearth/api/activity"
	"hearth/api/daemon"
	"hearth/api/lifecycle"
	"hearth/api/model"
)

const (
	remotePerPage    = 50
	remoteMaxPerPage = 200
)

type remotePage struct {
	Data []*daemon.ServerConfiguration `json:"data"`
	Meta remoteMeta                    `json:"meta"`
}

type remoteMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// nodeServer loads a server on behalf of the calling daemon, which may only
// see servers placed on it.
func (h *Handler) nodeServer(ctx context.Context, n *model.Node, id string) (*model.Server, error) {
	srv, err := h.store.Servers.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", id, err)
	}
	if srv.NodeID != n.ID {
		return nil, fmt.Errorf("server %s: %w", id, model.ErrNotFound)
	}
	return srv, nil
}

// RemoteListServers pages through the desired state of every server on the
// calling node, for the daemon's boot-time reconciliation.
func (h *Handler) RemoteListServers(w http.ResponseWriter, r *http.Request) {
	n := node(r)
	page := queryInt(r, "page", 1)
	perPage := min(queryInt(r, "per_page", remotePerPage), remoteMaxPerPage)

	servers, err := h.store.ServersOnNode(r.Context(), n.ID)
	if err != nil {
		fail(w, err)
		return
	}
	total := len(servers)
	lastPage := max(1, (total+perPage-1)/perPage)
	page = min(max(page, 1), lastPage+1)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	out := remotePage{
		Data: make([]*daemon.ServerConfiguration, 0, end-start),
		Meta: remoteMeta{CurrentPage: page, LastPage: lastPage, PerPage: perPage, Total: total},
	}
	for i := start; i < end; i++ {
		cfg, err := h.lifecycle.Configuration(r.Context(), &servers[i])
		if err != nil {
			fail(w, err)
			return
		}
		out.Data = append(out.Data, cfg)
	}
	writeJSON(w, out)
}

func (h *Handler) RemoteGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.nodeServer(r.Context(), node(r), chi.URLParam(r, "uuid"))
	if err != nil {
		fail(w, err)
		return
	}
	cfg, err := h.lifecycle.Configuration(r.Context(), srv)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, cfg)
}

func (h *Handler) RemoteInstallScript(w http.ResponseWriter, r *http.Request) {
	srv, err := h.nodeServer(r.Context(), node(r), chi.URLParam(r, "uuid"))
	if err != nil {
		fail(w, err)
		return
	}
	egg, err := h.store.Eggs.Get(r.Context(), srv.EggID)
	if err != nil {
		fail(w, fmt.Errorf("egg %s: %w", srv.EggID, err))
		return
	}
	writeJSON(w, daemon.InstallScript(egg))
}

func (h *Handler) RemoteInstallResult(w http.ResponseWriter, r *http.Request) {
	srv, err := h.nodeServer(r.Context(), node(r), chi.URLParam(r, "uuid"))
	if err != nil {
		fail(w, err)
		return
	}
	var res lifecycle.InstallResult
	if !decode(w, r, &res) {
		return
	}
	if _, err := h.lifecycle.CompleteInstall(r.Context(), srv.ID, res); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoteResetServers is called by a daemon after it restarts: anything it
// was installing or restoring is no longer in progress.
func (h *Handler) RemoteResetServers(w http.ResponseWriter, r *http.Request) {
	n := node(r)
	count, err := h.lifecycle.ResetNode(r.Context(), n.ID)
	if err != nil {
		fail(w, err)
		return
	}
	if count > 0 {
		log.Printf("remote: node %s reset %d servers", n.ID, count)
	}
	w.WriteHeader(http.StatusNoContent)
}

type sftpAuthRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"ip"`
}

func (h *Handler) RemoteSFTPAuth(w http.ResponseWriter, r *http.Request) {
	var req sftpAuthRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type != "" && req.Type != "password" {
		fail(w, &model.ValidationError{Field: "type", Reason: "only password logins are supported"})
		return
	}
	ip := req.IP
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	grant, err := h.sftp.Authenticate(r.Context(), node(r), ip, req.Username, req.Password)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, grant)
}

type remoteActivity struct {
	Server    string            `json:"server"`
	Event     string            `json:"event"`
	User      string            `json:"user,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RemoteActivity stores activity the daemon observed, such as SFTP writes.
// Entries for servers not on the calling node are dropped.
func (h *Handler) RemoteActivity(w http.ResponseWriter, r *http.Request) {
	n := node(r)
	var body struct {
		Data []remoteActivity `json:"data"`
	}
	if !decode(w, r, &body) {
		return
	}
	onNode := map[string]bool{}
	servers, err := h.store.ServersOnNode(r.Context(), n.ID)
	if err != nil {
		fail(w, err)
		return
	}
	for _, srv := range servers {
		onNode[srv.ID] = true
	}

	entries := make([]activity.Entry, 0, len(body.Data))
	for _, a := range body.Data {
		if !onNode[a.Server] || a.Event == "" {
			continue
		}
		ts := a.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		entries = append(entries, activity.Entry{
			ID:        uuid.NewString(),
			ServerID:  a.Server,
			UserID:    a.User,
			Source:    activity.SourceDaemon,
			Event:     a.Event,
			IP:        a.IP,
			Metadata:  a.Metadata,
			Timestamp: ts,
		})
	}
	if len(entries) > 0 {
		if err := h.activity.Append(r.Context(), entries...); err != nil {
			fail(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoteBackupUpload hands the daemon presigned part URLs for an s3 backup
// of the given size in bytes.
func (h *Handler) RemoteBackupUpload(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size <= 0 {
		fail(w, &model.ValidationError{Field: "size", Reason: "must be a positive byte count"})
		return
	}
	up, err := h.lifecycle.BackupUpload(r.Context(), node(r), chi.URLParam(r, "backup"), size)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, up)
}

func (h *Handler) RemoteBackupComplete(w http.ResponseWriter, r *http.Request) {
	var rep lifecycle.BackupReport
	if !decode(w, r, &rep) {
		return
	}
	if _, err := h.lifecycle.CompleteBackup(r.Context(), node(r), chi.URLParam(r, "backup"), rep); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoteRestoreComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Successful bool `json:"successful"`
	}
	if !decode(w, r, &body) {
		return
	}
	if _, err := h.lifecycle.CompleteRestore(r.Context(), node(r), chi.URLParam(r, "backup"), body.Successful); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
