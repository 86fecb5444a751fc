package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hearth/api/activity"
	"hearth/api/allocations"
	"hearth/api/auth"
	"hearth/api/config"
	"hearth/api/console"
	"hearth/api/daemon"
	"hearth/api/files"
	"hearth/api/health"
	"hearth/api/hub"
	"hearth/api/ledger"
	"hearth/api/lifecycle"
	"hearth/api/model"
	"hearth/api/schedule"
	"hearth/api/storage"
	"hearth/api/store"
)

// Deps are the collaborators a Handler serves requests with. Objects and
// Health may be nil.
type Deps struct {
	Store       *store.Store
	Config      *config.Config
	Lifecycle   *lifecycle.Orchestrator
	Allocations *allocations.Manager
	Files       *files.Service
	Schedules   *schedule.Scheduler
	Console     *console.Proxy
	Activity    activity.Store
	SFTP        *auth.SFTPAuthenticator
	Daemon      *daemon.Client
	Objects     *storage.Client
	Health      *health.Poller
	Hub         *hub.Hub
	Version     string
}

type Handler struct {
	store     *store.Store
	cfg       *config.Config
	lifecycle *lifecycle.Orchestrator
	allocs    *allocations.Manager
	files     *files.Service
	schedules *schedule.Scheduler
	console   *console.Proxy
	activity  activity.Store
	sftp      *auth.SFTPAuthenticator
	daemon    *daemon.Client
	objects   *storage.Client
	health    *health.Poller
	ledger    *ledger.Ledger
	ws        *hub.Hub
	version   string
}

func New(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		cfg:       d.Config,
		lifecycle: d.Lifecycle,
		allocs:    d.Allocations,
		files:     d.Files,
		schedules: d.Schedules,
		console:   d.Console,
		activity:  d.Activity,
		sftp:      d.SFTP,
		daemon:    d.Daemon,
		objects:   d.Objects,
		health:    d.Health,
		ledger:    ledger.New(d.Store),
		ws:        d.Hub,
		version:   d.Version,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatus(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *model.ValidationError
		le *model.LimitExceeded
		pd *model.PermissionDenied
		ae *model.AuthError
		sc *model.StateConflict
		re *daemon.RemoteError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &le),
		errors.Is(err, model.ErrNoEligibleNode),
		errors.Is(err, model.ErrNoAvailablePorts),
		errors.Is(err, model.ErrCannotRemovePrimary):
		return http.StatusBadRequest
	case errors.As(err, &pd):
		return http.StatusForbidden
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &sc):
		return http.StatusConflict
	case errors.Is(err, auth.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.As(err, &re):
		return http.StatusBadGateway
	case errors.Is(err, daemon.ErrRemoteUnreachable):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Daemon errors carry the daemon's
// status so clients can tell a refused call from a broken panel.
func fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("handler: %v", err)
	}
	var re *daemon.RemoteError
	if errors.As(err, &re) {
		writeStatus(w, status, map[string]any{"error": err.Error(), "daemonStatus": re.Status})
		return
	}
	writeError(w, status, err.Error())
}

func actor(r *http.Request) model.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

func node(r *http.Request) *model.Node {
	n, _ := auth.NodeFrom(r.Context())
	return n
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func serverID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
