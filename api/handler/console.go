package handler

import (
	"log"
	"net/http"
)

// Console upgrades to a websocket and relays it to the server's daemon.
// Authorization happens before the upgrade so refusals are plain HTTP errors.
func (h *Handler) Console(w http.ResponseWriter, r *http.Request) {
	target, err := h.console.Authorize(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	conn, err := h.ws.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Printf("console: upgrade: %v", err)
		return
	}
	if err := h.console.Serve(r.Context(), conn, target); err != nil {
		log.Printf("console: %s: %v", target.Server.ID, err)
	}
}
