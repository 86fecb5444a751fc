// Package console relays a client's websocket to the daemon's console
// channel for one server.
package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hearth/api/metrics"
	"hearth/api/model"
	"hearth/api/store"
)

// Close codes sent to the client when the relay ends for a reason other
// than a normal daemon-side close.
const (
	CloseAuthFailed      = 4401
	CloseNodeUnavailable = 4503
)

// Dialer opens the daemon leg.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Proxy struct {
	store *store.Store

	Dialer   Dialer
	TokenTTL time.Duration
	// Origin is sent on the daemon handshake; daemons only accept the panel.
	Origin string
	// DaemonBrand is rewritten to PanelBrand in frames sent to the client.
	DaemonBrand string
	PanelBrand  string
	Now         func() time.Time
}

func NewProxy(s *store.Store, origin string) *Proxy {
	return &Proxy{
		store:       s,
		Dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		TokenTTL:    10 * time.Minute,
		Origin:      origin,
		DaemonBrand: "[Pterodactyl Daemon]",
		PanelBrand:  "[Hearth Daemon]",
		Now:         time.Now,
	}
}

// Target is an authorised console session waiting to be relayed.
type Target struct {
	Actor  model.Actor
	Server *model.Server
	Node   *model.Node
}

// Authorize checks actor may open srv's console. It never contacts the
// daemon.
func (p *Proxy) Authorize(ctx context.Context, actor model.Actor, serverID string) (*Target, error) {
	srv, err := p.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", serverID, err)
	}
	if !srv.Permits(actor, model.PermConsole) {
		return nil, &model.PermissionDenied{Permission: model.PermConsole}
	}
	if srv.Suspended {
		return nil, &model.StateConflict{Status: srv.Status, Suspended: true, Action: "open console"}
	}
	node, err := p.store.Nodes.Get(ctx, srv.NodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", srv.NodeID, err)
	}
	return &Target{Actor: actor, Server: srv, Node: node}, nil
}

// connWriter serialises writes to one leg; gorilla allows a single writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(typ int, msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(typ, msg)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Serve dials the daemon for t and relays until either side goes away. The
// client connection is closed on return.
func (p *Proxy) Serve(ctx context.Context, client *websocket.Conn, t *Target) error {
	defer client.Close()

	token, _, err := MintToken(t.Node, t.Server, t.Actor.UserID, p.TokenTTL, p.Now())
	if err != nil {
		closeWith(client, websocket.CloseInternalServerErr, "token")
		return fmt.Errorf("mint console token: %w", err)
	}

	header := http.Header{}
	if p.Origin != "" {
		header.Set("Origin", p.Origin)
	}
	url := t.Node.SocketURL() + "/api/servers/" + t.Server.ID + "/ws"
	upstream, resp, err := p.Dialer.DialContext(ctx, url, header)
	if err != nil {
		code, reason := CloseNodeUnavailable, "node unavailable"
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code, reason = CloseAuthFailed, "daemon rejected credentials"
		}
		closeWith(client, code, reason)
		metrics.ConsoleCloses.WithLabelValues(reason).Inc()
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer upstream.Close()

	daemonW := &connWriter{conn: upstream}
	clientW := &connWriter{conn: client}
	if err := daemonW.send(websocket.TextMessage, AuthFrame(token)); err != nil {
		closeWith(client, CloseNodeUnavailable, "node unavailable")
		return fmt.Errorf("send auth: %w", err)
	}

	metrics.ConsoleSessions.Inc()
	defer metrics.ConsoleSessions.Dec()

	reason := p.relay(ctx, t, client, upstream, clientW, daemonW)
	metrics.ConsoleCloses.WithLabelValues(reason).Inc()
	return nil
}

// relay pumps frames both ways and propagates the first close it sees to
// the other leg. It returns a short reason for metrics.
func (p *Proxy) relay(ctx context.Context, t *Target, client, upstream *websocket.Conn, clientW, daemonW *connWriter) string {
	done := make(chan string, 2)

	// daemon -> client
	go func() {
		for {
			typ, msg, err := upstream.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					code := ce.Code
					if code == websocket.CloseNoStatusReceived || code == websocket.CloseAbnormalClosure {
						code = websocket.CloseNormalClosure
					}
					closeWith(client, code, ce.Text)
					done <- "daemon closed"
				} else {
					closeWith(client, CloseNodeUnavailable, "node unavailable")
					done <- "node unavailable"
				}
				return
			}
			if typ == websocket.TextMessage {
				switch eventOf(msg) {
				case EventTokenExpiring, EventTokenExpired:
					p.reauth(t, daemonW)
				}
				msg = RewriteFrame(msg, p.DaemonBrand, p.PanelBrand)
			}
			if err := clientW.send(typ, msg); err != nil {
				closeWith(upstream, websocket.CloseGoingAway, "client gone")
				done <- "client gone"
				return
			}
		}
	}()

	// client -> daemon
	go func() {
		for {
			typ, msg, err := client.ReadMessage()
			if err != nil {
				code, text := websocket.CloseNormalClosure, "client closed"
				var ce *websocket.CloseError
				if errors.As(err, &ce) && ce.Code != websocket.CloseNoStatusReceived && ce.Code != websocket.CloseAbnormalClosure {
					code, text = ce.Code, ce.Text
				}
				closeWith(upstream, code, text)
				done <- "client closed"
				return
			}
			// the client never gets to authenticate as someone else
			if typ == websocket.TextMessage && eventOf(msg) == EventAuth {
				continue
			}
			if err := daemonW.send(typ, msg); err != nil {
				closeWith(client, CloseNodeUnavailable, "node unavailable")
				done <- "node unavailable"
				return
			}
		}
	}()

	var reason string
	select {
	case reason = <-done:
	case <-ctx.Done():
		closeWith(client, websocket.CloseGoingAway, "shutting down")
		closeWith(upstream, websocket.CloseGoingAway, "shutting down")
		reason = "shutdown"
	}
	// unblock the other pump
	client.Close()
	upstream.Close()
	return reason
}

// reauth hands the daemon a fresh token before the current one lapses.
func (p *Proxy) reauth(t *Target, daemonW *connWriter) {
	token, _, err := MintToken(t.Node, t.Server, t.Actor.UserID, p.TokenTTL, p.Now())
	if err != nil {
		log.Printf("console: refresh token for %s: %v", t.Server.ID, err)
		return
	}
	if err := daemonW.send(websocket.TextMessage, AuthFrame(token)); err != nil {
		log.Printf("console: send refreshed token for %s: %v", t.Server.ID, err)
	}
}
