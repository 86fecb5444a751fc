// Package hub fans panel events out to websocket subscribers.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

type Event struct {
	Type     string `json:"type"` // server.created, server.installed, node.health, ...
	ServerID string `json:"serverId,omitempty"`
	NodeID   string `json:"nodeId,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

type message struct {
	serverID string
	data     []byte
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	server string // empty receives everything
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	broadcast   chan message
	register    chan *subscriber
	unregister  chan *subscriber
	upgrader    websocket.Upgrader
}

func New(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		subscribers: make(map[*subscriber]bool),
		broadcast:   make(chan message, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // hearthctl, curl
				}
				if allowed["*"] || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// Upgrader is shared with the console endpoint so both honour the same
// origin policy.
func (h *Hub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			h.mu.Unlock()
		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				if s.server != "" && s.server != msg.serverID {
					continue
				}
				select {
				case s.send <- msg.data:
				default:
					// slow subscriber
					close(s.send)
					delete(h.subscribers, s)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues evt for every matching subscriber. It drops the event
// when the queue is full rather than stall the caller.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("hub: marshal error: %v", err)
		return
	}
	select {
	case h.broadcast <- message{serverID: evt.ServerID, data: data}:
	default:
		log.Printf("hub: queue full, dropped %s", evt.Type)
	}
}

// Subscribers reports how many websocket clients are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleConnect upgrades the request and streams events. ?server=<id>
// narrows the stream to one server.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade: %v", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, 64), server: r.URL.Query().Get("server")}
	h.register <- s

	go s.writePump()
	go s.readPump(h)
}

func (s *subscriber) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *subscriber) readPump(h *Hub) {
	defer func() {
		h.unregister <- s
		s.conn.Close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}
