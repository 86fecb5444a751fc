// Package activity keeps the per-server audit trail: panel lifecycle events
// and the activity the daemons report back.
package activity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"hearth/api/events"
)

const (
	SourcePanel  = "panel"
	SourceDaemon = "daemon"
)

type Entry struct {
	ID        string            `json:"id"`
	ServerID  string            `json:"serverId"`
	UserID    string            `json:"userId,omitempty"`
	Source    string            `json:"source"`
	Event     string            `json:"event"`
	IP        string            `json:"ip,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	ListByServer(ctx context.Context, serverID string, limit int) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Recorder turns lifecycle events into activity entries.
type Recorder struct {
	Store Store
}

func (r *Recorder) Publish(ctx context.Context, evt events.Event) {
	if evt.ServerID == "" {
		return
	}
	meta := evt.Metadata
	if evt.Message != "" {
		meta = make(map[string]string, len(evt.Metadata)+1)
		for k, v := range evt.Metadata {
			meta[k] = v
		}
		meta["message"] = evt.Message
	}
	e := Entry{
		ID:        uuid.NewString(),
		ServerID:  evt.ServerID,
		UserID:    evt.ActorID,
		Source:    SourcePanel,
		Event:     evt.Type,
		Metadata:  meta,
		Timestamp: evt.At,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := r.Store.Append(ctx, e); err != nil {
		log.Printf("activity: append %s for %s: %v", evt.Type, evt.ServerID, err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// MemoryStore is the in-process store used with the memory and badger
// record backends.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// ListByServer returns newest first.
func (s *MemoryStore) ListByServer(_ context.Context, serverID string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].ServerID == serverID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}
