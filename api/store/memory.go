package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"hearth/api/model"
)

// NewMemory returns a Store held entirely in process memory. Records are
// kept JSON-encoded so callers never share mutable state with the store.
func NewMemory() *Store {
	return &Store{
		Nodes:     newMemCollection[model.Node](),
		Servers:   newMemCollection[model.Server](),
		Users:     newMemCollection[model.User](),
		Eggs:      newMemCollection[model.Egg](),
		Backups:   newMemCollection[model.Backup](),
		Schedules: newMemCollection[model.Schedule](),
	}
}

type memCollection[T Record] struct {
	mu    sync.RWMutex
	items map[string][]byte
	order []string
}

func newMemCollection[T Record]() *memCollection[T] {
	return &memCollection[T]{items: make(map[string][]byte)}
}

func (c *memCollection[T]) Get(_ context.Context, id string) (*T, error) {
	c.mu.RLock()
	data, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *memCollection[T]) List(_ context.Context) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		var v T
		if err := json.Unmarshal(c.items[id], &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *memCollection[T]) Insert(_ context.Context, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	id := (*v).RecordID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; ok {
		return ErrDuplicate
	}
	c.items[id] = data
	c.order = append(c.order, id)
	return nil
}

func (c *memCollection[T]) Update(_ context.Context, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	id := (*v).RecordID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return model.ErrNotFound
	}
	c.items[id] = data
	return nil
}

func (c *memCollection[T]) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return nil
	}
	delete(c.items, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return nil
}
