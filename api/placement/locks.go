package placement

import "sync"

// NodeLocks serialises the read-ledger, pick, persist sequence per node
// within this process. Concurrent control planes can still race.
type NodeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewNodeLocks() *NodeLocks {
	return &NodeLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until nodeID is free and returns the matching unlock.
func (l *NodeLocks) Lock(nodeID string) func() {
	l.mu.Lock()
	m, ok := l.locks[nodeID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[nodeID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
