// Package health polls every node daemon for reachability.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/metrics"
	"hearth/api/model"
	"hearth/api/store"
)

type Prober interface {
	SystemInfo(ctx context.Context, node *model.Node) (*daemon.SystemInfo, error)
}

type Status struct {
	NodeID     string             `json:"nodeId"`
	Reachable  bool               `json:"reachable"`
	Error      string             `json:"error,omitempty"`
	ResponseMs int                `json:"responseMs"`
	System     *daemon.SystemInfo `json:"system,omitempty"`
	CheckedAt  time.Time          `json:"checkedAt"`
}

// Poller periodically asks each node's daemon for its system information.
// Only reachability changes are published.
type Poller struct {
	Store    *store.Store
	Daemon   Prober
	Events   events.Publisher
	Interval time.Duration

	mu     sync.RWMutex
	status map[string]Status
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.Interval == 0 {
		p.Interval = 30 * time.Second
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll checks every node concurrently and waits for the results.
func (p *Poller) PollAll(ctx context.Context) {
	nodes, err := p.Store.Nodes.List(ctx)
	if err != nil {
		log.Printf("health: list nodes: %v", err)
		return
	}
	var wg sync.WaitGroup
	for i := range nodes {
		wg.Add(1)
		go func(n *model.Node) {
			defer wg.Done()
			p.checkOne(ctx, n)
		}(&nodes[i])
	}
	wg.Wait()
	p.forgetMissing(nodes)
}

func (p *Poller) checkOne(ctx context.Context, node *model.Node) {
	start := time.Now()
	info, err := p.Daemon.SystemInfo(ctx, node)
	st := Status{
		NodeID:     node.ID,
		Reachable:  err == nil,
		ResponseMs: int(time.Since(start).Milliseconds()),
		System:     info,
		CheckedAt:  time.Now().UTC(),
	}
	if err != nil {
		st.Error = err.Error()
	}

	gauge := 0.0
	if st.Reachable {
		gauge = 1
	}
	metrics.NodeReachable.WithLabelValues(node.ID).Set(gauge)

	p.mu.Lock()
	if p.status == nil {
		p.status = make(map[string]Status)
	}
	prev, seen := p.status[node.ID]
	p.status[node.ID] = st
	p.mu.Unlock()

	if seen && prev.Reachable == st.Reachable {
		return
	}
	if !st.Reachable {
		log.Printf("health: node %s (%s) unreachable: %v", node.Name, node.ID, err)
	} else if seen {
		log.Printf("health: node %s (%s) reachable again", node.Name, node.ID)
	}
	if p.Events != nil {
		state := "reachable"
		if !st.Reachable {
			state = "unreachable"
		}
		p.Events.Publish(ctx, events.Event{
			Type:     events.NodeHealth,
			NodeID:   node.ID,
			Message:  "node " + state,
			Metadata: map[string]string{"state": state},
		})
	}
}

func (p *Poller) forgetMissing(nodes []model.Node) {
	live := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		live[n.ID] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.status {
		if !live[id] {
			delete(p.status, id)
			metrics.NodeReachable.DeleteLabelValues(id)
		}
	}
}

// Status returns the last poll result for a node.
func (p *Poller) Status(nodeID string) (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.status[nodeID]
	return st, ok
}

// Snapshot returns the last poll result for every node.
func (p *Poller) Snapshot() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.status))
	for _, st := range p.status {
		out = append(out, st)
	}
	return out
}
