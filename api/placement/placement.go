// Package placement picks the node that hosts a new server.
package placement

import (
	"context"
	"fmt"

	"hearth/api/ledger"
	"hearth/api/model"
	"hearth/api/store"
)

type Request struct {
	Memory int64
	Disk   int64
}

// Candidate is an eligible node together with its ledger at selection time.
type Candidate struct {
	Node  model.Node
	Usage ledger.Usage
	Score float64 // fraction of the node already in use, 0..1
}

// Eligible reports whether a node can take req given its current usage.
func Eligible(node *model.Node, u ledger.Usage, req Request) bool {
	return !node.Maintenance &&
		u.AvailableMemory >= req.Memory &&
		u.AvailableDisk >= req.Disk &&
		len(u.AvailablePorts) > 0
}

// Score is the mean of memory and disk utilisation. A node reporting zero
// capacity counts as fully used on that axis.
func Score(node *model.Node, u ledger.Usage) float64 {
	used := func(avail, total int64) float64 {
		if total <= 0 {
			return 1
		}
		return 1 - float64(avail)/float64(total)
	}
	return (used(u.AvailableMemory, node.Memory) + used(u.AvailableDisk, node.Disk)) / 2
}

// Choose returns the eligible node with the most headroom. Ties go to the
// node listed first.
func Choose(nodes []model.Node, servers []model.Server, req Request) (*Candidate, error) {
	var best *Candidate
	for i := range nodes {
		node := &nodes[i]
		u := ledger.Compute(node, servers)
		if !Eligible(node, u, req) {
			continue
		}
		score := Score(node, u)
		if best == nil || score < best.Score {
			best = &Candidate{Node: *node, Usage: u, Score: score}
		}
	}
	if best == nil {
		return nil, model.ErrNoEligibleNode
	}
	return best, nil
}

type Selector struct {
	store *store.Store
}

func NewSelector(s *store.Store) *Selector {
	return &Selector{store: s}
}

func (s *Selector) Select(ctx context.Context, req Request) (*Candidate, error) {
	nodes, err := s.store.Nodes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	servers, err := s.store.Servers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return Choose(nodes, servers, req)
}
