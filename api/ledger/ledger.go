// Package ledger computes what is left on a node: memory, disk and ports not
// claimed by the servers placed on it. Results are recomputed from the
// current server records on every call.
package ledger

import (
	"context"
	"fmt"

	"hearth/api/model"
	"hearth/api/store"
)

type Usage struct {
	NodeID          string `json:"nodeId"`
	AvailableMemory int64  `json:"availableMemory"`
	AvailableDisk   int64  `json:"availableDisk"`
	AvailablePorts  []int  `json:"availablePorts"`
	AllocationStart int    `json:"allocationStart"`
	AllocationEnd   int    `json:"allocationEnd"`
}

// Compute sums the limits of servers placed on node and subtracts them from
// the node totals. Overallocation percentages are not applied here; the
// totals are a hard ceiling. Servers on other nodes are ignored.
func Compute(node *model.Node, servers []model.Server) Usage {
	var memory, disk int64
	held := make(map[int]bool)
	for _, srv := range servers {
		if srv.NodeID != node.ID {
			continue
		}
		memory += srv.Limits.Memory
		disk += srv.Limits.Disk
		for _, a := range srv.Allocations {
			held[a.Port] = true
		}
	}

	ports := make([]int, 0)
	for p := node.AllocationStart; p <= node.AllocationEnd && p > 0; p++ {
		if !held[p] {
			ports = append(ports, p)
		}
	}

	return Usage{
		NodeID:          node.ID,
		AvailableMemory: node.Memory - memory,
		AvailableDisk:   node.Disk - disk,
		AvailablePorts:  ports,
		AllocationStart: node.AllocationStart,
		AllocationEnd:   node.AllocationEnd,
	}
}

// Capacity is the admin-facing view of a node, with overallocation applied
// to the ceilings. It is informational only: placement uses Compute.
type Capacity struct {
	MemoryLimit int64   `json:"memoryLimit"`
	MemoryUsed  int64   `json:"memoryUsed"`
	DiskLimit   int64   `json:"diskLimit"`
	DiskUsed    int64   `json:"diskUsed"`
	MemoryPct   float64 `json:"memoryPercent"`
	DiskPct     float64 `json:"diskPercent"`
	FreePorts   int     `json:"freePorts"`
}

func Display(node *model.Node, u Usage) Capacity {
	c := Capacity{
		MemoryLimit: node.Memory + node.Memory*int64(node.MemoryOverallocate)/100,
		MemoryUsed:  node.Memory - u.AvailableMemory,
		DiskLimit:   node.Disk + node.Disk*int64(node.DiskOverallocate)/100,
		DiskUsed:    node.Disk - u.AvailableDisk,
		FreePorts:   len(u.AvailablePorts),
	}
	if c.MemoryLimit > 0 {
		c.MemoryPct = float64(c.MemoryUsed) / float64(c.MemoryLimit) * 100
	}
	if c.DiskLimit > 0 {
		c.DiskPct = float64(c.DiskUsed) / float64(c.DiskLimit) * 100
	}
	return c
}

// Ledger reads nodes and servers from the store.
type Ledger struct {
	store *store.Store
}

func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

func (l *Ledger) ForNode(ctx context.Context, nodeID string) (*Usage, error) {
	node, err := l.store.Nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	servers, err := l.store.ServersOnNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("servers on node %s: %w", nodeID, err)
	}
	u := Compute(node, servers)
	return &u, nil
}
