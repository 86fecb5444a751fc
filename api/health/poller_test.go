package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/model"
	"hearth/api/store"
)

type fakeProber struct {
	mu   sync.Mutex
	down map[string]bool
}

func (f *fakeProber) SystemInfo(_ context.Context, node *model.Node) (*daemon.SystemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[node.ID] {
		return nil, &daemon.UnreachableError{Node: node.ID, Err: errors.New("connection refused")}
	}
	return &daemon.SystemInfo{Architecture: "amd64", CPUCount: 8, OS: "linux", Version: "1.11.0"}, nil
}

type collect struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *collect) Publish(_ context.Context, evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, evt)
}

func TestPollAllTracksTransitions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.Nodes.Insert(ctx, &model.Node{ID: "n1", Name: "alpha"})
	s.Nodes.Insert(ctx, &model.Node{ID: "n2", Name: "beta"})

	prober := &fakeProber{down: map[string]bool{"n2": true}}
	pub := &collect{}
	p := &Poller{Store: s, Daemon: prober, Events: pub}

	p.PollAll(ctx)
	st, ok := p.Status("n1")
	if !ok || !st.Reachable || st.System == nil || st.System.CPUCount != 8 {
		t.Errorf("n1 status = %+v", st)
	}
	st, _ = p.Status("n2")
	if st.Reachable || st.Error == "" {
		t.Errorf("n2 status = %+v", st)
	}
	if len(pub.got) != 2 {
		t.Fatalf("first poll published %d events, want 2", len(pub.got))
	}

	// steady state publishes nothing
	p.PollAll(ctx)
	if len(pub.got) != 2 {
		t.Errorf("steady poll published %d events", len(pub.got)-2)
	}

	prober.mu.Lock()
	prober.down["n2"] = false
	prober.mu.Unlock()
	p.PollAll(ctx)
	if len(pub.got) != 3 {
		t.Fatalf("recovery published %d events, want 1", len(pub.got)-2)
	}
	last := pub.got[2]
	if last.Type != events.NodeHealth || last.NodeID != "n2" || last.Metadata["state"] != "reachable" {
		t.Errorf("recovery event = %+v", last)
	}
}

func TestPollAllForgetsDeletedNodes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.Nodes.Insert(ctx, &model.Node{ID: "n1"})
	p := &Poller{Store: s, Daemon: &fakeProber{}}

	p.PollAll(ctx)
	if len(p.Snapshot()) != 1 {
		t.Fatalf("snapshot = %v", p.Snapshot())
	}
	s.Nodes.Delete(ctx, "n1")
	p.PollAll(ctx)
	if _, ok := p.Status("n1"); ok {
		t.Error("deleted node still reported")
	}
}
