package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"hearth/api/model"
	"hearth/api/store"
)

func TestSplitSFTPUsername(t *testing.T) {
	tests := []struct {
		in, user, prefix string
		ok               bool
	}{
		{"alice.1a2b3c4d", "alice", "1a2b3c4d", true},
		{"first.last.1a2b3c4d", "first.last", "1a2b3c4d", true},
		{"alice", "", "", false},
		{".1a2b3c4d", "", "", false},
		{"alice.", "", "", false},
	}
	for _, tt := range tests {
		user, prefix, ok := SplitSFTPUsername(tt.in)
		if user != tt.user || prefix != tt.prefix || ok != tt.ok {
			t.Errorf("SplitSFTPUsername(%q) = %q, %q, %v", tt.in, user, prefix, ok)
		}
	}
}

func sftpFixture(t *testing.T) (*SFTPAuthenticator, *model.Node) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	node := &model.Node{ID: "node-1"}
	s.Nodes.Insert(ctx, node)

	for _, u := range []struct {
		id, name string
		admin    bool
	}{{"u-owner", "first.last", false}, {"u-friend", "friend", false}, {"u-admin", "root", true}, {"u-stranger", "stranger", false}} {
		user := &model.User{ID: u.id, Username: u.name, Admin: u.admin}
		if err := user.SetPassword("hunter2"); err != nil {
			t.Fatal(err)
		}
		s.Users.Insert(ctx, user)
	}
	s.Servers.Insert(ctx, &model.Server{
		ID: "1a2b3c4d-0000-4000-8000-000000000001", NodeID: "node-1", OwnerID: "u-owner",
		Subusers: []model.Subuser{{UserID: "u-friend", Permissions: []string{model.PermFileSFTP, model.PermFileRead}}},
	})
	s.Servers.Insert(ctx, &model.Server{ID: "9f9f9f9f-0000-4000-8000-000000000002", NodeID: "node-2", OwnerID: "u-owner"})

	a := NewSFTPAuthenticator(s)
	a.Limit = rate.Inf
	return a, node
}

func TestSFTPAuthenticate(t *testing.T) {
	a, node := sftpFixture(t)
	ctx := context.Background()

	grant, err := a.Authenticate(ctx, node, "10.0.0.1", "first.last.1a2b3c4d", "hunter2")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if grant.User != "u-owner" || grant.Server != "1a2b3c4d-0000-4000-8000-000000000001" || grant.Permissions[0] != "*" {
		t.Errorf("owner grant = %+v", grant)
	}

	grant, err = a.Authenticate(ctx, node, "10.0.0.1", "friend.1a2b3c4d", "hunter2")
	if err != nil || len(grant.Permissions) != 2 {
		t.Errorf("subuser grant = %+v, %v", grant, err)
	}

	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "root.1a2b3c4d", "hunter2"); err != nil {
		t.Errorf("admin: %v", err)
	}

	var ae *model.AuthError
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "first.last.1a2b3c4d", "wrong"); !errors.As(err, &ae) {
		t.Errorf("bad password: %v", err)
	}
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "nobody.1a2b3c4d", "hunter2"); !errors.As(err, &ae) {
		t.Errorf("unknown user: %v", err)
	}
	var pd *model.PermissionDenied
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "stranger.1a2b3c4d", "hunter2"); !errors.As(err, &pd) {
		t.Errorf("stranger: %v", err)
	}
	// the server exists but lives on another node
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "first.last.9f9f9f9f", "hunter2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign node: %v", err)
	}
}

func TestSFTPAuthenticateSharedPrefix(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	node := &model.Node{ID: "node-1"}
	s.Nodes.Insert(ctx, node)
	for _, id := range []string{"u-other", "u-me"} {
		user := &model.User{ID: id, Username: id}
		if err := user.SetPassword("hunter2"); err != nil {
			t.Fatal(err)
		}
		s.Users.Insert(ctx, user)
	}
	s.Servers.Insert(ctx, &model.Server{ID: "ab000000-0000-4000-8000-000000000001", NodeID: "node-1", OwnerID: "u-other"})
	s.Servers.Insert(ctx, &model.Server{ID: "ab111111-0000-4000-8000-000000000002", NodeID: "node-1", OwnerID: "u-me"})
	a := NewSFTPAuthenticator(s)
	a.Limit = rate.Inf

	grant, err := a.Authenticate(ctx, node, "10.0.0.1", "u-me.ab", "hunter2")
	if err != nil {
		t.Fatalf("owner of the second match: %v", err)
	}
	if grant.Server != "ab111111-0000-4000-8000-000000000002" {
		t.Errorf("granted %s", grant.Server)
	}

	// suspension of a server the caller cannot use does not block the one they can
	other, _ := s.Servers.Get(ctx, "ab000000-0000-4000-8000-000000000001")
	other.Suspended = true
	s.Servers.Update(ctx, other)
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "u-me.ab", "hunter2"); err != nil {
		t.Errorf("with foreign match suspended: %v", err)
	}

	mine, _ := s.Servers.Get(ctx, "ab111111-0000-4000-8000-000000000002")
	mine.Suspended = true
	s.Servers.Update(ctx, mine)
	var sc *model.StateConflict
	if _, err := a.Authenticate(ctx, node, "10.0.0.1", "u-me.ab", "hunter2"); !errors.As(err, &sc) {
		t.Errorf("granted server suspended: %v", err)
	}
}

func TestSFTPThrottlesPerAddress(t *testing.T) {
	a, node := sftpFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Limit = rate.Every(time.Minute)
	a.Burst = 2
	a.Now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := a.Authenticate(ctx, node, "10.0.0.9", "friend.1a2b3c4d", "wrong"); errors.Is(err, ErrThrottled) {
			t.Fatalf("attempt %d throttled", i)
		}
	}
	if _, err := a.Authenticate(ctx, node, "10.0.0.9", "friend.1a2b3c4d", "hunter2"); !errors.Is(err, ErrThrottled) {
		t.Errorf("third attempt: %v", err)
	}
	if _, err := a.Authenticate(ctx, node, "10.0.0.10", "friend.1a2b3c4d", "hunter2"); err != nil {
		t.Errorf("other address: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := a.Authenticate(ctx, node, "10.0.0.9", "friend.1a2b3c4d", "hunter2"); err != nil {
		t.Errorf("after refill: %v", err)
	}
}
