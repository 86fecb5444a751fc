package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing credentials"}`))
			return
		}
		switch r.URL.Path {
		case "/api/servers/s1":
			w.Write([]byte(`{"server":{"id":"s1","name":"mc","status":"offline","allocations":[{"ip":"10.0.0.1","port":25565,"primary":true}]},"permissions":["*"]}`))
		case "/api/servers/s1/power":
			w.WriteHeader(http.StatusNoContent)
		case "/api/nodes/n1/configuration":
			w.Write([]byte("uuid: n1\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	s, perms, err := c.GetServer("s1")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if s.Name != "mc" || len(s.Allocations) != 1 || !s.Allocations[0].Primary {
		t.Errorf("unexpected server %+v", s)
	}
	if len(perms) != 1 || perms[0] != "*" {
		t.Errorf("permissions = %v", perms)
	}
	if err := c.Power("s1", "start"); err != nil {
		t.Errorf("Power: %v", err)
	}
	cfg, err := c.NodeConfiguration("n1", "")
	if err != nil || string(cfg) != "uuid: n1\n" {
		t.Errorf("NodeConfiguration = %q, %v", cfg, err)
	}

	anon := New(srv.URL, "")
	_, err = anon.ListServers()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "missing credentials" {
		t.Errorf("expected 401 error, got %v", err)
	}
}

func TestClientSurfacesDaemonStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"server is busy","daemonStatus":409}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "tok").Command("s1", "say hi")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.DaemonStatus != http.StatusConflict {
		t.Errorf("got %+v", apiErr)
	}
	if apiErr.Error() != "HTTP 502: server is busy (daemon answered 409)" {
		t.Errorf("message = %q", apiErr.Error())
	}
}

func TestConsoleURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://panel:8700", "ws://panel:8700/api/servers/abc/console"},
		{"https://panel.example.com/", "wss://panel.example.com/api/servers/abc/console"},
	}
	for _, tt := range tests {
		if got := New(tt.base, "").ConsoleURL("abc"); got != tt.want {
			t.Errorf("ConsoleURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
