package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	DaemonRequests.WithLabelValues("power", "ok").Inc()
	NodeReachable.WithLabelValues("node-1").Set(1)
	ConsoleSessions.Inc()
	defer ConsoleSessions.Dec()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`hearth_daemon_requests_total{endpoint="power",outcome="ok"}`,
		`hearth_node_reachable{node="node-1"} 1`,
		"hearth_console_sessions",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
