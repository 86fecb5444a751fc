// Package daemon is the control plane's client for the agent running on each
// node. Every call is a single signed HTTP attempt: failures are reported to
// the caller, never retried here.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hearth/api/metrics"
	"hearth/api/model"
)

const DefaultTimeout = 15 * time.Second

type Client struct {
	HTTPClient *http.Client
	UserAgent  string
}

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		UserAgent:  "hearth-panel",
	}
}

// request describes one call. Body is JSON-encoded unless Raw is set, in
// which case it is sent verbatim as text/plain.
type request struct {
	endpoint string // metrics label
	method   string
	path     string
	body     any
	raw      []byte
	out      any
}

func (c *Client) do(ctx context.Context, node *model.Node, r request) error {
	var body io.Reader
	contentType := ""
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
		contentType = "text/plain"
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", r.endpoint, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, node.BaseURL()+r.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", r.endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+node.Credential())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	metrics.DaemonLatency.WithLabelValues(r.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DaemonRequests.WithLabelValues(r.endpoint, "unreachable").Inc()
		return &UnreachableError{Node: node.FQDN, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.DaemonRequests.WithLabelValues(r.endpoint, "error").Inc()
		return parseRemoteError(resp)
	}
	metrics.DaemonRequests.WithLabelValues(r.endpoint, "ok").Inc()

	if r.out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := r.out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UnreachableError{Node: node.FQDN, Err: err}
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.endpoint, err)
	}
	return nil
}

// parseRemoteError pulls a message out of the daemon's error body. The
// daemon answers {"error": "..."}; proxies in front of it may answer with
// {"errors":[{"detail": "..."}]} or plain text.
func parseRemoteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error  string `json:"error"`
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case len(body.Errors) > 0:
			msg = body.Errors[0].Detail
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	return &RemoteError{Status: resp.StatusCode, Message: msg}
}
