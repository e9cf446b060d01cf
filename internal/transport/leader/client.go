// Package leader implements the HTTP client the analytics flusher uses to
// forward aggregation writes to the leader node.
package leader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// requestTimeout bounds every leader call independently.
const requestTimeout = 10 * time.Second

// Client forwards aggregation writes over HTTP.
type Client struct {
	leaderURL string
	apiKey    string
	http      *http.Client
}

// New creates a client. leaderURL empty means this node is the leader and
// has no peer to forward to.
func New(leaderURL, apiKey string) *Client {
	return &Client{
		leaderURL: strings.TrimSuffix(leaderURL, "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// LeaderURL returns the configured leader base URL.
func (c *Client) LeaderURL() string {
	if c.leaderURL == "" {
		return ""
	}
	return c.leaderURL
}

// IsLeader reports whether this node leads (no peer configured).
func (c *Client) IsLeader() bool { return c.leaderURL == "" }

// ImportDocs POSTs an NDJSON import payload to the leader.
func (c *Client) ImportDocs(ctx context.Context, baseURL, collection, action, payload string) error {
	u := fmt.Sprintf("%s/collections/%s/documents/import?action=%s",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(collection), url.QueryEscape(action))
	return c.post(ctx, u, "text/plain", []byte(payload))
}

// AggregateEvents POSTs buffered log events to the leader.
func (c *Client) AggregateEvents(ctx context.Context, baseURL string, payload []byte) error {
	u := strings.TrimSuffix(baseURL, "/") + "/analytics/aggregate_events"
	return c.post(ctx, u, "application/json", payload)
}

// TruncateTopK asks the leader to retain the destination's top K documents.
func (c *Client) TruncateTopK(ctx context.Context, baseURL, collection, field string, k int) error {
	u := fmt.Sprintf("%s/collections/%s/documents?top_k_by=%s:%d",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(collection), url.QueryEscape(field), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, u, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	if c.apiKey != "" {
		req.Header.Set("X-OMNIDEX-API-KEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("leader returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
