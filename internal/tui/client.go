package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/tapemaint/internal/api"
	"github.com/mattjoyce/tapemaint/internal/events"
)

// Client reads the daemon status API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && !(path == "/healthz" && resp.StatusCode == http.StatusServiceUnavailable) {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("GET %s: %s", path, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	err := c.getJSON(ctx, "/healthz", &h)
	return h, err
}

// Routines fetches /v1/routines.
func (c *Client) Routines(ctx context.Context) (api.RoutinesResponse, error) {
	var r api.RoutinesResponse
	err := c.getJSON(ctx, "/v1/routines", &r)
	return r, err
}

// Queues fetches /v1/queues.
func (c *Client) Queues(ctx context.Context) (api.QueuesResponse, error) {
	var q api.QueuesResponse
	err := c.getJSON(ctx, "/v1/queues", &q)
	return q, err
}

// Stream delivers events from /events to fn until ctx ends or the stream
// closes.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) error {
	req, err := c.newRequest(ctx, "/events")
	if err != nil {
		return err
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open event stream: %s", resp.Status)
	}
	return readSSE(resp.Body, fn)
}

// readSSE parses server-sent event frames.
func readSSE(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	var (
		ev      events.Event
		hasData bool
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if hasData {
				fn(ev)
			}
			ev, hasData = events.Event{}, false
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			ev.ID, _ = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
		case strings.HasPrefix(line, "event: "):
			ev.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = []byte(strings.TrimPrefix(line, "data: "))
			hasData = true
		}
	}
	return sc.Err()
}
