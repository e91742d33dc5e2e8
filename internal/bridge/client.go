package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/version"
)

// ErrStreamClosed is returned by Stream when the bridge ends the response.
var ErrStreamClosed = errors.New("bridge: stream closed")

// StatusError is a non-2xx response from the bridge.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bridge %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("bridge %s: status %d: %s", e.Op, e.Code, e.Body)
}

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBody          = 512
)

// Client talks to one radio bridge over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	// stream has no overall timeout; it lives until cancelled.
	stream *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for the bridge at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the bridge address.
func (c *Client) BaseURL() string { return c.baseURL }

// Send transmits one text payload. Any non-2xx status is an error.
func (c *Client) Send(ctx context.Context, target domain.Target, text string) error {
	body, err := json.Marshal(SendRequest{To: target.To, Text: text, ChannelIndex: target.ChannelIndex})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge send: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("send", resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the bridge's /health payload as-is.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "health", "/health", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Info returns the connected radio's identity.
func (c *Client) Info(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.getJSON(ctx, "info", "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Nodes lists the nodes the radio has heard.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.getJSON(ctx, "nodes", "/nodes", &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("bridge %s: decoding response: %w", op, err)
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
