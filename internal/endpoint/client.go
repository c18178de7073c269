// Package endpoint is a client for an OpenAI-compatible inference server
// (vLLM): health, model listing and chat completions.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ocrdeploy/pkg/types"
)

const (
	healthPath = "/health"
	modelsPath = "/v1/models"
	chatPath   = "/v1/chat/completions"

	// maxErrorBody caps how much of a non-2xx body is kept on StatusError.
	maxErrorBody = 4096
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "endpoint http error: " + e.Status
	}
	return "endpoint http error: " + e.Status + ": " + e.Body
}

// StatusCode exposes the upstream HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client talks to one inference endpoint.
type Client struct {
	baseURL        string
	apiKey         string
	userAgent      string
	connectTimeout time.Duration
	httpClient     *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sends "Authorization: Bearer <key>" on every request.
func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = strings.TrimSpace(key) } }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithConnectTimeout bounds dialing only; request deadlines come from the
// caller's context. Ignored when WithHTTPClient is also given.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// DefaultConnectTimeout is used when WithConnectTimeout is not given.
const DefaultConnectTimeout = 10 * time.Second

// New constructs a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		userAgent:      "ocrdeploy",
		connectTimeout: DefaultConnectTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newTransport(c.connectTimeout)}
	}
	return c
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BaseURL returns the normalized endpoint URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return b, nil
}

// Health returns nil when GET /health answers 2xx.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, req)
	return err
}

// Models lists the served models. The raw body is returned alongside for display.
func (c *Client) Models(ctx context.Context) (types.ModelList, []byte, error) {
	var list types.ModelList
	req, err := c.newRequest(ctx, http.MethodGet, modelsPath, nil)
	if err != nil {
		return list, nil, err
	}
	b, err := c.do(ctx, req)
	if err != nil {
		return list, nil, err
	}
	if err := json.Unmarshal(b, &list); err != nil {
		return list, b, fmt.Errorf("decode models: %w", err)
	}
	return list, b, nil
}

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, in types.ChatCompletionRequest) (*types.ChatCompletionResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	b, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var out types.ChatCompletionResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return &out, nil
}

// WaitHealthy polls /health every interval until it answers 2xx or ctx ends.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Health(hctx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s%s: %w", c.baseURL, healthPath, ctx.Err())
		}
	}
}
