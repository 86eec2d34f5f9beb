package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"doubtdesk/internal/logger"
	"doubtdesk/pkg/types"
)

const module = "api"

// Options configure the shared HTTP client
type Options struct {
	BaseURL string
	Timeout time.Duration
	Jar     http.CookieJar
}

// Client performs credentialed JSON requests against the backend.
// Every request carries the cookie jar and a ULID X-Request-ID.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger logger.ILogger

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewClient creates a client rooted at opts.BaseURL
func NewClient(opts Options, log logger.ILogger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: opts.Timeout, Jar: opts.Jar},
		logger:  log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// BaseURL returns the root every path is resolved against
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Jar returns the cookie jar shared with the realtime channel
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

func (c *Client) requestID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), c.entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// do sends a request and returns the body of a 2xx response.
// Other statuses become *types.APIError carrying the server's message.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := c.requestID()
	if reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(module, "request failed", map[string]interface{}{
			"method":     method,
			"path":       path,
			"request_id": reqID,
			"error":      err,
		})
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.logger.Debug(module, "request completed", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"request_id":  reqID,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(data),
			Path:    path,
		}
	}
	return data, nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."}
func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Error) > 0 {
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return payload.Message
}
