// Package client issues persisted-query GraphQL requests on behalf of a Session.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/heb-mcp/hebsession/internal/catalog"
	"github.com/heb-mcp/hebsession/internal/metrics"
	"github.com/heb-mcp/hebsession/internal/session"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultHomeURL is fetched to discover the web build id.
const DefaultHomeURL = "https://www.heb.com/"

// ErrUnauthorized is returned when the backend rejects the session's credential.
var ErrUnauthorized = errors.New("client: backend rejected the session credential")

var buildIDPattern = regexp.MustCompile(`"buildId"\s*:\s*"([^"]+)"`)

// Response is a decoded GraphQL response.
type Response struct {
	Status    int
	Operation catalog.Operation
	Body      []byte
	// Errors holds errors[].message from the response, if any.
	Errors []string
}

// Data returns the data member of the response.
func (r *Response) Data() gjson.Result {
	return gjson.GetBytes(r.Body, "data")
}

// Client is bound to one Session and re-reads its headers on every call.
type Client struct {
	session    *session.Session
	httpClient *http.Client
	catalogs   *catalog.Catalogs
	homeURL    string

	mu      sync.RWMutex
	buildID string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithCatalogs overrides the operation catalogs.
func WithCatalogs(catalogs *catalog.Catalogs) Option {
	return func(c *Client) { c.catalogs = catalogs }
}

// WithHomeURL overrides the page fetched by ResolveBuildID.
func WithHomeURL(homeURL string) Option {
	return func(c *Client) { c.homeURL = homeURL }
}

// New builds a client for s.
func New(s *session.Session, opts ...Option) *Client {
	c := &Client{session: s, homeURL: DefaultHomeURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.catalogs == nil {
		c.catalogs = catalog.Default()
	}
	return c
}

// Session returns the bound session.
func (c *Client) Session() *session.Session { return c.session }

// Execute runs a logical operation: the session is refreshed if needed, the operation is
// resolved for the session's current mode, and the request is sent with headers read after
// the refresh.
func (c *Client) Execute(ctx context.Context, name string, variables any) (*Response, error) {
	if err := c.session.EnsureFresh(ctx); err != nil {
		return nil, err
	}
	snap := c.session.Snapshot()
	op, err := c.catalogs.Resolve(name, snap.Mode)
	if err != nil {
		return nil, err
	}
	body, err := op.Body(variables)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snap.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header = snap.Headers
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.GraphQLDuration.WithLabelValues(string(op.Catalog)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GraphQLRequests.WithLabelValues(string(op.Catalog), metrics.StatusClass(0)).Inc()
		return nil, fmt.Errorf("client: %s request failed: %w", op.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.GraphQLRequests.WithLabelValues(string(op.Catalog), metrics.StatusClass(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("client: read %s response: %w", op.Name, err)
	}
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, err
	}
	if c.session.Debug() {
		log.WithFields(log.Fields{"operation": op.Name, "mode": snap.Mode}).Debugf("client: status %d, %d bytes", resp.StatusCode, len(decoded))
	}

	out := &Response{Status: resp.StatusCode, Operation: op, Body: decoded}
	for _, msg := range gjson.GetBytes(decoded, "errors.#.message").Array() {
		out.Errors = append(out.Errors, msg.String())
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return out, fmt.Errorf("%w: %s returned status %d", ErrUnauthorized, op.Name, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("client: %s returned status %d: %s", op.Name, resp.StatusCode, strings.TrimSpace(string(decoded)))
	}
	return out, nil
}

// ResolveBuildID fetches the web home page and records its build id.
func (c *Client) ResolveBuildID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.homeURL, nil)
	if err != nil {
		return "", fmt.Errorf("client: build home request: %w", err)
	}
	headers := c.session.Headers()
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if ua := headers.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if cookie := headers.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: fetch home page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("client: home page returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("client: read home page: %w", err)
	}
	page, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return "", err
	}
	match := buildIDPattern.FindSubmatch(page)
	if match == nil {
		return "", fmt.Errorf("client: build id not found on home page")
	}
	id := string(match[1])
	c.mu.Lock()
	c.buildID = id
	c.mu.Unlock()
	return id, nil
}

// BuildID returns the last resolved build id, or "".
func (c *Client) BuildID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildID
}
