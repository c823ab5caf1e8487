// Package node implements the HTTP client for a single storage node:
// paginated XML listings plus object probe, fetch and store.
package node

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const storeContentType = "application/octet-stream"

// Options configures a node client.
type Options struct {
	Name        string
	BaseURL     string
	AuthToken   string
	InsecureTLS bool
	Timeout     time.Duration // Per-request timeout (default: 30s)
	RateLimit   int           // Listing requests per second, 0 = unlimited
	RawDir      string        // When set, raw listing bodies are captured here
	Logger      zerolog.Logger
}

// Client talks to one storage node.
type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	rawDir  string
	rawSeq  atomic.Int64
	logger  zerolog.Logger
}

// NewClient creates a client for one node.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	return &Client{
		name:    opts.Name,
		baseURL: opts.BaseURL,
		token:   opts.AuthToken,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: opts.InsecureTLS,
				},
			},
		},
		limiter: limiter,
		rawDir:  opts.RawDir,
		logger:  opts.Logger.With().Str("component", "node").Str("node", opts.Name).Logger(),
	}
}

// Name returns the node name this client talks to.
func (c *Client) Name() string { return c.name }

// objectURL builds the object endpoint URL for a container path.
func (c *Client) objectURL(path string) string {
	return c.baseURL + "/rest/" + path
}

// ListPage fetches one listing page for a resource. The resource is the
// namespace for the top-level folder pass, or namespace/folder for a nested
// object pass. The marker, when non-empty, resumes enumeration exclusively
// after the marked entry.
func (c *Client) ListPage(ctx context.Context, resource string, kind Kind, batch int, marker string) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Node: c.name, Op: "list", Err: err}
		}
	}

	q := url.Values{}
	q.Set("type", string(kind))
	q.Set("format", "xml")
	q.Set("max-results", strconv.Itoa(batch))
	if marker != "" {
		q.Set("marker", marker)
	}
	reqURL := c.baseURL + "/rest/" + resource + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create listing request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Node: c.name, Op: "list " + resource, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProtocolError{
			Node:   c.name,
			URL:    reqURL,
			Reason: fmt.Sprintf("listing returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	var reader io.Reader = resp.Body
	if c.rawDir != "" {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransportError{Node: c.name, Op: "read listing " + resource, Err: err}
		}
		c.captureRaw(raw)
		reader = bytes.NewReader(raw)
	}

	page, err := decodePage(reader)
	if err != nil {
		return nil, &ProtocolError{Node: c.name, URL: reqURL, Reason: "malformed listing", Err: err}
	}

	c.logger.Debug().
		Str("resource", resource).
		Str("kind", string(kind)).
		Str("marker", marker).
		Int("entries", len(page.Entries)).
		Msg("Fetched listing page")

	return page, nil
}

// Probe checks object existence and returns the HTTP status code.
// A network failure returns a TransportError; any received status code,
// including 404, is a successful probe.
func (c *Client) Probe(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(path), nil)
	if err != nil {
		return 0, fmt.Errorf("create probe request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &TransportError{Node: c.name, Op: "probe " + path, Err: err}
	}
	_ = resp.Body.Close()

	return resp.StatusCode, nil
}

// Fetch retrieves the full object body into w.
func (c *Client) Fetch(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(path), nil)
	if err != nil {
		return fmt.Errorf("create fetch request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Node: c.name, Op: "fetch " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{
			Node:   c.name,
			URL:    c.objectURL(path),
			Reason: fmt.Sprintf("fetch returned %d", resp.StatusCode),
		}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return &TransportError{Node: c.name, Op: "fetch " + path, Err: err}
	}
	return nil
}

// Store uploads the full object body from r. Callers must have probed the
// destination first; Store itself never checks for an existing object.
func (c *Client) Store(ctx context.Context, path string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(path), r)
	if err != nil {
		return fmt.Errorf("create store request: %w", err)
	}
	req.Header.Set("Content-Type", storeContentType)
	if size >= 0 {
		req.ContentLength = size
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Node: c.name, Op: "store " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProtocolError{
			Node:   c.name,
			URL:    c.objectURL(path),
			Reason: fmt.Sprintf("store returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// captureRaw writes one raw listing body to the capture directory.
func (c *Client) captureRaw(body []byte) {
	seq := c.rawSeq.Add(1)
	name := fmt.Sprintf("raw-%s-%04d.xml", c.name, seq)
	if err := os.WriteFile(filepath.Join(c.rawDir, name), body, 0644); err != nil {
		c.logger.Warn().Err(err).Str("file", name).Msg("Failed to capture raw listing")
	}
}
