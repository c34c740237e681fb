// Package pinecone implements the vector store contract against a
// Pinecone-compatible HTTP API.
//
// The API splits into a control plane (index management, served from a
// central endpoint) and a data plane (vector reads/writes, served from the
// per-index host). [Client] speaks both. The data-plane host is discovered
// from DescribeIndex when not configured explicitly, which keeps single-host
// test servers simple.
//
// Only standard library packages are used for transport — no vendor SDK is
// required beyond Go's net/http and encoding/json.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// DefaultControlURL is the default control-plane endpoint.
const DefaultControlURL = "https://api.pinecone.io"

// DefaultMaxTopK caps how many matches a single query may request.
const DefaultMaxTopK = 10

// Ensure Client implements both planes of the vector contract.
var (
	_ vector.Store        = (*Client)(nil)
	_ vector.ControlPlane = (*Client)(nil)
)

// Client talks to a Pinecone-compatible vector service.
// It is safe for concurrent use.
type Client struct {
	apiKey     string
	controlURL string
	httpClient *http.Client
	maxTopK    int
	indexName  string

	// indexURL is the resolved data-plane host. Guarded by mu; resolved
	// lazily from DescribeIndex when not set via WithIndexURL.
	mu       sync.Mutex
	indexURL string
}

// config holds optional configuration collected from functional options.
type config struct {
	controlURL string
	indexURL   string
	timeout    time.Duration
	maxTopK    int
}

// Option is a functional option for Client.
type Option func(*config)

// WithControlURL overrides the control-plane endpoint. A trailing slash is
// stripped automatically.
func WithControlURL(url string) Option {
	return func(c *config) {
		c.controlURL = url
	}
}

// WithIndexURL pre-sets the data-plane host, bypassing discovery via
// DescribeIndex.
func WithIndexURL(url string) Option {
	return func(c *config) {
		c.indexURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxTopK overrides the query result cap. Defaults to 10.
func WithMaxTopK(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTopK = n
		}
	}
}

// New constructs a Client for the named index.
//
// apiKey authenticates both planes. indexName must not be empty; it is the
// index all data-plane calls operate on.
func New(apiKey string, indexName string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone: apiKey must not be empty")
	}
	if indexName == "" {
		return nil, fmt.Errorf("pinecone: indexName must not be empty")
	}

	cfg := &config{
		controlURL: DefaultControlURL,
		maxTopK:    DefaultMaxTopK,
	}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Client{
		apiKey:     apiKey,
		controlURL: strings.TrimRight(cfg.controlURL, "/"),
		indexURL:   strings.TrimRight(cfg.indexURL, "/"),
		httpClient: httpClient,
		maxTopK:    cfg.maxTopK,
		indexName:  indexName,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Control plane
// ─────────────────────────────────────────────────────────────────────────────

// indexModel is the wire representation of an index in control-plane responses.
type indexModel struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// ListIndexes implements vector.ControlPlane.
func (c *Client) ListIndexes(ctx context.Context) ([]string, error) {
	var resp struct {
		Indexes []indexModel `json:"indexes"`
	}
	if err := c.do(ctx, http.MethodGet, c.controlURL+"/indexes", nil, &resp); err != nil {
		return nil, fmt.Errorf("pinecone: list indexes: %w", err)
	}

	names := make([]string, 0, len(resp.Indexes))
	for _, ix := range resp.Indexes {
		names = append(names, ix.Name)
	}
	return names, nil
}

// CreateIndex implements vector.ControlPlane.
func (c *Client) CreateIndex(ctx context.Context, spec vector.IndexSpec) error {
	body := map[string]any{
		"name":      spec.Name,
		"dimension": spec.Dimension,
		"metric":    spec.Metric,
		"spec": map[string]any{
			"serverless": map[string]any{
				"cloud":  spec.Cloud,
				"region": spec.Region,
			},
		},
	}
	if err := c.do(ctx, http.MethodPost, c.controlURL+"/indexes", body, nil); err != nil {
		return fmt.Errorf("pinecone: create index %q: %w", spec.Name, err)
	}
	return nil
}

// DescribeIndex implements vector.ControlPlane. As a side effect it caches
// the index host for data-plane calls.
func (c *Client) DescribeIndex(ctx context.Context, name string) (*vector.IndexStatus, error) {
	var ix indexModel
	if err := c.do(ctx, http.MethodGet, c.controlURL+"/indexes/"+name, nil, &ix); err != nil {
		return nil, fmt.Errorf("pinecone: describe index %q: %w", name, err)
	}

	if name == c.indexName && ix.Host != "" {
		host := ix.Host
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		c.mu.Lock()
		if c.indexURL == "" {
			c.indexURL = strings.TrimRight(host, "/")
		}
		c.mu.Unlock()
	}

	return &vector.IndexStatus{
		Name:      ix.Name,
		Dimension: ix.Dimension,
		State:     ix.Status.State,
		Ready:     ix.Status.Ready,
	}, nil
}

// dataURL returns the resolved data-plane base URL, discovering it via
// DescribeIndex on first use.
func (c *Client) dataURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	url := c.indexURL
	c.mu.Unlock()
	if url != "" {
		return url, nil
	}

	if _, err := c.DescribeIndex(ctx, c.indexName); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexURL == "" {
		return "", fmt.Errorf("pinecone: index %q reported no host", c.indexName)
	}
	return c.indexURL, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP plumbing
// ─────────────────────────────────────────────────────────────────────────────

// do sends one JSON request and decodes the JSON response into out (when
// non-nil). Non-2xx statuses become errors carrying the response body.
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
