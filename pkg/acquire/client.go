// Package acquire provides a client for the external provider acquisition
// service that backs Tier 3 discovery.
package acquire

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/contractor-match/internal/resilience"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 8 << 20

// Client queries the acquisition service for providers near a postal code.
// Records are returned as loosely-typed maps; shaping them is the caller's
// concern.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithRateLimit overrides the default rate limit (2 req/s). Zero or a
// negative value disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a new acquisition client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
		policy:  resilience.DefaultPolicy(),
	}
	c.policy.Name = "acquire"
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse is the envelope returned by the providers endpoint.
type searchResponse struct {
	Providers []map[string]any `json:"providers"`
}

// Acquire returns raw provider records for category around postal.
func (c *Client) Acquire(ctx context.Context, category, postal string, radiusKM float64) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("postal_code", postal)
	q.Set("radius_km", strconv.FormatFloat(radiusKM, 'f', -1, 64))
	reqURL := c.baseURL + "/v1/providers?" + q.Encode()

	body, err := resilience.Retry(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: search %s near %s", category, postal)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "acquire: unmarshal response")
	}
	if resp.Providers == nil {
		return []map[string]any{}, nil
	}
	return resp.Providers, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "acquire: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "acquire: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "acquire: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
