// Package jira is a minimal Jira Cloud REST client used to pull ticket
// context into agent prompts.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kandev/acpbridge/internal/bridge/metrics"
	"github.com/kandev/acpbridge/internal/common/logger"
)

const (
	// searchPageSize is the Jira Cloud cap on maxResults per request.
	searchPageSize = 100

	defaultRetryAfter = 2 * time.Second
	requestTimeout    = 30 * time.Second

	// Client-side ceiling, well under Jira Cloud's per-user quota.
	defaultRequestsPerSecond = 10
	defaultBurst             = 20

	endpointIssue  = "issue"
	endpointSearch = "search"
)

// ErrNotConfigured is returned by NewClient when credentials are missing.
var ErrNotConfigured = errors.New("jira: base URL, email and API token are required")

// Issue is a raw issue document as returned by the REST API.
type Issue = map[string]any

// Client talks to one Jira site with basic auth (email + API token).
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
	retryAfter time.Duration
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for rate-limit notices.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit caps outgoing requests at rps with the given burst.
// A non-positive rps disables client-side limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the site at baseURL.
func NewClient(baseURL, email, token string, opts ...Option) (*Client, error) {
	if baseURL == "" || email == "" || token == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.NewNop(),
		retryAfter: defaultRetryAfter,
		limiter:    rate.NewLimiter(defaultRequestsPerSecond, defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(zap.String("component", "jira"))
	return c, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// GetIssue fetches a single issue by key, e.g. "PROJ-123".
func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("rest/api/3/issue/"+url.PathEscape(key)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, endpointIssue)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("decode issue %s: %w", key, err)
	}
	return issue, nil
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type searchPage struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// Search runs jql and collects issues page by page until the result set is
// exhausted or at least maxResults issues have been gathered. A 429 response
// is retried after the server's Retry-After delay.
func (c *Client) Search(ctx context.Context, jql string, fields []string, maxResults int) ([]Issue, error) {
	if fields == nil {
		fields = []string{}
	}

	var issues []Issue
	startAt := 0
	for {
		body, err := json.Marshal(searchRequest{
			JQL:        jql,
			StartAt:    startAt,
			MaxResults: searchPageSize,
			Fields:     fields,
		})
		if err != nil {
			return nil, err
		}

		page, retry, err := c.searchPage(ctx, body)
		if err != nil {
			return nil, err
		}
		if page == nil {
			c.logger.Warn("rate limited by Jira, backing off",
				zap.Duration("retry_after", retry),
				zap.Int("start_at", startAt))
			if err := sleep(ctx, retry); err != nil {
				return nil, err
			}
			continue
		}

		issues = append(issues, page.Issues...)
		startAt += searchPageSize
		if startAt >= page.Total || len(issues) >= maxResults {
			return issues, nil
		}
	}
}

// searchPage performs one search request. A nil page means the request was
// rate limited and should be repeated after the returned delay.
func (c *Client) searchPage(ctx context.Context, body []byte) (*searchPage, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("rest/api/3/search"), bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, endpointSearch)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, c.parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("decode search page: %w", err)
	}
	return &page, 0, nil
}

// do waits for the limiter, sends req with credentials and counts the
// response under endpoint.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordJiraRequest(endpoint, 0)
		return nil, err
	}
	metrics.RecordJiraRequest(endpoint, resp.StatusCode)
	return resp, nil
}

func (c *Client) parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return c.retryAfter
	}
	return time.Duration(secs) * time.Second
}

// checkStatus turns a non-2xx response into "<status> <body>".
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s %s", resp.Status, strings.TrimSpace(string(body)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
