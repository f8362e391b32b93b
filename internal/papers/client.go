package papers

import (
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
)

const (
	DefaultSearchURL     = "https://api.semanticscholar.org/graph/v1/paper/search"
	DefaultTimeout       = 15 * time.Second
	DefaultMaxRetries    = 3
	DefaultRateLimitWait = 120 * time.Second

	userAgent    = "Dermodel 1.0 (interactive skincare education database)"
	searchFields = "title,authors,year,venue,externalIds,url,abstract"
)

// ErrRateLimited is returned when the API keeps answering 429 after every retry.
var ErrRateLimited = errors.New("semantic scholar rate limit exceeded")

// Author is a paper author as returned by the search API.
type Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// Result is one search hit. ExternalIDs mixes string and numeric values.
type Result struct {
	PaperID     string         `json:"paperId"`
	Title       string         `json:"title"`
	Authors     []Author       `json:"authors"`
	Year        int            `json:"year"`
	Venue       string         `json:"venue"`
	ExternalIDs map[string]any `json:"externalIds"`
	URL         string         `json:"url"`
	Abstract    string         `json:"abstract"`
}

type searchResponse struct {
	Total int      `json:"total"`
	Data  []Result `json:"data"`
}

// ClientConfig configures the Semantic Scholar client.
type ClientConfig struct {
	SearchURL     string
	APIKey        string // Optional: raises the rate limit
	Timeout       time.Duration
	MaxRetries    int
	RateLimitWait time.Duration
	Logger        *zap.Logger
}

// Client searches Semantic Scholar for papers.
type Client struct {
	searchURL     string
	apiKey        string
	httpClient    *http.Client
	maxRetries    int
	rateLimitWait time.Duration
	logger        *zap.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Semantic Scholar client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultRateLimitWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		searchURL:     cfg.SearchURL,
		apiKey:        cfg.APIKey,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		maxRetries:    cfg.MaxRetries,
		rateLimitWait: cfg.RateLimitWait,
		logger:        cfg.Logger,
		sleep:         sleepContext,
	}
}

// Search returns up to limit papers about the ingredient's effect on skin.
// A 429 is retried after rateLimitWait*(attempt+1); once retries run out
// ErrRateLimited is returned.
func (c *Client) Search(ctx context.Context, ingredient string, limit int) ([]Result, error) {
	params := url.Values{}
	params.Set("query", strings.ToLower(ingredient)+" skin")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", searchFields)
	endpoint := c.searchURL + "?" + params.Encode()

	for attempt := 0; ; attempt++ {
		results, status, err := c.search(ctx, endpoint)
		if status != http.StatusTooManyRequests {
			return results, err
		}

		if attempt >= c.maxRetries {
			return nil, ErrRateLimited
		}

		wait := c.rateLimitWait * time.Duration(attempt+1)
		c.logger.Warn("rate limited, backing off",
			zap.String("ingredient", ingredient),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxRetries),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) search(ctx context.Context, endpoint string) ([]Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search papers: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode search response: %w", err)
	}
	return out.Data, resp.StatusCode, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
