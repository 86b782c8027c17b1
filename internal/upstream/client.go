package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Logger is the minimal logging surface injected through options.
type Logger interface {
	Printf(format string, args ...any)
}

// TokenProvider supplies the upstream auth token per call so that rotated
// credentials take effect without restarting the process.
type TokenProvider func(ctx context.Context) (string, error)

func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Page is the upstream's cursor-paginated collection envelope. Next and
// Previous are absolute URLs.
type Page struct {
	Count    int               `json:"count"`
	Next     string            `json:"next"`
	Previous string            `json:"previous"`
	Results  []json.RawMessage `json:"results"`
}

type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	Backoff       *BackoffPolicy
	Limiter       RateLimiter
	Breaker       *CircuitBreaker
	// MinInterval is the mandated pause after every successful call so
	// back-to-back requests from one manager cannot burst.
	MinInterval time.Duration
	// MaxLimiterWait caps the total time a blocking caller spends waiting
	// for limiter slots within a single request.
	MaxLimiterWait time.Duration
	// LowQuotaThreshold triggers a log line when the upstream-reported
	// remaining quota drops below it.
	LowQuotaThreshold int
	Logger            Logger
}

// RequestOptions select per-call behavior.
type RequestOptions struct {
	// TolerateMissing makes a 404 yield ok=false instead of an error.
	TolerateMissing bool
	// WaitForSlot blocks until the limiter grants a slot (capped by
	// MaxLimiterWait); ad-hoc callers leave it false and fail fast with a
	// RateLimitError.
	WaitForSlot bool
}

// Client is the single entry point every reconciliation manager uses to
// talk to the judicial-records API.
type Client struct {
	baseURL           string
	tokenProvider     TokenProvider
	httpClient        *http.Client
	userAgent         string
	maxRetries        int
	backoff           *BackoffPolicy
	limiter           RateLimiter
	breaker           *CircuitBreaker
	minInterval       time.Duration
	maxLimiterWait    time.Duration
	lowQuotaThreshold int
	logger            Logger
	sleep             func(ctx context.Context, d time.Duration) error
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = NewBackoffPolicy(0, 0)
	}
	maxLimiterWait := opts.MaxLimiterWait
	if maxLimiterWait <= 0 {
		maxLimiterWait = 2 * time.Minute
	}
	lowQuota := opts.LowQuotaThreshold
	if lowQuota <= 0 {
		lowQuota = 10
	}
	return &Client{
		baseURL:           baseURL,
		tokenProvider:     opts.TokenProvider,
		httpClient:        httpClient,
		userAgent:         strings.TrimSpace(opts.UserAgent),
		maxRetries:        maxRetries,
		backoff:           backoff,
		limiter:           opts.Limiter,
		breaker:           opts.Breaker,
		minInterval:       opts.MinInterval,
		maxLimiterWait:    maxLimiterWait,
		lowQuotaThreshold: lowQuota,
		logger:            opts.Logger,
		sleep:             sleepContext,
	}
}

// Get issues one GET against path (or an absolute URL, as returned in page
// cursors) and decodes the JSON body into out. The returned bool is false
// only for a tolerated 404.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any, opts RequestOptions) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("upstream client is nil")
	}
	requestURL, err := c.resolveURL(path, params)
	if err != nil {
		return false, err
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := c.acquireSlot(ctx, opts); err != nil {
			return false, err
		}
		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				return false, err
			}
		}
		// Resolved per attempt so a credential rotation takes effect on
		// the next retry instead of after the call exhausts.
		token, err := c.token(ctx)
		if err != nil {
			return false, err
		}

		status, retryAfter, body, err := c.do(ctx, requestURL, token)
		if err != nil {
			// Network and timeout failures retry like a 5xx.
			c.recordFailure()
			if attempt < c.maxRetries {
				if waitErr := c.sleep(ctx, c.backoff.Delay(attempt, 0, "")); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, &TransientError{Path: path, Attempts: attempt + 1, Err: err}
		}

		switch {
		case status >= 200 && status <= 299:
			c.recordSuccess()
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return false, fmt.Errorf("decode upstream body for %s: %w", path, err)
				}
			}
			if waitErr := c.sleep(ctx, c.minInterval); waitErr != nil {
				return true, waitErr
			}
			return true, nil
		case status == http.StatusNotFound:
			c.recordSuccess()
			if opts.TolerateMissing {
				return false, nil
			}
			return false, &StatusError{Path: path, StatusCode: status, Message: errorMessage(body)}
		case status == http.StatusTooManyRequests || (status >= 500 && status <= 599):
			c.recordFailure()
			if attempt < c.maxRetries {
				if waitErr := c.sleep(ctx, c.backoff.Delay(attempt, status, retryAfter)); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, &TransientError{Path: path, StatusCode: status, Attempts: attempt + 1}
		default:
			c.recordSuccess()
			return false, &StatusError{Path: path, StatusCode: status, Message: errorMessage(body)}
		}
	}
}

// GetPage fetches one page of a cursor-paginated collection.
func (c *Client) GetPage(ctx context.Context, path string, params url.Values, opts RequestOptions) (Page, error) {
	var page Page
	ok, err := c.Get(ctx, path, params, &page, opts)
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, nil
	}
	return page, nil
}

func (c *Client) acquireSlot(ctx context.Context, opts RequestOptions) error {
	if c.limiter == nil {
		return nil
	}
	deadline := time.Now().Add(c.maxLimiterWait)
	for {
		decision, err := c.limiter.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}
		if !opts.WaitForSlot {
			return &RateLimitError{ResetAt: decision.ResetAt}
		}
		wait := time.Until(decision.ResetAt)
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if time.Now().Add(wait).After(deadline) {
			return &RateLimitError{ResetAt: decision.ResetAt}
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, requestURL, token string) (status int, retryAfter string, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, "", nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, "", nil, readErr
	}
	c.observeHeaders(resp)
	return resp.StatusCode, resp.Header.Get("Retry-After"), body, nil
}

func (c *Client) observeHeaders(resp *http.Response) {
	remaining := strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining"))
	if remaining == "" {
		return
	}
	value, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	if value <= c.lowQuotaThreshold {
		c.logf("upstream quota low: %d requests remaining", value)
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokenProvider == nil {
		return "", nil
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (c *Client) resolveURL(path string, params url.Values) (string, error) {
	var raw string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		raw = path
	} else {
		if c.baseURL == "" {
			return "", fmt.Errorf("upstream base url is required")
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		raw = c.baseURL + path
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	for key, values := range params {
		// Replace whatever the base URL carried but keep every value the
		// caller supplied for the key.
		query[key] = append([]string(nil), values...)
	}
	query.Set("format", "json")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
