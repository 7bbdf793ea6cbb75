// Package httpclient is the JSON-over-HTTP client shared by the provider
// API clients and the remote document store.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"connsync/internal/connectors"
)

// TokenProvider returns the bearer token for a request.
type TokenProvider func(ctx context.Context) (string, error)

// EnvTokenProvider reads the token from an environment variable on every call,
// so a rotated credential is picked up without restarting the worker.
func EnvTokenProvider(name string) TokenProvider {
	return func(context.Context) (string, error) {
		tok := strings.TrimSpace(os.Getenv(name))
		if tok == "" {
			return "", &connectors.ProviderError{
				Provider: "credentials",
				Kind:     connectors.ProviderErrorAuthRevoked,
				Err:      fmt.Errorf("environment variable %s is empty", name),
			}
		}
		return tok, nil
	}
}

// StaticToken always returns tok.
func StaticToken(tok string) TokenProvider {
	return func(context.Context) (string, error) { return tok, nil }
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Provider   string
	BaseURL    string
	Token      TokenProvider
	HTTPClient *http.Client
	UserAgent  string
	Headers    map[string]string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
}

// Client issues JSON requests with retries on 429 and 5xx responses.
type Client struct {
	provider   string
	baseURL    string
	token      TokenProvider
	httpClient *http.Client
	userAgent  string
	headers    map[string]string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
}

// New creates a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return &Client{
		provider:   opts.Provider,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      opts.Token,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		headers:    opts.Headers,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		limiter:    limiter,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Do issues a request. path may be absolute (pagination links) or relative to
// the base URL. A nil out discards the response body; a *[]byte out receives
// it undecoded.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = b
	}

	token := ""
	if c.token != nil {
		t, err := c.token(ctx)
		if err != nil {
			return err
		}
		token = t
	}
	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", requestID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &connectors.ProviderError{Provider: c.provider, Kind: connectors.ProviderErrorTransient, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return &connectors.ProviderError{Provider: c.provider, Kind: connectors.ProviderErrorTransient, Status: resp.StatusCode, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if raw, ok := out.(*[]byte); ok {
				*raw = respBody
				return nil
			}
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding %s response: %w", c.provider, err)
			}
			return nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return c.statusError(resp.StatusCode, respBody)
	}
}

func (c *Client) statusError(status int, body []byte) error {
	code := ""
	message := strings.TrimSpace(string(body))
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, key := range []string{"code", "error", "type"} {
			if v, ok := parsed[key].(string); ok && v != "" {
				code = v
				break
			}
		}
		for _, key := range []string{"message", "description", "error_description"} {
			if v, ok := parsed[key].(string); ok && strings.TrimSpace(v) != "" {
				message = v
				break
			}
		}
	}
	if len(message) > 512 {
		message = message[:512]
	}
	return &connectors.ProviderError{
		Provider: c.provider,
		Kind:     KindForStatus(status),
		Status:   status,
		Code:     code,
		Err:      errors.New(message),
	}
}

// KindForStatus classifies an HTTP status.
func KindForStatus(status int) connectors.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return connectors.ProviderErrorAuthRevoked
	case status == http.StatusNotFound || status == http.StatusGone:
		return connectors.ProviderErrorNotFound
	case status == http.StatusTooManyRequests:
		return connectors.ProviderErrorRateLimited
	case status >= 500:
		return connectors.ProviderErrorTransient
	}
	return connectors.ProviderErrorPermanent
}

// IsForbidden reports whether err is a 403 response.
func IsForbidden(err error) bool {
	var pe *connectors.ProviderError
	return errors.As(err, &pe) && pe.Status == http.StatusForbidden
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
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
