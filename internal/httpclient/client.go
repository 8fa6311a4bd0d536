// Package httpclient provides the shared outbound HTTP client: resty over a
// retrying transport, with optional client-side rate limiting. The
// orchestration services and the thread-aware API client both build on it.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/instrulink/sessionkit/internal/infrastructure/config"
)

// Client wraps resty with rate limiting and a retrying transport.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	mu      sync.RWMutex
}

// New creates a client from API configuration.
func New(cfg config.APIConfig) *Client {
	waitMin := cfg.RetryWaitMin
	if waitMin <= 0 {
		waitMin = 1 * time.Second
	}
	waitMax := cfg.RetryWaitMax
	if waitMax < waitMin {
		waitMax = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = waitMin
	retryClient.RetryWaitMax = waitMax
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "sessionkit/1.0").
		SetTransport(retryClient.HTTPClient.Transport).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(waitMin).
		SetRetryMaxWaitTime(waitMax).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Server-side failures are worth another attempt; 4xx are not.
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &Client{Resty: restyClient, Limiter: limiter}
}

// Request creates a new request bound to ctx after the rate limiter admits
// it. Every request carries a fresh correlation id for backend log joins.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()), nil
}

// SetHeader adds a default header to every request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetHeader(key, value)
}

// SetBearerAuth configures bearer token authentication.
func (c *Client) SetBearerAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetAuthToken(token)
}
