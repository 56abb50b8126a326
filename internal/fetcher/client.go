package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"wandererkills/internal/wkerrors"
)

// Client wraps an *http.Client with the rate limiter and retry/backoff
// classification ESI calls need. Every method call goes through a single
// RateLimiter, matching the teacher's one-concurrent-request-per-consumer
// discipline.
type Client struct {
	http       *http.Client
	limiter    *RateLimiter
	maxRetries int
	logger     *slog.Logger
}

// New builds a Client with the given *http.Client (already configured with
// whatever timeout/transport the caller wants) and a default retry budget
// of 4 retries (5 attempts total).
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		http:       httpClient,
		limiter:    NewRateLimiter(),
		maxRetries: 4,
		logger:     logger,
	}
}

// Do issues req, retrying on network errors, 429, 420, and 5xx responses
// with one doubling backoff ladder shared by every retried status (1s base,
// 30s cap, full jitter). The caller owns closing the returned response body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Acquire(); err != nil {
		return nil, wkerrors.Wrap(wkerrors.KindInternal, "rate limiter busy", err)
	}
	defer c.limiter.Release()

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err = c.http.Do(reqClone)
		if err != nil {
			if attempt == c.maxRetries {
				return nil, wkerrors.Wrap(wkerrors.KindUpstream,
					fmt.Sprintf("request failed after %d attempts", c.maxRetries+1), err).
					WithRetriable(true)
			}
			if werr := c.sleep(ctx, fullJitter(networkBackoff(attempt))); werr != nil {
				return nil, werr
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 420 || resp.StatusCode == 429 {
			resp.Body.Close()
			backoff := c.limiter.GetBackoffDuration()
			c.limiter.IncrementBackoff()

			if attempt == c.maxRetries {
				return nil, wkerrors.New(wkerrors.KindRateLimited,
					fmt.Sprintf("upstream returned %d after %d attempts", resp.StatusCode, c.maxRetries+1)).
					WithRetriable(true).WithContext("status_code", resp.StatusCode)
			}

			c.logger.WarnContext(ctx, "upstream error requires backoff",
				"status_code", resp.StatusCode, "attempt", attempt)
			if werr := c.sleep(ctx, fullJitter(backoff)); werr != nil {
				return nil, werr
			}
			continue
		}

		c.limiter.Reset()
		break
	}

	return resp, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return wkerrors.Wrap(wkerrors.KindTimeout, "context cancelled during backoff", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// networkBackoff doubles per attempt starting at 1s, capped at 30s — used
// for plain network errors (no status code to classify against).
func networkBackoff(attempt int) time.Duration {
	d := time.Duration(int64(1)<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// fullJitter returns a random duration in [0, d), so a burst of requests
// hitting backoff at the same moment don't all retry on the same cadence.
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
