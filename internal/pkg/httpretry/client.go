// Package httpretry retries idempotent-enough HTTP calls with jittered
// exponential backoff. The OpenAI-compatible LLM backend uses it as its
// transport so rate limits and 5xx blips do not surface as ErrUpstream.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// HTTPDoer executes a request. *http.Client and *RetryClient both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries 429 and 5xx gateway responses plus transport errors.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option tunes a RetryClient.
type Option func(*RetryClient)

// WithDelays overrides the backoff base and cap.
func WithDelays(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		rc.baseDelay = base
		rc.maxDelay = max
	}
}

// NewRetryClient wraps client, or a 30s http.Client when nil. maxRetries
// counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{client: client, maxRetries: maxRetries, baseDelay: time.Second, maxDelay: 30 * time.Second}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

var errRetryableStatus = errors.New("httpretry: retryable status")

// Do sends req, retrying as needed. The last response is returned as-is
// when retries run out so the caller can read the error body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	var hint time.Duration

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
			delay := rc.calculateDelay(attempt)
			if hint > delay {
				delay = hint
			}
			logger.Warn("httpretry: retrying",
				"attempt", attempt, "host", req.URL.Host, "path", req.URL.Path,
				"delay", delay.String(), "error", lastErr)

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, hint = err, 0
			continue
		}
		if !retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		hint = rc.retryAfter(resp)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("%w %d", errRetryableStatus, resp.StatusCode)
	}
	return nil, lastErr
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: reset body: %w", err)
	}
	req.Body = body
	return nil
}

// calculateDelay is full jitter over min(maxDelay, base*2^(attempt-1)),
// floored at base/10.
func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	ceiling := rc.baseDelay << (attempt - 1)
	if ceiling <= 0 || ceiling > rc.maxDelay {
		ceiling = rc.maxDelay
	}
	d := time.Duration(rand.Int63n(int64(ceiling) + 1))
	if floor := rc.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

// retryAfter honours a Retry-After header given in seconds, capped at maxDelay.
func (rc *RetryClient) retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	if d := time.Duration(secs) * time.Second; d < rc.maxDelay {
		return d
	}
	return rc.maxDelay
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
