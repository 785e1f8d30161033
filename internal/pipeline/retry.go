package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines retry behavior for upstream calls. The API only gets a single
// fixed-delay retry when it reports itself busy; there is no backoff.
type RetryPolicy struct {
	MaxAttempts     int           `json:"max_attempts"` // including the first call
	Delay           time.Duration `json:"delay"`
	RetryableStatus []int         `json:"retryable_status"`
}

// DefaultRetryPolicy retries once after a minute on 503
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     2,
	Delay:           60 * time.Second,
	RetryableStatus: []int{http.StatusServiceUnavailable},
}

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (p RetryPolicy) isRetryable(status int) bool {
	for _, s := range p.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}

// Do runs call until it returns a non-retryable response or attempts run out.
// A retryable response that is not retried again is returned to the caller unchanged.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, call func() (*http.Response, error)) (*http.Response, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		resp, err := call()
		if err != nil {
			return nil, err
		}
		if !p.isRetryable(resp.StatusCode) || attempt >= attempts {
			return resp, nil
		}
		resp.Body.Close()

		logger.Warn("upstream busy, retrying",
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("delay", p.Delay),
		)
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
