package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// RetryPolicy bounds provider retries
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries transient failures three times
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// StatusError is a non-success HTTP response from a provider
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
}

// retryable reports whether another attempt is safe. Only rate limiting and
// failures to connect qualify: anything else may have reached the provider,
// and a second attempt could deliver the message twice.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// do runs call until it returns a response with an accepted status, a
// non-retryable error, or attempts run out
func do(ctx context.Context, provider string, policy RetryPolicy, accepted func(int) bool, call func() (*resty.Response, error)) (*resty.Response, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.Multiplier = 2
	exp.MaxInterval = policy.MaxInterval
	exp.Reset()

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := call()
		if err == nil && accepted(resp.StatusCode()) {
			return resp, nil
		}
		if err == nil {
			err = &StatusError{Provider: provider, Status: resp.StatusCode(), Body: resp.String()}
		}
		lastErr = err

		if attempt >= policy.MaxAttempts || !retryable(err) {
			return nil, lastErr
		}

		select {
		case <-time.After(exp.NextBackOff()):
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w (last error: %v)", provider, ctx.Err(), lastErr)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func statusIs(codes ...int) func(int) bool {
	return func(status int) bool {
		for _, c := range codes {
			if status == c {
				return true
			}
		}
		return false
	}
}
