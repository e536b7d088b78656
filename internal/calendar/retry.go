package calendar

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"

	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
)

// classify sorts an API error into the taxonomy the engine acts on:
// 401 is an auth failure, 403 is auth unless the reason is quota, 429 and
// 5xx are transient, every other 4xx permanently rejects the item.
// Non-HTTP failures (network, DNS) count as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &TransientError{Err: err}
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return &AuthError{Err: err}
	case gerr.Code == http.StatusForbidden:
		if isQuotaReason(gerr) {
			return &TransientError{Err: err}
		}
		return &AuthError{Err: err}
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return &TransientError{Err: err}
	default:
		return &PermanentError{Err: err}
	}
}

func isQuotaReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// doCall runs one calendar API call through the rate limiter, retrying
// transient failures with doubling backoff up to maxRetries extra
// attempts. Auth and permanent failures return immediately.
func (c *GoogleClient) doCall(ctx context.Context, what string, op func() error) error {
	delay := c.backoff
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := classify(op())
		if err == nil {
			return nil
		}

		var te *TransientError
		if !errors.As(err, &te) || attempt >= c.maxRetries {
			return err
		}

		appLog.Warn("calendar call retrying", "op", what, "attempt", attempt+1, "delay", delay.String(), "err", err.Error())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}
