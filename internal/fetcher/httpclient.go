package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"resty.dev/v3"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second

	// Quote endpoints reject requests without a browser-like agent.
	defaultUserAgent = "Mozilla/5.0 (compatible; pegcrawler/1.0)"
)

// NewHTTPClient creates the resty client shared by providers. retries is the
// number of transport-level retries inside a single provider call, on top
// of which Fetcher runs its own snapshot retry loop; 0 disables them.
func NewHTTPClient(baseURL string, retries int) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", defaultUserAgent).
		SetRetryCount(max(retries, 0)).
		SetRetryWaitTime(defaultRetryWaitTime).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)
}

// retryCondition retries transport failures and the statuses
// ClassifyHTTPError marks as retryable.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := r.StatusCode()
	return code >= 400 && ClassifyHTTPError(code).Retryable
}

func retryHook(r *resty.Response, err error) {
	attrs := []any{
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	} else {
		attrs = append(attrs, "status_code", r.StatusCode())
	}
	slog.Debug("retrying provider request", attrs...)
}
