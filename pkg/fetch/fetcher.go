package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/retry"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Fetcher performs GET requests against a single URL, retrying transient failures (network errors, 5xx, 429)
type Fetcher struct {
	client *http.Client
	policy retry.Policy
	log    *logrus.Entry
}

// NewFetcher creates a Fetcher. maxRetries counts retries after the first attempt.
func NewFetcher(client *http.Client, maxRetries int, initialDelay, maxDelay time.Duration, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		policy: retry.Policy{
			Attempts:  maxRetries + 1,
			BaseDelay: initialDelay,
			MaxDelay:  maxDelay,
			Jitter:    0.1,
		},
		log: log,
	}
}

// WithSleep replaces the backoff sleep, used by tests
func (f *Fetcher) WithSleep(sleep retry.SleepFunc) *Fetcher {
	f.policy.Sleep = sleep
	return f
}

// Get fetches rawURL and returns the 2xx response. The caller must close the body.
// A non-retryable 4xx is returned together with its response; the caller must close that body too.
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	reqLog := f.log.WithField("url", rawURL)

	var result *http.Response
	policy := f.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		reqLog.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Warnf("Retrying request: %v", err)
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}

		status := resp.StatusCode
		switch {
		case status >= 200 && status < 300:
			result = resp
			return nil
		case status >= 500:
			drain(resp)
			return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, status, resp.Status)
		case status == http.StatusTooManyRequests:
			drain(resp)
			return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, status, resp.Status)
		case status >= 400:
			result = resp
			return retry.Permanent(fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, status, resp.Status))
		default:
			result = resp
			return retry.Permanent(fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, status, resp.Status))
		}
	})

	if err == nil {
		return result, nil
	}
	if result != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return nil, err
	}
	reqLog.Errorf("All fetch attempts failed: %v", err)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, err)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
