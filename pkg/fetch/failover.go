package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/retry"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// FailoverStrategy decides which endpoints an outer attempt tries
type FailoverStrategy string

const (
	// FailoverExpanding tries the first min(attempt+1, len(endpoints)) endpoints on each outer attempt
	FailoverExpanding FailoverStrategy = "expanding"
	// FailoverAll tries every endpoint on every outer attempt
	FailoverAll FailoverStrategy = "all"
)

// maxResponseBytes caps how much of a crawl response body is buffered
const maxResponseBytes = 64 << 20

// Response is a successful (2xx) reply from one of the endpoints
type Response struct {
	Endpoint   string
	StatusCode int
	Body       []byte
	Attempts   int // HTTP calls made, including the successful one
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %w", utils.ErrParsing, r.Endpoint, err)
	}
	return nil
}

// RetrierOptions configures a Retrier
type RetrierOptions struct {
	OriginScheme string           // "https" rejects plain-http endpoints before any call
	BaseDelay    time.Duration    // Backoff base between outer attempts, default 1s
	Strategy     FailoverStrategy // Default FailoverExpanding
	Sleep        retry.SleepFunc  // nil = real sleep
}

// Retrier POSTs a JSON payload to an ordered list of endpoints with per-attempt timeouts,
// failover to later endpoints, and exponential backoff between outer attempts.
type Retrier struct {
	client *http.Client
	log    *logrus.Entry
	opts   RetrierOptions
}

// NewRetrier creates a Retrier using client for the HTTP calls
func NewRetrier(client *http.Client, log *logrus.Entry, opts RetrierOptions) *Retrier {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Strategy == "" {
		opts.Strategy = FailoverExpanding
	}
	return &Retrier{client: client, log: log, opts: opts}
}

// CheckMixedContent returns a MixedContentError for the first plain-http endpoint when the origin is https
func CheckMixedContent(originScheme string, endpoints []string) error {
	if !strings.EqualFold(originScheme, "https") {
		return nil
	}
	for _, ep := range endpoints {
		u, err := url.Parse(ep)
		if err == nil && strings.EqualFold(u.Scheme, "http") {
			return &utils.MixedContentError{Endpoint: ep}
		}
	}
	return nil
}

// RequestWithFailover sends payload to the endpoints until one answers 2xx.
// At most maxRetries outer attempts are made, so at most maxRetries*len(endpoints) HTTP calls.
// On exhaustion it returns a *utils.NetworkError carrying the endpoint list and the last error.
func (r *Retrier) RequestWithFailover(ctx context.Context, endpoints []string, payload any, perAttemptTimeout time.Duration, maxRetries int) (*Response, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", utils.ErrConfigValidation)
	}
	if err := CheckMixedContent(r.opts.OriginScheme, endpoints); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request payload: %w", utils.ErrSerialization, err)
	}

	var (
		resp  *Response
		calls int
	)

	policy := retry.Policy{
		Attempts:  maxRetries,
		BaseDelay: r.opts.BaseDelay,
		Sleep:     r.opts.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			r.log.WithFields(logrus.Fields{"attempt": attempt + 1, "max_retries": maxRetries, "delay": delay}).
				Warnf("All endpoints failed, backing off: %v", err)
		},
	}

	lastErr := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var attemptErr error
		for _, ep := range r.endpointsFor(endpoints, attempt) {
			calls++
			res, err := r.post(ctx, ep, body, perAttemptTimeout)
			if err == nil {
				res.Attempts = calls
				resp = res
				return nil
			}
			attemptErr = err
			r.log.WithFields(logrus.Fields{"endpoint": ep, "attempt": attempt + 1}).Warnf("Crawl request failed: %v", err)

			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
		}
		return attemptErr
	})

	if lastErr == nil {
		return resp, nil
	}

	// Cancellation by the caller is not a network failure
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, fmt.Errorf("crawl request cancelled: %w", lastErr)
	}

	netErr := &utils.NetworkError{
		Endpoints: append([]string(nil), endpoints...),
		Timeout:   utils.IsTimeout(lastErr),
		Err:       lastErr,
	}
	r.log.WithFields(logrus.Fields{"calls": calls, "timeout": netErr.Timeout}).Error(netErr.Error())
	return nil, netErr
}

func (r *Retrier) endpointsFor(endpoints []string, attempt int) []string {
	if r.opts.Strategy == FailoverAll {
		return endpoints
	}
	n := attempt + 1
	if n > len(endpoints) {
		n = len(endpoints)
	}
	return endpoints[:n]
}

// post makes one HTTP call bounded by timeout. The body is read before the deadline is released.
func (r *Retrier) post(ctx context.Context, endpoint string, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("building request for %s: %w", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<16))
		sentinel := utils.ErrOtherHTTPError
		switch {
		case httpResp.StatusCode >= 500:
			sentinel = utils.ErrServerHTTPError
		case httpResp.StatusCode >= 400:
			sentinel = utils.ErrClientHTTPError
		}
		return nil, fmt.Errorf("%w: status %d %s from %s", sentinel, httpResp.StatusCode, http.StatusText(httpResp.StatusCode), endpoint)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	return &Response{Endpoint: endpoint, StatusCode: httpResp.StatusCode, Body: data}, nil
}
