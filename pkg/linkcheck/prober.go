package linkcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// ProbeRequest is the body of POST /api/check-link
type ProbeRequest struct {
	URL string `json:"url"`
}

// ProbeResponse is the reply of POST /api/check-link
type ProbeResponse struct {
	IsBroken   bool   `json:"isBroken"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the verdict for one URL
type Result struct {
	URL          string
	IsBroken     bool
	StatusCode   int  // Target's status as reported by the probe endpoint, 0 if unknown
	AccessDenied bool // Probe endpoint answered 403
	Err          error
}

// Prober decides whether a URL is broken. Implementations never fail: errors produce a broken result.
type Prober interface {
	Probe(ctx context.Context, url string) Result
}

// HTTPProber calls the server-side probe endpoint
type HTTPProber struct {
	client   *http.Client
	endpoint string
	tokens   *TokenSource
	log      *logrus.Entry
}

// NewHTTPProber creates a prober for endpoint. A nil token source makes every probe broken.
func NewHTTPProber(client *http.Client, endpoint string, tokens *TokenSource, log *logrus.Entry) *HTTPProber {
	return &HTTPProber{client: client, endpoint: endpoint, tokens: tokens, log: log}
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context, target string) Result {
	res := Result{URL: target, IsBroken: true}

	if p.endpoint == "" {
		res.Err = fmt.Errorf("%w: no link check endpoint configured", utils.ErrConfigValidation)
		return res
	}
	token, err := p.tokens.Token()
	if err != nil {
		res.Err = err
		return res
	}

	body, err := json.Marshal(ProbeRequest{URL: target})
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", utils.ErrSerialization, err)
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		res.AccessDenied = true
		res.Err = fmt.Errorf("%w: probe endpoint denied access", utils.ErrUnauthorized)
		return res
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		res.Err = fmt.Errorf("%w: probe endpoint returned %d", utils.ErrOtherHTTPError, resp.StatusCode)
		return res
	}

	var out ProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		res.Err = fmt.Errorf("%w: probe JSON: %w", utils.ErrParsing, err)
		return res
	}
	res.IsBroken = out.IsBroken
	res.StatusCode = out.StatusCode
	return res
}
