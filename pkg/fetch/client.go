package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
)

// maxRedirects is how many redirects a PageSpeed, robots or probe request may follow
const maxRedirects = 10

// userAgentTransport sets a default User-Agent on requests that carry none
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewClient creates the shared HTTP client used for crawl dispatch, PageSpeed and link probes.
// cfg.Timeout bounds every request; crawl dispatch copies the client with Timeout 0 and relies
// on its per-attempt context deadline instead.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}
	proxy := http.ProxyFromEnvironment
	if cfg.DenyPrivateNetworks {
		dialer.Control = denyPrivateControl
		proxy = nil // A proxy would dial the target on our behalf, past the guard
	}
	transport := &http.Transport{
		Proxy:                  proxy,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      config.EffectiveFlag(cfg.ForceAttemptHTTP2),
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: cfg.UserAgent}
	}

	log.WithFields(logrus.Fields{
		"timeout":        cfg.Timeout,
		"max_idle_conns": cfg.MaxIdleConns,
		"user_agent":     cfg.UserAgent,
		"deny_private":   cfg.DenyPrivateNetworks,
	}).Debug("HTTP client initialized")

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
