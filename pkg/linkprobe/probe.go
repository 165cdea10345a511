package linkprobe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// maxGetBytes caps how much of a GET fallback body is read before the connection is dropped
const maxGetBytes = 64 << 10

// Outcome is the probe verdict for one target URL
type Outcome struct {
	StatusCode int
	Method     string
	Broken     bool
	Err        error
}

// Prober checks target URLs directly, politely and with bounded concurrency per host
type Prober struct {
	client    *http.Client
	hosts     *fetch.HostSemaphorePool
	limiter   *fetch.RateLimiter
	robots    *fetch.RobotsHandler // nil ignores robots.txt
	userAgent string
	cfg       config.ProbeServerConfig
	log       *logrus.Entry
}

// NewProber wires a Prober. robots may be nil.
func NewProber(client *http.Client, hosts *fetch.HostSemaphorePool, limiter *fetch.RateLimiter, robots *fetch.RobotsHandler, cfg config.ProbeServerConfig, log *logrus.Entry) *Prober {
	return &Prober{
		client:    client,
		hosts:     hosts,
		limiter:   limiter,
		robots:    robots,
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		log:       log,
	}
}

// Check probes target with HEAD, falling back to GET when the server rejects HEAD
// and robots.txt allows fetching the page.
func (p *Prober) Check(ctx context.Context, target string) Outcome {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Outcome{Broken: true, Err: fmt.Errorf("%w: invalid URL %q", utils.ErrParsing, target)}
	}
	host := u.Hostname()
	probeLog := p.log.WithFields(logrus.Fields{"url": target, "host": host})

	if !p.cfg.AllowPrivateTargets {
		if err := fetch.CheckPublicHost(host); err != nil {
			probeLog.Debug("Refusing internal target")
			return Outcome{Broken: true, Err: err}
		}
	}

	var out Outcome
	err = p.hosts.WithHost(ctx, host, func() error {
		status, err := p.request(ctx, http.MethodHead, u)
		out = Outcome{StatusCode: status, Method: http.MethodHead, Err: err}
		if err != nil || (status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented) {
			return nil
		}

		if p.robots != nil && !p.robots.TestAgent(ctx, u) {
			probeLog.Debug("HEAD rejected and robots.txt disallows GET, treating response as alive")
			return nil
		}
		status, err = p.request(ctx, http.MethodGet, u)
		out = Outcome{StatusCode: status, Method: http.MethodGet, Err: err}
		return nil
	})
	if err != nil {
		return Outcome{Broken: true, Err: err}
	}

	switch {
	case out.Err != nil:
		out.Broken = true
	case out.Method == http.MethodHead && (out.StatusCode == http.StatusMethodNotAllowed || out.StatusCode == http.StatusNotImplemented):
		out.Broken = false
	default:
		out.Broken = out.StatusCode >= 400
	}
	probeLog.WithFields(logrus.Fields{"method": out.Method, "status": out.StatusCode, "broken": out.Broken}).Debug("Probed link")
	return out
}

func (p *Prober) request(ctx context.Context, method string, u *url.URL) (int, error) {
	host := u.Hostname()
	if err := p.limiter.ApplyDelay(ctx, host, p.cfg.DelayPerHost); err != nil {
		return 0, err
	}
	defer p.limiter.UpdateLastRequestTime(host)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return 0, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxGetBytes))
	resp.Body.Close()
	return resp.StatusCode, nil
}
