package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// maxRobotsBytes caps the robots.txt body read per host
const maxRobotsBytes = 512 << 10

// RobotsHandler fetches, caches and evaluates robots.txt rules per host
type RobotsHandler struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	userAgent   string
	robotsCache map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = unavailable)
	robotsMu    sync.Mutex
	log         *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. rateLimiter may be nil.
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		userAgent:   userAgent,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// GetRobotsData returns robots.txt rules for the target's host, fetching on first use.
// Returns nil when the file is missing, unreachable or unparsable; the nil result is cached too.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Host

	rh.robotsMu.Lock()
	data, found := rh.robotsCache[host]
	rh.robotsMu.Unlock()
	if found {
		return data
	}

	data = rh.fetchRobots(ctx, targetURL)
	// A cancelled fetch says nothing about the host, so it is not cached
	if ctx.Err() != nil {
		return data
	}

	rh.robotsMu.Lock()
	rh.robotsCache[host] = data
	rh.robotsMu.Unlock()
	return data
}

func (rh *RobotsHandler) fetchRobots(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	scheme := targetURL.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: targetURL.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)

	if rh.rateLimiter != nil {
		if err := rh.rateLimiter.ApplyDelay(ctx, targetURL.Hostname(), 0); err != nil {
			return nil
		}
	}

	header := http.Header{}
	header.Set("User-Agent", rh.userAgent)
	resp, err := rh.fetcher.Get(ctx, robotsURL, header)
	if rh.rateLimiter != nil {
		rh.rateLimiter.UpdateLastRequestTime(targetURL.Hostname())
	}
	if err != nil {
		if resp != nil {
			drain(resp)
		}
		robotsLog.Debugf("robots.txt unavailable: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		robotsLog.Warnf("Error reading robots.txt: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Debug("Parsed robots.txt")
	return data
}

// TestAgent reports whether the handler's user agent may fetch targetURL.
// Missing or broken robots.txt means allowed.
func (rh *RobotsHandler) TestAgent(ctx context.Context, targetURL *url.URL) bool {
	data := rh.GetRobotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), rh.userAgent)
}
