package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// FeatureBrokenLinksCheck gates the link health checker
const FeatureBrokenLinksCheck = "broken_links_check"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './audit_state'")
		c.StateDir = "./audit_state"
	}

	// CacheTTL
	if c.CacheTTL <= 0 {
		c.CacheTTL = 2 * time.Minute
	}

	crawlWarnings, err := c.validateCrawler()
	warnings = append(warnings, crawlWarnings...)
	if err != nil {
		return warnings, err
	}

	warnings = append(warnings, c.validateLinkCheck()...)
	c.validatePageSpeed()
	c.validateProbeServer()
	c.validateContent()

	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 24 * time.Hour
	}

	for key, p := range c.Projects {
		if _, perr := url.ParseRequestURI(p.SiteURL); perr != nil {
			warnings = append(warnings, fmt.Sprintf("project '%s' has invalid site_url '%s', skipping", key, p.SiteURL))
			delete(c.Projects, key)
		}
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

func (c *AppConfig) validateCrawler() (warnings []string, err error) {
	cr := &c.Crawler

	if len(cr.Endpoints) == 0 {
		return warnings, fmt.Errorf("%w: crawler.endpoints must list at least one endpoint", utils.ErrConfigValidation)
	}
	for i, ep := range cr.Endpoints {
		u, perr := url.Parse(ep)
		if perr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return warnings, fmt.Errorf("%w: crawler.endpoints[%d] '%s' is not an http(s) URL", utils.ErrConfigValidation, i, ep)
		}
	}

	if cr.PerAttemptTimeout <= 0 {
		cr.PerAttemptTimeout = 180 * time.Second
	}
	if cr.MaxRetries < 0 {
		warnings = append(warnings, "crawler.max_retries cannot be negative, defaulting to 3")
		cr.MaxRetries = 3
	}
	if cr.MaxRetries == 0 {
		cr.MaxRetries = 3
	}
	if cr.BaseDelay <= 0 {
		cr.BaseDelay = 1 * time.Second
	}

	switch strings.ToLower(cr.Failover) {
	case "", "expanding":
		cr.Failover = "expanding"
	case "all":
		cr.Failover = "all"
	default:
		warnings = append(warnings, fmt.Sprintf("crawler.failover '%s' unknown, defaulting to 'expanding'", cr.Failover))
		cr.Failover = "expanding"
	}

	switch strings.ToLower(cr.Mode) {
	case "":
		cr.Mode = "single"
	case "single", "multipage":
		cr.Mode = strings.ToLower(cr.Mode)
	default:
		warnings = append(warnings, fmt.Sprintf("crawler.mode '%s' unknown, defaulting to 'single'", cr.Mode))
		cr.Mode = "single"
	}
	if cr.MaxPages <= 0 {
		cr.MaxPages = 1
		if cr.Mode == "multipage" {
			cr.MaxPages = 50
		}
	}

	if cr.MaxConcurrentAudits <= 0 {
		cr.MaxConcurrentAudits = 4
	}

	if cr.OriginScheme == "" {
		cr.OriginScheme = "https"
	}
	if cr.OriginScheme == "https" {
		for _, ep := range cr.Endpoints {
			if strings.HasPrefix(ep, "http://") {
				warnings = append(warnings, fmt.Sprintf("crawler endpoint '%s' is insecure and will be rejected for https origins", ep))
			}
		}
	}
	return warnings, nil
}

func (c *AppConfig) validateLinkCheck() (warnings []string) {
	lc := &c.LinkCheck
	if lc.BatchSize <= 0 {
		lc.BatchSize = 50
	}
	if lc.BatchDelay <= 0 {
		lc.BatchDelay = 100 * time.Millisecond
	}
	if lc.TokenTTL <= 0 {
		lc.TokenTTL = 15 * time.Minute
	}
	if lc.Subject == "" {
		lc.Subject = "web-audit"
	}
	if c.HasFeature(FeatureBrokenLinksCheck) {
		if lc.Endpoint == "" {
			warnings = append(warnings, "broken_links_check enabled but link_check.endpoint is empty, every link will be reported broken")
		}
		if lc.TokenSecret == "" {
			warnings = append(warnings, "link_check.token_secret is empty, probes will be sent without a token and reported broken")
		}
	}
	return warnings
}

func (c *AppConfig) validatePageSpeed() {
	ps := &c.PageSpeed
	if ps.APIURL == "" {
		ps.APIURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	}
	if ps.Strategy == "" {
		ps.Strategy = "mobile"
	}
	if ps.Timeout <= 0 {
		ps.Timeout = 60 * time.Second
	}
}

func (c *AppConfig) validateProbeServer() {
	ps := &c.ProbeServer
	if ps.ListenAddr == "" {
		ps.ListenAddr = ":8090"
	}
	if ps.RequestsPerMinute <= 0 {
		ps.RequestsPerMinute = 600
	}
	if ps.MaxRequestsPerHost <= 0 {
		ps.MaxRequestsPerHost = 4
	}
	if ps.UserAgent == "" {
		ps.UserAgent = "web-audit-linkcheck/1.0"
	}
	if ps.ProbeTimeout <= 0 {
		ps.ProbeTimeout = 15 * time.Second
	}
}

func (c *AppConfig) validateContent() {
	ct := &c.Content
	if ct.TokenizerEncoding == "" {
		ct.TokenizerEncoding = "cl100k_base"
	}
	if ct.MaxChunkTokens <= 0 {
		ct.MaxChunkTokens = 512
	}
	if ct.ChunkOverlap < 0 || ct.ChunkOverlap >= ct.MaxChunkTokens {
		ct.ChunkOverlap = 50
	}
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 10
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.UserAgent == "" {
		h.UserAgent = "web-audit/1.0"
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
