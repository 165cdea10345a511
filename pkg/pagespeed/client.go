// Package pagespeed queries the PageSpeed Insights v5 API for a performance snapshot of a site.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Lighthouse audit ids copied into PageSpeedResult.Metrics, keyed by the short name stored
var coreMetrics = map[string]string{
	"first-contentful-paint":   "fcp_ms",
	"largest-contentful-paint": "lcp_ms",
	"total-blocking-time":      "tbt_ms",
	"cumulative-layout-shift":  "cls",
	"speed-index":              "speed_index_ms",
	"interactive":              "tti_ms",
	"server-response-time":     "ttfb_ms",
}

// Runner is what the dispatcher needs from a PageSpeed client
type Runner interface {
	Run(ctx context.Context, siteURL string) (*models.PageSpeedResult, error)
}

// Client calls the PageSpeed Insights API
type Client struct {
	fetcher *fetch.Fetcher
	cfg     config.PageSpeedConfig
	log     *logrus.Entry
	now     func() time.Time
}

// NewClient creates a PageSpeed client on top of a retrying fetcher
func NewClient(fetcher *fetch.Fetcher, cfg config.PageSpeedConfig, log *logrus.Entry) *Client {
	return &Client{fetcher: fetcher, cfg: cfg, log: log, now: time.Now}
}

type apiResponse struct {
	ID               string `json:"id"`
	LighthouseResult struct {
		FinalURL   string `json:"finalUrl"`
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]struct {
			NumericValue *float64 `json:"numericValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// Run executes one PageSpeed analysis for siteURL
func (c *Client) Run(ctx context.Context, siteURL string) (*models.PageSpeedResult, error) {
	endpoint, err := url.Parse(c.cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("%w: pagespeed api url: %w", utils.ErrParsing, err)
	}
	q := endpoint.Query()
	q.Set("url", siteURL)
	q.Set("strategy", c.cfg.Strategy)
	q.Set("category", "performance")
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	endpoint.RawQuery = q.Encode()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.log.WithField("url", siteURL).Debug("Requesting PageSpeed Insights")
	resp, err := c.fetcher.Get(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("pagespeed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading pagespeed response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: pagespeed JSON: %w", utils.ErrParsing, err)
	}
	score := parsed.LighthouseResult.Categories.Performance.Score
	if score == nil {
		return nil, fmt.Errorf("%w: pagespeed JSON has no performance score", utils.ErrParsing)
	}

	result := &models.PageSpeedResult{
		URL:              siteURL,
		Strategy:         c.cfg.Strategy,
		PerformanceScore: math.Round(*score * 100),
		Metrics:          make(map[string]float64),
		FetchedAt:        c.now().UTC(),
	}
	for auditID, name := range coreMetrics {
		if a, ok := parsed.LighthouseResult.Audits[auditID]; ok && a.NumericValue != nil {
			result.Metrics[name] = *a.NumericValue
		}
	}
	return result, nil
}
