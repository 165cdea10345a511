// Package linkcheck probes discovered links in fixed-size batches and writes their health
// back onto the owning pages.
package linkcheck

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/retry"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// FeatureGate reports entitlements. *config.AppConfig satisfies it.
type FeatureGate interface {
	HasFeature(id string) bool
}

// Progress is emitted once per finished batch and once more when the run ends
type Progress struct {
	Batch      int                          // 1-based; 0 on the final message
	Batches    int                          // Total number of batches
	Checked    int                          // Distinct URLs checked so far
	Total      int                          // Distinct URLs in the run
	Broken     int                          // Broken URLs so far
	Statuses   map[string]models.LinkStatus // Cumulative, a copy owned by the receiver
	Results    []Result                     // This batch only
	PersistErr error                        // Write-back failure for this batch, if any
	Done       bool                         // Last message of the run
	Err        error                        // Set on the final message when the run was cancelled
}

// Checker runs batched link health checks
type Checker struct {
	prober    Prober
	store     storage.PageStore
	gate      FeatureGate
	batchSize int
	delay     time.Duration
	sleep     retry.SleepFunc
	log       *logrus.Entry
}

// NewChecker creates a Checker. store may be nil to skip write-back.
func NewChecker(prober Prober, store storage.PageStore, gate FeatureGate, cfg config.LinkCheckConfig, log *logrus.Entry) *Checker {
	c := &Checker{
		prober:    prober,
		store:     store,
		gate:      gate,
		batchSize: cfg.BatchSize,
		delay:     cfg.BatchDelay,
		sleep:     retry.ContextSleep,
		log:       log,
	}
	if c.batchSize <= 0 {
		c.batchSize = 50
	}
	return c
}

// WithSleep replaces the pause between batches, used by tests
func (c *Checker) WithSleep(sleep retry.SleepFunc) *Checker {
	c.sleep = sleep
	return c
}

func (c *Checker) allowed() error {
	if c.gate == nil || !c.gate.HasFeature(config.FeatureBrokenLinksCheck) {
		return fmt.Errorf("%w: %s", utils.ErrFeatureUnavailable, config.FeatureBrokenLinksCheck)
	}
	return nil
}

// CheckProject checks every link on every page of projectID
func (c *Checker) CheckProject(ctx context.Context, projectID string) (<-chan Progress, error) {
	if err := c.allowed(); err != nil {
		return nil, err
	}
	if c.store == nil {
		return nil, fmt.Errorf("%w: no page store configured", utils.ErrPersistence)
	}
	pages, err := c.store.GetScrapedPages(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading pages: %w", err)
	}
	var links []models.LinkRecord
	for _, p := range pages {
		links = append(links, p.Links...)
	}
	return c.checkAll(ctx, projectID, links, pages), nil
}

// CheckAll probes links and streams progress after each batch. Without the broken_links_check
// feature it returns ErrFeatureUnavailable and makes no requests.
// The channel is buffered for the whole run and closed when the run ends.
func (c *Checker) CheckAll(ctx context.Context, projectID string, links []models.LinkRecord) (<-chan Progress, error) {
	if err := c.allowed(); err != nil {
		return nil, err
	}
	return c.checkAll(ctx, projectID, links, nil), nil
}

func (c *Checker) checkAll(ctx context.Context, projectID string, links []models.LinkRecord, pages []models.ScrapedPage) <-chan Progress {
	urls := distinctURLs(links)
	batches := partition(urls, c.batchSize)
	out := make(chan Progress, len(batches)+1)

	go func() {
		defer close(out)
		c.run(ctx, projectID, batches, len(urls), pages, out)
	}()
	return out
}

func (c *Checker) run(ctx context.Context, projectID string, batches [][]string, total int, pages []models.ScrapedPage, out chan<- Progress) {
	runLog := c.log.WithFields(logrus.Fields{"project_id": projectID, "links": total, "batches": len(batches)})
	runLog.Info("Starting link health check")

	statuses := make(map[string]models.LinkStatus, total)
	checked, broken := 0, 0
	writer := &pageWriter{store: c.store, projectID: projectID, pages: pages}

	final := func(err error) {
		out <- Progress{
			Batches:  len(batches),
			Checked:  checked,
			Total:    total,
			Broken:   broken,
			Statuses: maps.Clone(statuses),
			Done:     true,
			Err:      err,
		}
	}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			runLog.Warnf("Link check cancelled after %d of %d batches", i, len(batches))
			final(err)
			return
		}

		results := c.probeBatch(ctx, batch)
		if err := ctx.Err(); err != nil {
			// Probes aborted by cancellation say nothing about the links.
			runLog.Warnf("Link check cancelled during batch %d of %d", i+1, len(batches))
			final(err)
			return
		}
		batchStatus := make(map[string]models.LinkStatus, len(results))
		for _, r := range results {
			status := models.LinkStatusWorking
			if r.IsBroken {
				status = models.LinkStatusBroken
				broken++
			}
			statuses[r.URL] = status
			batchStatus[r.URL] = status
			if r.AccessDenied {
				runLog.WithField("url", r.URL).Debug("Probe endpoint denied access, counting link as broken")
			}
		}
		checked += len(results)

		persistErr := writer.apply(ctx, batchStatus)
		if persistErr != nil {
			runLog.WithField("batch", i+1).Errorf("Saving link statuses failed, continuing: %v", persistErr)
		}

		out <- Progress{
			Batch:      i + 1,
			Batches:    len(batches),
			Checked:    checked,
			Total:      total,
			Broken:     broken,
			Statuses:   maps.Clone(statuses),
			Results:    results,
			PersistErr: persistErr,
		}
		runLog.WithFields(logrus.Fields{"batch": i + 1, "checked": checked, "broken": broken}).Debug("Batch complete")

		if i < len(batches)-1 && c.delay > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				runLog.Warnf("Link check cancelled after %d of %d batches", i+1, len(batches))
				final(err)
				return
			}
		}
	}

	runLog.WithFields(logrus.Fields{"checked": checked, "broken": broken}).Info("Link health check finished")
	final(nil)
}

// probeBatch probes every URL of batch concurrently and returns results in batch order
func (c *Checker) probeBatch(ctx context.Context, batch []string) []Result {
	results := make([]Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batch))
	for i, u := range batch {
		g.Go(func() error {
			results[i] = c.prober.Probe(gctx, u)
			return nil
		})
	}
	g.Wait()
	return results
}

func distinctURLs(links []models.LinkRecord) []string {
	seen := make(map[string]struct{}, len(links))
	urls := make([]string, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		urls = append(urls, l.URL)
	}
	return urls
}

func partition(urls []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batches = append(batches, urls[start:end])
	}
	return batches
}
