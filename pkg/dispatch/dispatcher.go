// Package dispatch runs one crawl per audit project: it sends the crawl request, normalizes the
// response, persists pages and the project summary, and triggers SEO and PageSpeed analysis.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/detect"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/normalize"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/pagespeed"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/seo"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Crawler sends the crawl request to the scraping service
type Crawler interface {
	RequestWithFailover(ctx context.Context, endpoints []string, payload any, perAttemptTimeout time.Duration, maxRetries int) (*fetch.Response, error)
}

// progress values written while a crawl is running
const (
	progressDispatched = 10
	progressCrawled    = 60
	progressDone       = 100
)

// RunResult is the outcome of a crawl run. Project always reflects the computed state,
// even when the durable write failed.
type RunResult struct {
	Project    *models.AuditProject
	Pages      []models.ScrapedPage
	Patch      models.ProjectPatch
	SEOSource  string // Which HTMLSource fed the SEO analyzer
	Skipped    bool   // Project was already completed; nothing ran
	Persisted  bool
	PersistErr error // Wraps utils.ErrPersistence when Persisted is false
}

// Dispatcher runs crawls. Safe for concurrent use across projects.
type Dispatcher struct {
	store     storage.Persistence
	crawler   Crawler
	pageSpeed pagespeed.Runner // nil disables PageSpeed
	analyzer  seo.Analyzer
	detector  *detect.Detector
	registry  *Registry
	sources   []HTMLSource
	cfg       config.CrawlerConfig
	log       *logrus.Entry
	now       func() time.Time

	background sync.WaitGroup
}

// Options wires a Dispatcher's collaborators
type Options struct {
	Store     storage.Persistence
	Crawler   Crawler
	PageSpeed pagespeed.Runner
	Analyzer  seo.Analyzer
	Detector  *detect.Detector
	Registry  *Registry
	Sources   []HTMLSource
	Config    config.CrawlerConfig
}

// New creates a Dispatcher. Registry, Analyzer, Detector and Sources get defaults when unset.
func New(opts Options, log *logrus.Entry) *Dispatcher {
	d := &Dispatcher{
		store:     opts.Store,
		crawler:   opts.Crawler,
		pageSpeed: opts.PageSpeed,
		analyzer:  opts.Analyzer,
		detector:  opts.Detector,
		registry:  opts.Registry,
		sources:   opts.Sources,
		cfg:       opts.Config,
		log:       log,
		now:       time.Now,
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.analyzer == nil {
		d.analyzer = seo.NewBasicAnalyzer()
	}
	if d.detector == nil {
		d.detector = detect.NewDetector(log)
	}
	if d.sources == nil {
		d.sources = DefaultSources(opts.Config.SEOPlaceholderTemplate)
	}
	return d
}

// Registry exposes the in-flight registry
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Wait blocks until background PageSpeed runs have finished
func (d *Dispatcher) Wait() { d.background.Wait() }

// CrawlRequest builds the payload sent to the scraping service for project
func (d *Dispatcher) CrawlRequest(project *models.AuditProject) models.CrawlRequest {
	mode := models.CrawlMode(d.cfg.Mode)
	if project.CrawlMode != "" {
		mode = models.CrawlMode(project.CrawlMode)
	}
	if mode == "" {
		mode = models.CrawlModeSingle
	}
	maxPages := d.cfg.MaxPages
	if project.MaxPages > 0 {
		maxPages = project.MaxPages
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	return models.CrawlRequest{
		URL:                    project.SiteURL,
		Mode:                   mode,
		MaxPages:               maxPages,
		ExtractImagesFlag:      config.EffectiveFlag(d.cfg.ExtractImages),
		ExtractLinksFlag:       config.EffectiveFlag(d.cfg.ExtractLinks),
		DetectTechnologiesFlag: config.EffectiveFlag(d.cfg.DetectTechnologies),
	}
}

// Run crawls projectID. The project must be pending; a completed project is skipped.
//
// Crawl failures leave the project in_progress with an error message so it can be Reset.
// A summary that cannot be serialized marks the project failed. Persistence failures after a
// successful crawl are reported through RunResult rather than as an error.
func (d *Dispatcher) Run(ctx context.Context, projectID string) (*RunResult, error) {
	runLog := d.log.WithField("project_id", projectID)

	project, skip, err := d.runnable(ctx, projectID)
	if err != nil || skip != nil {
		return skip, err
	}

	tok, err := d.registry.Acquire(projectID)
	if err != nil {
		return nil, err
	}
	defer d.registry.Release(tok)

	// Another run may have finished between the first check and Acquire.
	project, skip, err = d.runnable(ctx, projectID)
	if err != nil || skip != nil {
		return skip, err
	}

	start := d.now()
	runLog.WithField("owner", tok.Owner).Info("Dispatching crawl")

	startPatch := models.ProjectPatch{
		Status:       models.Ptr(models.ProjectStatusInProgress),
		Progress:     models.Ptr(progressDispatched),
		ErrorMessage: models.Ptr(""),
	}
	if d.pageSpeed != nil {
		startPatch.PageSpeedLoading = models.Ptr(true)
		startPatch.PageSpeedError = models.Ptr("")
	}
	if updated, err := d.store.UpdateAuditProject(ctx, projectID, startPatch); err != nil {
		runLog.Warnf("Could not mark project in progress: %v", err)
		project.Apply(startPatch)
	} else {
		project = updated
	}

	if d.pageSpeed != nil {
		d.runPageSpeed(ctx, project.ID, project.SiteURL, runLog)
	}

	resp, err := d.crawl(ctx, project, runLog)
	if err != nil {
		msg := utils.UserMessage(err)
		if _, perr := d.store.UpdateAuditProject(context.WithoutCancel(ctx), projectID, models.ProjectPatch{ErrorMessage: &msg}); perr != nil {
			runLog.Warnf("Could not record crawl error: %v", perr)
		}
		runLog.WithField("category", utils.CategorizeError(err)).Errorf("Crawl failed: %v", err)
		return nil, err
	}

	if err := d.registry.Advance(tok, StateNormalizing); err != nil {
		return nil, err
	}
	site, err := normalize.NewSite(project.SiteURL)
	if err != nil {
		return nil, d.fail(ctx, projectID, runLog, err)
	}
	now := d.now()
	pages := normalize.BuildPages(projectID, site, resp, now)
	patch, err := normalize.BuildProjectSummary(resp, pages, d.detector, now)
	if err != nil {
		return nil, d.fail(ctx, projectID, runLog, err)
	}
	patch.Status = models.Ptr(models.ProjectStatusCompleted)
	patch.Progress = models.Ptr(progressDone)

	if err := d.registry.Advance(tok, StatePersisting); err != nil {
		return nil, err
	}
	result := &RunResult{Project: project, Pages: pages, Patch: patch}
	d.persist(ctx, result, runLog)

	if err := d.registry.Advance(tok, StateAnalyzing); err != nil {
		return nil, err
	}
	d.analyzeSEO(ctx, result, runLog)

	runLog.WithFields(logrus.Fields{
		"pages":     len(pages),
		"persisted": result.Persisted,
		"duration":  d.now().Sub(start),
	}).Info("Crawl finished")
	return result, nil
}

// runnable loads the project and checks it can be crawled. A completed project yields a skip result.
func (d *Dispatcher) runnable(ctx context.Context, projectID string) (*models.AuditProject, *RunResult, error) {
	project, err := d.store.GetAuditProject(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading project: %w", err)
	}
	switch project.Status {
	case models.ProjectStatusPending:
		return project, nil, nil
	case models.ProjectStatusCompleted:
		d.log.WithField("project_id", projectID).Info("Project already completed, skipping crawl")
		return nil, &RunResult{Project: project, Skipped: true, Persisted: true}, nil
	}
	return nil, nil, fmt.Errorf("%w: project %s is %s", utils.ErrInvalidTransition, projectID, project.Status)
}

func (d *Dispatcher) crawl(ctx context.Context, project *models.AuditProject, log *logrus.Entry) (*models.CrawlResponse, error) {
	req := d.CrawlRequest(project)
	log.WithFields(logrus.Fields{"mode": req.Mode, "max_pages": req.MaxPages}).Debug("Sending crawl request")

	raw, err := d.crawler.RequestWithFailover(ctx, d.cfg.Endpoints, req, d.cfg.PerAttemptTimeout, d.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"endpoint": raw.Endpoint, "attempts": raw.Attempts}).Debug("Crawl response received")

	var resp models.CrawlResponse
	if err := raw.DecodeJSON(&resp); err != nil {
		return nil, err
	}
	if _, err := d.store.UpdateAuditProject(ctx, project.ID, models.ProjectPatch{Progress: models.Ptr(progressCrawled)}); err != nil {
		log.Warnf("Could not record crawl progress: %v", err)
	}
	return &resp, nil
}

// fail marks the project failed and returns err
func (d *Dispatcher) fail(ctx context.Context, projectID string, log *logrus.Entry, err error) error {
	msg := utils.UserMessage(err)
	patch := models.ProjectPatch{Status: models.Ptr(models.ProjectStatusFailed), ErrorMessage: &msg}
	if _, perr := d.store.UpdateAuditProject(context.WithoutCancel(ctx), projectID, patch); perr != nil {
		log.Warnf("Could not mark project failed: %v", perr)
	}
	log.WithField("category", utils.CategorizeError(err)).Errorf("Normalization failed: %v", err)
	return err
}

// persist writes pages then the project patch. On failure the in-memory project is still
// updated so callers see the computed result.
func (d *Dispatcher) persist(ctx context.Context, result *RunResult, log *logrus.Entry) {
	projectID := result.Project.ID

	if _, err := d.store.DeleteScrapedPages(ctx, projectID); err != nil {
		d.persistFailed(result, log, fmt.Errorf("clearing previous pages: %w", err))
		return
	}
	if err := d.store.CreateScrapedPages(ctx, result.Pages); err != nil {
		d.persistFailed(result, log, fmt.Errorf("saving %d pages: %w", len(result.Pages), err))
		return
	}
	updated, err := d.store.UpdateAuditProject(ctx, projectID, result.Patch)
	if err != nil {
		d.persistFailed(result, log, fmt.Errorf("saving project summary: %w", err))
		return
	}
	result.Project = updated
	result.Persisted = true
	result.PersistErr = nil
}

func (d *Dispatcher) persistFailed(result *RunResult, log *logrus.Entry, err error) {
	result.Persisted = false
	result.PersistErr = fmt.Errorf("%w: %w", utils.ErrPersistence, err)
	result.Project.Apply(result.Patch)
	log.WithField("category", utils.CategorizeError(result.PersistErr)).Errorf("Persisting crawl result failed, keeping in-memory state: %v", err)
}

// Reconcile retries the durable write of a result whose persistence failed
func (d *Dispatcher) Reconcile(ctx context.Context, result *RunResult) error {
	if result == nil || result.Persisted {
		return nil
	}
	log := d.log.WithField("project_id", result.Project.ID)
	patch := result.Patch
	if result.Project.SEOAnalysis != nil {
		patch.SEOAnalysis = result.Project.SEOAnalysis
	}
	result.Patch = patch
	d.persist(ctx, result, log)
	if !result.Persisted {
		return result.PersistErr
	}
	log.Info("Reconciled crawl result with storage")
	return nil
}

func (d *Dispatcher) analyzeSEO(ctx context.Context, result *RunResult, log *logrus.Entry) {
	in := SourceInput{Project: result.Project, Pages: result.Pages, Store: d.store, Log: log}
	html, source := resolveHTML(ctx, d.sources, in)
	result.SEOSource = source
	if html == "" {
		log.Warn("No HTML available for SEO analysis")
		return
	}

	analysis, err := d.analyzer.Analyze(html, result.Project.SiteURL)
	if err != nil {
		log.Warnf("SEO analysis failed: %v", err)
		return
	}
	analysis.Placeholder = source == SourcePlaceholder
	log.WithFields(logrus.Fields{"source": source, "score": analysis.Score}).Debug("SEO analysis complete")

	result.Project.SEOAnalysis = analysis
	if !result.Persisted {
		return
	}
	updated, err := d.store.UpdateAuditProject(ctx, result.Project.ID, models.ProjectPatch{SEOAnalysis: analysis})
	if err != nil {
		result.Persisted = false
		result.PersistErr = fmt.Errorf("%w: saving SEO analysis: %w", utils.ErrPersistence, err)
		log.Errorf("Persisting SEO analysis failed: %v", err)
		return
	}
	result.Project = updated
}

// runPageSpeed starts a PageSpeed run that records its outcome on the project when done
func (d *Dispatcher) runPageSpeed(ctx context.Context, projectID, siteURL string, log *logrus.Entry) {
	d.background.Add(1)
	go func() {
		defer d.background.Done()

		res, err := d.pageSpeed.Run(ctx, siteURL)
		patch := models.ProjectPatch{PageSpeedLoading: models.Ptr(false)}
		if err != nil {
			log.Warnf("PageSpeed run failed: %v", err)
			patch.PageSpeedError = models.Ptr(err.Error())
		} else {
			patch.PageSpeedData = res
			patch.PageSpeedError = models.Ptr("")
		}
		if _, err := d.store.UpdateAuditProject(context.WithoutCancel(ctx), projectID, patch); err != nil {
			log.Warnf("Could not record PageSpeed result: %v", err)
		}
	}()
}

// Reset puts a failed or stalled project back to pending so it can be run again
func (d *Dispatcher) Reset(ctx context.Context, projectID string) (*models.AuditProject, error) {
	if tok, ok := d.registry.InFlight(projectID); ok {
		return nil, fmt.Errorf("%w: project %s is %s", utils.ErrCrawlInFlight, projectID, tok.State)
	}
	project, err := d.store.GetAuditProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status == models.ProjectStatusPending {
		return project, nil
	}
	if !project.Status.CanTransition(models.ProjectStatusPending) {
		return nil, fmt.Errorf("%w: cannot reset %s project %s", utils.ErrInvalidTransition, project.Status, projectID)
	}

	updated, err := d.store.UpdateAuditProject(ctx, projectID, models.ProjectPatch{
		Status:       models.Ptr(models.ProjectStatusPending),
		Progress:     models.Ptr(0),
		ErrorMessage: models.Ptr(""),
	})
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrPersistence, err)
	}
	d.log.WithField("project_id", projectID).Infof("Project reset from %s to pending", project.Status)
	return updated, nil
}
