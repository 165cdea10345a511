// Package orchestrate audits several configured projects at once through a shared dispatcher.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/dispatch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Runner runs and resets crawls. *dispatch.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, projectID string) (*dispatch.RunResult, error)
	Reset(ctx context.Context, projectID string) (*models.AuditProject, error)
}

// ProjectResult is the outcome of auditing one configured project
type ProjectResult struct {
	Key       string
	ProjectID string
	SiteURL   string
	Success   bool
	Skipped   bool
	Persisted bool
	Pages     int
	Score     float64
	Error     error
	Duration  time.Duration
}

// Orchestrator runs audits for configured projects, one goroutine each
type Orchestrator struct {
	runner Runner
	store  storage.ProjectStore
	sem    *semaphore.Weighted
	log    *logrus.Entry

	mu      sync.Mutex
	results []ProjectResult
}

// NewOrchestrator creates an Orchestrator allowing maxConcurrent audits at a time
func NewOrchestrator(runner Runner, store storage.ProjectStore, maxConcurrent int, log *logrus.Entry) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		runner: runner,
		store:  store,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		log:    log,
	}
}

// Run audits the projects named by keys and waits for all of them. Results are sorted by key.
func (o *Orchestrator) Run(ctx context.Context, projects map[string]config.ProjectConfig, keys []string) []ProjectResult {
	start := time.Now()
	o.log.Infof("Starting audit of %d projects: %v", len(keys), keys)

	o.mu.Lock()
	o.results = make([]ProjectResult, 0, len(keys))
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.auditProject(ctx, key, projects[key])
			o.mu.Lock()
			o.results = append(o.results, res)
			o.mu.Unlock()
		}()
	}
	wg.Wait()

	o.mu.Lock()
	results := slices.Clone(o.results)
	o.mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })

	o.logSummary(results, time.Since(start))
	return results
}

func (o *Orchestrator) auditProject(ctx context.Context, key string, pc config.ProjectConfig) ProjectResult {
	start := time.Now()
	result := ProjectResult{Key: key, SiteURL: pc.SiteURL}
	log := o.log.WithField("project", key)

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		result.Error = err
		return result
	}
	defer o.sem.Release(1)

	project, err := o.ensureProject(ctx, key, pc)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		log.Errorf("Preparing project failed: %v", err)
		return result
	}
	result.ProjectID = project.ID
	log = log.WithField("project_id", project.ID)

	log.Infof("Auditing %s", pc.SiteURL)
	run, err := o.runner.Run(ctx, project.ID)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		log.WithField("category", utils.CategorizeError(err)).Errorf("Audit failed: %s", utils.UserMessage(err))
		return result
	}

	result.Success = true
	result.Skipped = run.Skipped
	result.Persisted = run.Persisted
	result.Pages = run.Project.TotalPages
	if run.Project.SEOAnalysis != nil {
		result.Score = run.Project.SEOAnalysis.Score
	}
	if run.PersistErr != nil {
		result.Error = run.PersistErr
	}
	return result
}

// ensureProject returns a pending project for key. An unfinished project from an earlier run
// is reset and reused; otherwise a new project is created.
func (o *Orchestrator) ensureProject(ctx context.Context, key string, pc config.ProjectConfig) (*models.AuditProject, error) {
	if pc.SiteURL == "" {
		return nil, fmt.Errorf("%w: project '%s' has no site_url", utils.ErrConfigValidation, key)
	}

	existing, err := o.store.ListAuditProjects(ctx)
	if err != nil {
		return nil, err
	}
	var latest *models.AuditProject
	for i := range existing {
		p := &existing[i]
		if p.Name != key || p.SiteURL != pc.SiteURL {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}

	if latest != nil && latest.Status != models.ProjectStatusCompleted {
		reset, err := o.runner.Reset(ctx, latest.ID)
		if err == nil {
			o.log.WithField("project_id", latest.ID).Infof("Reusing %s project for '%s'", latest.Status, key)
			return reset, nil
		}
		if !errors.Is(err, utils.ErrCrawlInFlight) && !errors.Is(err, utils.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("project '%s' cannot be reused: %w", key, err)
	}

	project := &models.AuditProject{
		ID:        uuid.NewString(),
		Name:      key,
		SiteURL:   pc.SiteURL,
		Status:    models.ProjectStatusPending,
		CrawlMode: pc.Mode,
		MaxPages:  pc.MaxPages,
	}
	if err := o.store.CreateAuditProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (o *Orchestrator) logSummary(results []ProjectResult, total time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Audit run completed in %v", total)

	var pages, ok, failed int
	for _, r := range results {
		status := "SUCCESS"
		switch {
		case !r.Success:
			status = "FAILED"
			failed++
		case r.Skipped:
			status = "SKIPPED"
			ok++
		default:
			ok++
		}
		if r.Success && !r.Persisted {
			status += " (not saved)"
		}
		pages += r.Pages
		o.log.Infof("  %s: %s - %d pages, SEO %.0f, %v", r.Key, status, r.Pages, r.Score, r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d projects (%d success, %d failed), %d pages", len(results), ok, failed, pages)
	o.log.Info("============================================")
}

// ValidateProjectKeys checks that every key names a configured project
func ValidateProjectKeys(cfg *config.AppConfig, keys []string) error {
	for _, key := range keys {
		if _, ok := cfg.Projects[key]; !ok {
			return fmt.Errorf("project '%s' not found. Available projects: %v", key, AllProjectKeys(cfg))
		}
	}
	return nil
}

// AllProjectKeys returns the configured project keys in sorted order
func AllProjectKeys(cfg *config.AppConfig) []string {
	keys := make([]string, 0, len(cfg.Projects))
	for k := range cfg.Projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
