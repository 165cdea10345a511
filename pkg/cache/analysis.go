// Package cache holds recently loaded audit projects and their pages so repeated views
// do not hit persistence more often than the staleness window allows.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
)

// DefaultTTL is how long an entry stays fresh
const DefaultTTL = 2 * time.Minute

// Entry is a cached project with its pages
type Entry struct {
	Project       *models.AuditProject
	Pages         []models.ScrapedPage
	LastFetchTime time.Time
}

// AnalysisCache maps project ids to entries. It never refreshes on its own.
type AnalysisCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache. A nil clock uses time.Now; a non-positive ttl uses DefaultTTL.
func New(ttl time.Duration, now func() time.Time) *AnalysisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &AnalysisCache{entries: make(map[string]*Entry), ttl: ttl, now: now}
}

// Get returns the entry for projectID, or nil
func (c *AnalysisCache) Get(projectID string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[projectID]
}

// Set stores project and pages stamped with the current time
func (c *AnalysisCache) Set(projectID string, project *models.AuditProject, pages []models.ScrapedPage) *Entry {
	e := &Entry{Project: project, Pages: pages, LastFetchTime: c.now()}
	c.mu.Lock()
	c.entries[projectID] = e
	c.mu.Unlock()
	return e
}

// IsStale reports whether e is missing or older than the TTL
func (c *AnalysisCache) IsStale(e *Entry) bool {
	if e == nil {
		return true
	}
	return c.now().Sub(e.LastFetchTime) > c.ttl
}

// Invalidate drops projectID so the next read goes to persistence
func (c *AnalysisCache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

// Len returns the number of cached projects
func (c *AnalysisCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Refresher reloads cache entries from persistence on demand
type Refresher struct {
	cache *AnalysisCache
	store storage.Persistence
	log   *logrus.Entry
}

// NewRefresher creates a Refresher
func NewRefresher(cache *AnalysisCache, store storage.Persistence, log *logrus.Entry) *Refresher {
	return &Refresher{cache: cache, store: store, log: log}
}

// Load returns a fresh entry, reading persistence only when the cached one is missing or stale
func (r *Refresher) Load(ctx context.Context, projectID string) (*Entry, error) {
	e, _, err := r.OnFocus(ctx, projectID)
	return e, err
}

// OnFocus handles a view regaining focus. It reloads only when the entry is missing or stale
// and reports whether persistence was read.
func (r *Refresher) OnFocus(ctx context.Context, projectID string) (*Entry, bool, error) {
	if e := r.cache.Get(projectID); !r.cache.IsStale(e) {
		return e, false, nil
	}

	project, err := r.store.GetAuditProject(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("refreshing project: %w", err)
	}
	pages, err := r.store.GetScrapedPages(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("refreshing pages: %w", err)
	}
	r.log.WithFields(logrus.Fields{"project_id": projectID, "pages": len(pages)}).Debug("Analysis cache refreshed")
	return r.cache.Set(projectID, project, pages), true, nil
}
