package storage

import (
	"context"
	"time"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// ProjectStore persists audit projects
type ProjectStore interface {
	// CreateAuditProject stores a new project. Fails if the id already exists.
	CreateAuditProject(ctx context.Context, project *models.AuditProject) error

	// GetAuditProject returns the project or an error wrapping utils.ErrNotFound
	GetAuditProject(ctx context.Context, id string) (*models.AuditProject, error)

	// UpdateAuditProject applies patch and returns the updated project
	UpdateAuditProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.AuditProject, error)

	// ListAuditProjects returns all projects ordered by creation time
	ListAuditProjects(ctx context.Context) ([]models.AuditProject, error)
}

// PageStore persists scraped pages
type PageStore interface {
	// CreateScrapedPages stores pages in bulk
	CreateScrapedPages(ctx context.Context, pages []models.ScrapedPage) error

	// GetScrapedPages returns a project's pages in scan order
	GetScrapedPages(ctx context.Context, projectID string) ([]models.ScrapedPage, error)

	// UpdatePageLinks replaces the full link array of one page, leaving every other field intact
	UpdatePageLinks(ctx context.Context, projectID, pageID string, links []models.LinkRecord) error

	// DeleteScrapedPages removes all pages of a project and returns how many were removed
	DeleteScrapedPages(ctx context.Context, projectID string) (int, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Persistence is everything the audit pipeline reads and writes
type Persistence interface {
	ProjectStore
	PageStore
}

// Store combines persistence with lifecycle management
type Store interface {
	Persistence
	StoreAdmin
}
