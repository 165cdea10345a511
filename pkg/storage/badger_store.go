package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/log"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

const (
	projectKeyPrefix = "project:" // project:<projectID>
	pageKeyPrefix    = "page:"    // page:<projectID>:<pageID>
	auditDBDir       = "audit_db" // Subdirectory name within stateDir for Badger DB files
)

func projectKey(id string) []byte { return []byte(projectKeyPrefix + id) }

func pagePrefix(projectID string) []byte { return []byte(pageKeyPrefix + projectID + ":") }

func pageKey(projectID, pageID string) []byte {
	return []byte(pageKeyPrefix + projectID + ":" + pageID)
}

// BadgerStore implements Store using BadgerDB with JSON values
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
	now func() time.Time
}

// NewBadgerStore opens (or creates) the audit database under stateDir
func NewBadgerStore(ctx context.Context, stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, auditDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}
	logger.Infof("Opening audit database at: %s", dbPath)
	return openStore(badger.DefaultOptions(dbPath), logger)
}

// NewInMemoryBadgerStore opens a throwaway store that keeps everything in memory
func NewInMemoryBadgerStore(logger *logrus.Entry) (*BadgerStore, error) {
	return openStore(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openStore(opts badger.Options, logger *logrus.Entry) (*BadgerStore, error) {
	opts = opts.
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrDatabase, err)
	}
	return &BadgerStore{db: db, log: logger, now: time.Now}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSerialization, err)
	}
	return txn.Set(key, data)
}

func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, utils.ErrNotFound) || errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrSerialization) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", utils.ErrDatabase, op, err)
}

// CreateAuditProject implements ProjectStore
func (s *BadgerStore) CreateAuditProject(ctx context.Context, project *models.AuditProject) error {
	if project.ID == "" {
		return fmt.Errorf("%w: project id is required", utils.ErrDatabase)
	}
	now := s.now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	if project.Status == "" {
		project.Status = models.ProjectStatusPending
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(project.ID)); err == nil {
			return fmt.Errorf("%w: project %s already exists", utils.ErrDatabase, project.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, projectKey(project.ID), project)
	})
	return wrapDB("create project", err)
}

// GetAuditProject implements ProjectStore
func (s *BadgerStore) GetAuditProject(ctx context.Context, id string) (*models.AuditProject, error) {
	var project models.AuditProject
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, projectKey(id), &project)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: project %s", utils.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapDB("get project", err)
	}
	return &project, nil
}

// UpdateAuditProject implements ProjectStore
func (s *BadgerStore) UpdateAuditProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.AuditProject, error) {
	var updated models.AuditProject
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var project models.AuditProject
		if err := getJSON(txn, projectKey(id), &project); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: project %s", utils.ErrNotFound, id)
			}
			return err
		}
		project.Apply(patch)
		project.UpdatedAt = s.now().UTC()
		updated = project
		return setJSON(txn, projectKey(id), &project)
	})
	if err != nil {
		return nil, wrapDB("update project", err)
	}
	return &updated, nil
}

// ListAuditProjects implements ProjectStore
func (s *BadgerStore) ListAuditProjects(ctx context.Context) ([]models.AuditProject, error) {
	var projects []models.AuditProject
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(projectKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p models.AuditProject
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				s.log.Warnf("Skipping unreadable project record %s: %v", it.Item().Key(), err)
				continue
			}
			projects = append(projects, p)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("list projects", err)
	}
	sort.SliceStable(projects, func(i, j int) bool { return projects[i].CreatedAt.Before(projects[j].CreatedAt) })
	return projects, nil
}

// CreateScrapedPages implements PageStore. Large batches are split across transactions.
func (s *BadgerStore) CreateScrapedPages(ctx context.Context, pages []models.ScrapedPage) error {
	for _, p := range pages {
		if p.ID == "" || p.AuditProjectID == "" {
			return fmt.Errorf("%w: page id and audit_project_id are required", utils.ErrDatabase)
		}
	}

	remaining := pages
	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		written := 0
		err := s.dbUpdate(func(txn *badger.Txn) error {
			written = 0
			for _, p := range remaining {
				err := setJSON(txn, pageKey(p.AuditProjectID, p.ID), &p)
				if errors.Is(err, badger.ErrTxnTooBig) && written > 0 {
					return nil // commit what fits, continue in a new transaction
				}
				if err != nil {
					return err
				}
				written++
			}
			return nil
		})
		if err != nil {
			return wrapDB("create pages", err)
		}
		remaining = remaining[written:]
	}
	return nil
}

// GetScrapedPages implements PageStore
func (s *BadgerStore) GetScrapedPages(ctx context.Context, projectID string) ([]models.ScrapedPage, error) {
	var pages []models.ScrapedPage
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := pagePrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p models.ScrapedPage
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return fmt.Errorf("decoding page %s: %w", it.Item().Key(), err)
			}
			pages = append(pages, p)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("get pages", err)
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].ScanOrder < pages[j].ScanOrder })
	return pages, nil
}

// UpdatePageLinks implements PageStore
func (s *BadgerStore) UpdatePageLinks(ctx context.Context, projectID, pageID string, links []models.LinkRecord) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var page models.ScrapedPage
		if err := getJSON(txn, pageKey(projectID, pageID), &page); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: page %s of project %s", utils.ErrNotFound, pageID, projectID)
			}
			return err
		}
		page.Links = links
		page.LinksCount = len(links)
		return setJSON(txn, pageKey(projectID, pageID), &page)
	})
	return wrapDB("update page links", err)
}

// DeleteScrapedPages implements PageStore
func (s *BadgerStore) DeleteScrapedPages(ctx context.Context, projectID string) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := pagePrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, wrapDB("list page keys", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, wrapDB("delete pages", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, wrapDB("delete pages", err)
	}
	return len(keys), nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing audit DB: %v", err)
			return err
		}
		s.log.Debug("Audit DB closed.")
	}
	return nil
}
