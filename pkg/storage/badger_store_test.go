package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProject(t *testing.T, store *BadgerStore, id string) {
	t.Helper()
	require.NoError(t, store.CreateAuditProject(context.Background(), &models.AuditProject{
		ID:      id,
		SiteURL: "https://ex.com",
	}))
}

func page(projectID, id string, order int) models.ScrapedPage {
	return models.ScrapedPage{
		ID:             id,
		AuditProjectID: projectID,
		URL:            fmt.Sprintf("https://ex.com/%d", order),
		StatusCode:     200,
		Title:          id,
		HTMLContent:    "<html></html>",
		Links: []models.LinkRecord{
			{URL: "https://ex.com/a", Type: models.LinkTypeInternal, Status: models.LinkStatusUnknown},
		},
		ScanOrder: order,
	}
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("reopen preserves data", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()
		logger := testLogger()

		store1, err := NewBadgerStore(ctx, dir, logger)
		require.NoError(t, err)
		seedProject(t, store1, "p1")
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(ctx, dir, logger)
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		got, err := store2.GetAuditProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "https://ex.com", got.SiteURL)
	})

	t.Run("in memory store works", func(t *testing.T) {
		store, err := NewInMemoryBadgerStore(testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		seedProject(t, store, "p1")
		_, err = store.GetAuditProject(context.Background(), "p1")
		assert.NoError(t, err)
	})
}

func TestAuditProjects(t *testing.T) {
	ctx := context.Background()

	t.Run("create applies defaults", func(t *testing.T) {
		store := newTestStore(t)
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		store.now = func() time.Time { return fixed }

		seedProject(t, store, "p1")
		got, err := store.GetAuditProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusPending, got.Status)
		assert.Equal(t, fixed, got.CreatedAt)
		assert.Equal(t, fixed, got.UpdatedAt)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		store := newTestStore(t)
		seedProject(t, store, "p1")
		err := store.CreateAuditProject(ctx, &models.AuditProject{ID: "p1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrDatabase)
	})

	t.Run("missing project is not found", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetAuditProject(ctx, "nope")
		assert.ErrorIs(t, err, utils.ErrNotFound)

		_, err = store.UpdateAuditProject(ctx, "nope", models.ProjectPatch{Progress: models.Ptr(1)})
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})

	t.Run("update applies patch and returns result", func(t *testing.T) {
		store := newTestStore(t)
		seedProject(t, store, "p1")

		updated, err := store.UpdateAuditProject(ctx, "p1", models.ProjectPatch{
			Status:     models.Ptr(models.ProjectStatusCompleted),
			Progress:   models.Ptr(100),
			TotalPages: models.Ptr(3),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusCompleted, updated.Status)
		assert.Equal(t, 100, updated.Progress)

		got, err := store.GetAuditProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.TotalPages)
		assert.Equal(t, "https://ex.com", got.SiteURL)
	})

	t.Run("list ordered by creation", func(t *testing.T) {
		store := newTestStore(t)
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, store.CreateAuditProject(ctx, &models.AuditProject{
				ID:        id,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}))
		}

		list, err := store.ListAuditProjects(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "zeta", list[0].ID)
		assert.Equal(t, "alpha", list[1].ID)
		assert.Equal(t, "mid", list[2].ID)
	})
}

func TestScrapedPages(t *testing.T) {
	ctx := context.Background()

	t.Run("pages are scoped per project and ordered", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.CreateScrapedPages(ctx, []models.ScrapedPage{
			page("p1", "c", 2), page("p1", "a", 0), page("p1", "b", 1), page("p2", "x", 0),
		}))

		pages, err := store.GetScrapedPages(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, pages, 3)
		assert.Equal(t, "a", pages[0].ID)
		assert.Equal(t, "b", pages[1].ID)
		assert.Equal(t, "c", pages[2].ID)

		other, err := store.GetScrapedPages(ctx, "p2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})

	t.Run("project prefix does not leak into longer ids", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.CreateScrapedPages(ctx, []models.ScrapedPage{page("p1", "a", 0), page("p10", "b", 0)}))
		pages, err := store.GetScrapedPages(ctx, "p1")
		require.NoError(t, err)
		assert.Len(t, pages, 1)
	})

	t.Run("missing ids rejected", func(t *testing.T) {
		store := newTestStore(t)
		err := store.CreateScrapedPages(ctx, []models.ScrapedPage{{URL: "https://ex.com"}})
		assert.ErrorIs(t, err, utils.ErrDatabase)
	})

	t.Run("update links replaces array only", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.CreateScrapedPages(ctx, []models.ScrapedPage{page("p1", "a", 0)}))

		link := models.LinkRecord{URL: "https://ex.com/a", Type: models.LinkTypeInternal}
		link.SetStatus(models.LinkStatusBroken)
		extra := models.LinkRecord{URL: "https://other.com", Type: models.LinkTypeExternal}
		extra.SetStatus(models.LinkStatusWorking)
		require.NoError(t, store.UpdatePageLinks(ctx, "p1", "a", []models.LinkRecord{link, extra}))

		pages, err := store.GetScrapedPages(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		require.Len(t, pages[0].Links, 2)
		assert.True(t, pages[0].Links[0].IsBroken)
		assert.Equal(t, models.LinkStatusWorking, pages[0].Links[1].Status)
		assert.Equal(t, 2, pages[0].LinksCount)
		assert.Equal(t, "<html></html>", pages[0].HTMLContent)
	})

	t.Run("update links on missing page", func(t *testing.T) {
		store := newTestStore(t)
		err := store.UpdatePageLinks(ctx, "p1", "nope", nil)
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})

	t.Run("delete removes only that project", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.CreateScrapedPages(ctx, []models.ScrapedPage{
			page("p1", "a", 0), page("p1", "b", 1), page("p2", "x", 0),
		}))

		n, err := store.DeleteScrapedPages(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		pages, err := store.GetScrapedPages(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, pages)

		n, err = store.DeleteScrapedPages(ctx, "p1")
		require.NoError(t, err)
		assert.Zero(t, n)

		other, err := store.GetScrapedPages(ctx, "p2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})

	t.Run("concurrent link updates all land", func(t *testing.T) {
		store := newTestStore(t)
		var pages []models.ScrapedPage
		for i := range 8 {
			pages = append(pages, page("p1", fmt.Sprintf("pg%d", i), i))
		}
		require.NoError(t, store.CreateScrapedPages(ctx, pages))

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l := models.LinkRecord{URL: "https://ex.com/a"}
				l.SetStatus(models.LinkStatusWorking)
				assert.NoError(t, store.UpdatePageLinks(ctx, "p1", fmt.Sprintf("pg%d", i), []models.LinkRecord{l}))
			}()
		}
		wg.Wait()

		got, err := store.GetScrapedPages(ctx, "p1")
		require.NoError(t, err)
		for _, p := range got {
			assert.Equal(t, models.LinkStatusWorking, p.Links[0].Status, p.ID)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.CreateScrapedPages(ctx, []models.ScrapedPage{page("p1", "a", 0)}))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.GetScrapedPages(cctx, "p1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunGC(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		store := newTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // cancel immediately

		done := make(chan struct{})
		go func() {
			store.RunGC(ctx, 50*time.Millisecond)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunGC did not respect context cancellation")
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("normal close", func(t *testing.T) {
		store, err := NewBadgerStore(context.Background(), t.TempDir(), testLogger())
		require.NoError(t, err)
		assert.NoError(t, store.Close())
	})

	t.Run("double close does not panic", func(t *testing.T) {
		store, err := NewBadgerStore(context.Background(), t.TempDir(), testLogger())
		require.NoError(t, err)
		assert.NoError(t, store.Close())
		assert.NoError(t, store.Close())
	})
}

func TestDBUpdateConflictRetry(t *testing.T) {
	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			if attempts <= 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return badger.ErrConflict
		})
		require.Error(t, err)
		require.ErrorIs(t, err, utils.ErrDatabase)
		assert.Contains(t, err.Error(), "transaction conflict not resolved")
		assert.Equal(t, maxConflictRetries, attempts)
	})

	t.Run("non-conflict error returned immediately", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		sentinel := errors.New("some other error")
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return sentinel
		})
		require.Error(t, err)
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})
}
