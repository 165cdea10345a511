package linkcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// pageWriter applies batch statuses to the project's pages and writes back each touched
// page's full link array. Pages are loaded on first use.
type pageWriter struct {
	store     storage.PageStore
	projectID string
	pages     []models.ScrapedPage
	loaded    bool
}

func (w *pageWriter) load(ctx context.Context) error {
	if w.loaded || w.pages != nil {
		w.loaded = true
		return nil
	}
	pages, err := w.store.GetScrapedPages(ctx, w.projectID)
	if err != nil {
		return err
	}
	w.pages, w.loaded = pages, true
	return nil
}

func (w *pageWriter) apply(ctx context.Context, statuses map[string]models.LinkStatus) error {
	if w.store == nil || w.projectID == "" || len(statuses) == 0 {
		return nil
	}
	if err := w.load(ctx); err != nil {
		return fmt.Errorf("%w: loading pages: %w", utils.ErrPersistence, err)
	}

	var errs []error
	for i := range w.pages {
		page := &w.pages[i]
		touched := false
		for j := range page.Links {
			if status, ok := statuses[page.Links[j].URL]; ok {
				page.Links[j].SetStatus(status)
				touched = true
			}
		}
		if !touched {
			continue
		}
		if err := w.store.UpdatePageLinks(ctx, w.projectID, page.ID, page.Links); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", page.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", utils.ErrPersistence, errors.Join(errs...))
	}
	return nil
}
