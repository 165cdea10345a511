package normalize

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// BuildPages converts the crawl response into ScrapedPage rows in scan order.
// Pages without a URL are dropped. IDs are ULIDs stamped with now, so they sort by crawl time.
func BuildPages(projectID string, site *Site, resp *models.CrawlResponse, now time.Time) []models.ScrapedPage {
	linksByPage, _ := site.LinksByPage(resp.Pages)
	imagesByPage, _ := site.ImagesByPage(resp.Pages)
	entropy := ulid.DefaultEntropy()

	pages := make([]models.ScrapedPage, 0, len(resp.Pages))
	for i, p := range resp.Pages {
		if strings.TrimSpace(p.URL) == "" {
			continue
		}
		body := p.Body()
		doc := parseHTML(body)

		metaTags := MetaTags(p.MetaTags)
		if len(metaTags) == 0 && doc != nil {
			metaTags = htmlMetaTags(doc)
		}
		title := strings.TrimSpace(p.Title)
		if title == "" && doc != nil {
			title = htmlTitle(doc)
		}
		techs := MergeTechnologies(Technologies(p.Technologies))

		page := models.ScrapedPage{
			ID:                ulid.MustNew(ulid.Timestamp(now), entropy).String(),
			AuditProjectID:    projectID,
			URL:               p.URL,
			StatusCode:        p.StatusCode,
			Title:             title,
			HTMLContent:       body,
			HTMLContentLength: p.HTMLContentLength,
			LinksCount:        len(linksByPage[i]),
			ImagesCount:       len(imagesByPage[i]),
			MetaTagsCount:     len(metaTags),
			TechnologiesCount: len(techs),
			Links:             nonNil(linksByPage[i]),
			Images:            nonNil(imagesByPage[i]),
			MetaTags:          metaTags,
			SocialMetaTags:    SocialMetaTags(metaTags),
			Technologies:      techs,
			IsExternal:        site.IsExternalPage(p.URL),
			ResponseTime:      p.ResponseTime,
			ScanOrder:         i,
			CreatedAt:         now,
		}
		if page.HTMLContentLength == 0 {
			page.HTMLContentLength = len(body)
		}
		if body != "" {
			page.ContentHash = utils.ContentHash(body)
		}
		pages = append(pages, page)
	}
	return pages
}

// PrimaryPage returns the first page, by scan order, with non-empty HTML
func PrimaryPage(pages []models.ScrapedPage) (models.ScrapedPage, bool) {
	for _, p := range pages {
		if strings.TrimSpace(p.HTMLContent) != "" {
			return p, true
		}
	}
	return models.ScrapedPage{}, false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
