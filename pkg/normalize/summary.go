package normalize

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/detect"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// BuildProjectSummary assembles the project patch for a finished crawl: aggregate counts,
// deduplicated CMS and technology data, the scraping_data blob and scraping_completed_at.
// When the response carries no site-level detections, det (if non-nil) fingerprints the primary page.
// The patch is checked with a JSON round trip; failure returns ErrSerialization and no patch.
func BuildProjectSummary(resp *models.CrawlResponse, pages []models.ScrapedPage, det *detect.Detector, now time.Time) (models.ProjectPatch, error) {
	cms := CMS(resp.ExtractedData.CMS)
	techs := Technologies(resp.ExtractedData.Technologies)

	if cms.IsEmpty() && len(techs) == 0 && det != nil {
		if primary, ok := PrimaryPage(pages); ok {
			if found, err := det.Detect(primary.HTMLContent); err == nil {
				cms = found.CMS
				techs = slices.Clone(found.Technologies)
			}
		}
	}

	var totalLinks, totalImages, totalMeta int
	for _, p := range pages {
		techs = append(techs, p.Technologies...)
		totalLinks += p.LinksCount
		totalImages += p.ImagesCount
		totalMeta += p.MetaTagsCount
	}

	completedAt := now.UTC()
	patch := models.ProjectPatch{
		TotalPages:          models.Ptr(len(pages)),
		TotalLinks:          models.Ptr(totalLinks),
		TotalImages:         models.Ptr(totalImages),
		TotalMetaTags:       models.Ptr(totalMeta),
		CMSType:             models.Ptr(cms.Type),
		CMSVersion:          models.Ptr(cms.Version),
		CMSPlugins:          nonNil(MergeCMSComponents(cms.Plugins)),
		CMSThemes:           nonNil(MergeCMSComponents(cms.Themes)),
		CMSComponents:       nonNil(MergeCMSComponents(cms.Components)),
		Technologies:        nonNil(MergeTechnologies(techs)),
		ScrapingData:        scrapingData(resp, pages),
		ScrapingCompletedAt: &completedAt,
	}

	if err := checkSerializable(patch); err != nil {
		return models.ProjectPatch{}, err
	}
	return patch, nil
}

// scrapingData keeps the crawler's summary and performance plus enough page data
// (the primary page's HTML) to re-derive analyses later.
func scrapingData(resp *models.CrawlResponse, pages []models.ScrapedPage) map[string]any {
	pageList := make([]any, 0, len(pages))
	primaryDone := false
	for _, p := range pages {
		entry := map[string]any{
			"url":         p.URL,
			"title":       p.Title,
			"status_code": p.StatusCode,
		}
		if !primaryDone && p.HTMLContent != "" {
			entry["html"] = p.HTMLContent
			primaryDone = true
		}
		pageList = append(pageList, entry)
	}

	data := map[string]any{
		"pages":         pageList,
		"response_time": resp.ResponseTime,
	}
	if resp.Summary != nil {
		data["summary"] = resp.Summary
	}
	if resp.Performance != nil {
		data["performance"] = resp.Performance
	}
	if resp.ExtractedData.CMS != nil || resp.ExtractedData.Technologies != nil {
		data["extracted_data"] = map[string]any{
			"cms":          resp.ExtractedData.CMS,
			"technologies": resp.ExtractedData.Technologies,
		}
	}
	return data
}

func checkSerializable(patch models.ProjectPatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("%w: encoding project summary: %w", utils.ErrSerialization, err)
	}
	var back models.ProjectPatch
	if err := json.Unmarshal(data, &back); err != nil {
		return fmt.Errorf("%w: decoding project summary: %w", utils.ErrSerialization, err)
	}
	return nil
}
