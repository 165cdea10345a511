package normalize

import (
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// Tier says where extracted links or images came from
type Tier int

const (
	// TierStructured uses the crawler's page.links / page.images arrays
	TierStructured Tier = 1
	// TierHTML parses the page HTML; used only when no page had structured entries
	TierHTML Tier = 2
)

// LinksByPage extracts links for every page, index-aligned with pages.
// The HTML tier is used only when the structured tier yields nothing across all pages.
func (s *Site) LinksByPage(pages []models.CrawlPage) ([][]models.LinkRecord, Tier) {
	out := make([][]models.LinkRecord, len(pages))
	total := 0
	for i, p := range pages {
		var raws []rawLink
		for _, v := range p.Links {
			if l, ok := linkFrom(v); ok {
				raws = append(raws, l)
			}
		}
		out[i] = s.links(raws, p.URL)
		total += len(out[i])
	}
	if total > 0 {
		return out, TierStructured
	}

	for i, p := range pages {
		doc := parseHTML(p.Body())
		if doc == nil {
			continue
		}
		out[i] = s.links(htmlLinks(doc), p.URL)
	}
	return out, TierHTML
}

// ExtractLinks returns the links of all pages in page order
func (s *Site) ExtractLinks(pages []models.CrawlPage) []models.LinkRecord {
	byPage, _ := s.LinksByPage(pages)
	var out []models.LinkRecord
	for _, links := range byPage {
		out = append(out, links...)
	}
	return out
}

func (s *Site) links(raws []rawLink, pageURL string) []models.LinkRecord {
	var out []models.LinkRecord
	for _, r := range raws {
		resolved, ok := s.Resolve(r.href)
		if !ok {
			continue
		}
		rec := models.LinkRecord{
			URL:     resolved,
			Text:    r.text,
			Title:   r.title,
			Type:    s.ClassifyLink(r.href),
			PageURL: pageURL,
		}
		status := r.status
		if status == "" {
			status = models.LinkStatusUnknown
		}
		rec.SetStatus(status)
		out = append(out, rec)
	}
	return out
}

// ImagesByPage extracts images for every page with the same two-tier rule as LinksByPage
func (s *Site) ImagesByPage(pages []models.CrawlPage) ([][]models.ImageRecord, Tier) {
	out := make([][]models.ImageRecord, len(pages))
	total := 0
	for i, p := range pages {
		var raws []rawImage
		for _, v := range p.Images {
			if img, ok := imageFrom(v); ok {
				raws = append(raws, img)
			}
		}
		out[i] = s.images(raws, p.URL)
		total += len(out[i])
	}
	if total > 0 {
		return out, TierStructured
	}

	for i, p := range pages {
		doc := parseHTML(p.Body())
		if doc == nil {
			continue
		}
		out[i] = s.images(htmlImages(doc), p.URL)
	}
	return out, TierHTML
}

// ExtractImages returns the images of all pages in page order
func (s *Site) ExtractImages(pages []models.CrawlPage) []models.ImageRecord {
	byPage, _ := s.ImagesByPage(pages)
	var out []models.ImageRecord
	for _, imgs := range byPage {
		out = append(out, imgs...)
	}
	return out
}

func (s *Site) images(raws []rawImage, pageURL string) []models.ImageRecord {
	var out []models.ImageRecord
	for _, r := range raws {
		resolved, ok := s.Resolve(r.src)
		if !ok {
			continue
		}
		out = append(out, models.ImageRecord{
			URL:     resolved,
			Alt:     r.alt,
			Title:   r.title,
			Width:   r.width,
			Height:  r.height,
			Type:    ClassifyImageType(resolved),
			PageURL: pageURL,
		})
	}
	return out
}
