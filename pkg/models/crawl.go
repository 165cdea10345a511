package models

// CrawlRequest is the body POSTed to the scraping service
type CrawlRequest struct {
	URL                    string    `json:"url"`
	Mode                   CrawlMode `json:"mode"`
	MaxPages               int       `json:"maxPages"`
	ExtractImagesFlag      bool      `json:"extractImagesFlag"`
	ExtractLinksFlag       bool      `json:"extractLinksFlag"`
	DetectTechnologiesFlag bool      `json:"detectTechnologiesFlag"`
}

// CrawlResponse is the scraping service's success body.
// Nested records stay loosely typed here and are canonicalized by the normalizer.
type CrawlResponse struct {
	Pages         []CrawlPage    `json:"pages"`
	Summary       map[string]any `json:"summary,omitempty"`
	Performance   map[string]any `json:"performance,omitempty"`
	ExtractedData ExtractedData  `json:"extractedData"`
	ResponseTime  float64        `json:"responseTime"`
}

// CrawlPage is one page as returned by the scraping service
type CrawlPage struct {
	URL               string  `json:"url"`
	StatusCode        int     `json:"statusCode"`
	Title             string  `json:"title"`
	HTML              string  `json:"html"`
	HTMLContent       string  `json:"html_content,omitempty"` // Alias used by older service versions
	HTMLContentLength int     `json:"htmlContentLength"`
	Links             []any   `json:"links,omitempty"`
	Images            []any   `json:"images,omitempty"`
	MetaTags          []any   `json:"metaTags,omitempty"`
	Technologies      []any   `json:"technologies,omitempty"`
	ResponseTime      float64 `json:"responseTime,omitempty"`
}

// Body returns whichever HTML field the service populated
func (p CrawlPage) Body() string {
	if p.HTML != "" {
		return p.HTML
	}
	return p.HTMLContent
}

// ExtractedData carries site-level detections
type ExtractedData struct {
	CMS          map[string]any `json:"cms,omitempty"`
	Technologies []any          `json:"technologies,omitempty"`
}
