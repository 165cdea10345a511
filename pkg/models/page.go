package models

import "time"

// ScrapedPage is one crawled page belonging to an audit project
type ScrapedPage struct {
	ID                string        `json:"id"`
	AuditProjectID    string        `json:"audit_project_id"`
	URL               string        `json:"url"`
	StatusCode        int           `json:"status_code"`
	Title             string        `json:"title,omitempty"`
	HTMLContent       string        `json:"html_content,omitempty"`
	HTMLContentLength int           `json:"html_content_length"`
	ContentHash       string        `json:"content_hash,omitempty"`
	LinksCount        int           `json:"links_count"`
	ImagesCount       int           `json:"images_count"`
	MetaTagsCount     int           `json:"meta_tags_count"`
	TechnologiesCount int           `json:"technologies_count"`
	Links             []LinkRecord  `json:"links"`
	Images            []ImageRecord `json:"images"`
	MetaTags          []MetaTag     `json:"meta_tags,omitempty"`
	SocialMetaTags    []MetaTag     `json:"social_meta_tags,omitempty"`
	Technologies      []Technology  `json:"technologies,omitempty"`
	IsExternal        bool          `json:"is_external"`
	ResponseTime      float64       `json:"response_time"` // milliseconds
	ScanOrder         int           `json:"scan_order"`
	CreatedAt         time.Time     `json:"created_at"`
}

// LinkRecord is a link discovered on a page
type LinkRecord struct {
	URL      string     `json:"url"`
	Text     string     `json:"text,omitempty"`
	Title    string     `json:"title,omitempty"`
	Type     LinkType   `json:"type"`
	Status   LinkStatus `json:"status"`
	IsBroken bool       `json:"isBroken"`
	PageURL  string     `json:"page_url,omitempty"`
}

// SetStatus updates the status and keeps IsBroken in sync with it
func (l *LinkRecord) SetStatus(status LinkStatus) {
	l.Status = status
	l.IsBroken = status == LinkStatusBroken
}

// ImageRecord is an image discovered on a page
type ImageRecord struct {
	URL     string    `json:"url"`
	Alt     string    `json:"alt,omitempty"`
	Title   string    `json:"title,omitempty"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Type    ImageType `json:"type"`
	PageURL string    `json:"page_url,omitempty"`
}

// MetaTag is a <meta> element reduced to its identifying attribute and content
type MetaTag struct {
	Name     string `json:"name,omitempty"`
	Property string `json:"property,omitempty"`
	Content  string `json:"content"`
}

// Key returns whichever of name or property is set
func (m MetaTag) Key() string {
	if m.Property != "" {
		return m.Property
	}
	return m.Name
}
