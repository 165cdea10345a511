package models

import "time"

// AuditProject is one submitted website audit
type AuditProject struct {
	ID      string        `json:"id"`
	Name    string        `json:"name,omitempty"`
	SiteURL string        `json:"site_url"`
	Status  ProjectStatus `json:"status"`

	CrawlMode string `json:"crawl_mode,omitempty"` // Overrides the configured mode when set
	MaxPages  int    `json:"max_pages,omitempty"`  // Overrides the configured page budget when positive

	Progress int      `json:"progress"`
	Score    *float64 `json:"score,omitempty"`

	TotalPages    int `json:"total_pages"`
	TotalLinks    int `json:"total_links"`
	TotalImages   int `json:"total_images"`
	TotalMetaTags int `json:"total_meta_tags"`

	CMSType       string         `json:"cms_type,omitempty"`
	CMSVersion    string         `json:"cms_version,omitempty"`
	CMSPlugins    []CMSComponent `json:"cms_plugins,omitempty"`
	CMSThemes     []CMSComponent `json:"cms_themes,omitempty"`
	CMSComponents []CMSComponent `json:"cms_components,omitempty"`
	Technologies  []Technology   `json:"technologies,omitempty"`

	ScrapingData        map[string]any `json:"scraping_data,omitempty"`
	ScrapingCompletedAt *time.Time     `json:"scraping_completed_at,omitempty"`
	SEOAnalysis         *SEOAnalysis   `json:"seo_analysis,omitempty"`

	PageSpeedData    *PageSpeedResult `json:"pagespeed_insights_data,omitempty"`
	PageSpeedLoading bool             `json:"pagespeed_insights_loading"`
	PageSpeedError   string           `json:"pagespeed_insights_error,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectPatch is a partial update of an AuditProject.
// Nil pointers and nil slices leave the corresponding field unchanged.
type ProjectPatch struct {
	Status   *ProjectStatus `json:"status,omitempty"`
	Progress *int           `json:"progress,omitempty"`
	Score    *float64       `json:"score,omitempty"`

	TotalPages    *int `json:"total_pages,omitempty"`
	TotalLinks    *int `json:"total_links,omitempty"`
	TotalImages   *int `json:"total_images,omitempty"`
	TotalMetaTags *int `json:"total_meta_tags,omitempty"`

	CMSType       *string        `json:"cms_type,omitempty"`
	CMSVersion    *string        `json:"cms_version,omitempty"`
	CMSPlugins    []CMSComponent `json:"cms_plugins,omitempty"`
	CMSThemes     []CMSComponent `json:"cms_themes,omitempty"`
	CMSComponents []CMSComponent `json:"cms_components,omitempty"`
	Technologies  []Technology   `json:"technologies,omitempty"`

	ScrapingData        map[string]any `json:"scraping_data,omitempty"`
	ScrapingCompletedAt *time.Time     `json:"scraping_completed_at,omitempty"`
	SEOAnalysis         *SEOAnalysis   `json:"seo_analysis,omitempty"`

	PageSpeedData    *PageSpeedResult `json:"pagespeed_insights_data,omitempty"`
	PageSpeedLoading *bool            `json:"pagespeed_insights_loading,omitempty"`
	PageSpeedError   *string          `json:"pagespeed_insights_error,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`
}

// Apply copies every set field of patch onto p.
func (p *AuditProject) Apply(patch ProjectPatch) {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Progress != nil {
		p.Progress = *patch.Progress
	}
	if patch.Score != nil {
		score := *patch.Score
		p.Score = &score
	}
	if patch.TotalPages != nil {
		p.TotalPages = *patch.TotalPages
	}
	if patch.TotalLinks != nil {
		p.TotalLinks = *patch.TotalLinks
	}
	if patch.TotalImages != nil {
		p.TotalImages = *patch.TotalImages
	}
	if patch.TotalMetaTags != nil {
		p.TotalMetaTags = *patch.TotalMetaTags
	}
	if patch.CMSType != nil {
		p.CMSType = *patch.CMSType
	}
	if patch.CMSVersion != nil {
		p.CMSVersion = *patch.CMSVersion
	}
	if patch.CMSPlugins != nil {
		p.CMSPlugins = patch.CMSPlugins
	}
	if patch.CMSThemes != nil {
		p.CMSThemes = patch.CMSThemes
	}
	if patch.CMSComponents != nil {
		p.CMSComponents = patch.CMSComponents
	}
	if patch.Technologies != nil {
		p.Technologies = patch.Technologies
	}
	if patch.ScrapingData != nil {
		p.ScrapingData = patch.ScrapingData
	}
	if patch.ScrapingCompletedAt != nil {
		p.ScrapingCompletedAt = patch.ScrapingCompletedAt
	}
	if patch.SEOAnalysis != nil {
		p.SEOAnalysis = patch.SEOAnalysis
	}
	if patch.PageSpeedData != nil {
		p.PageSpeedData = patch.PageSpeedData
	}
	if patch.PageSpeedLoading != nil {
		p.PageSpeedLoading = *patch.PageSpeedLoading
	}
	if patch.PageSpeedError != nil {
		p.PageSpeedError = *patch.PageSpeedError
	}
	if patch.ErrorMessage != nil {
		p.ErrorMessage = *patch.ErrorMessage
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
