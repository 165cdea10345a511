package models

import "time"

// SEOIssue is a single finding reported by the SEO analyzer
type SEOIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // "error", "warning", "info"
	Message  string `json:"message"`
}

// SEOAnalysis is the analyzer's verdict for a page
type SEOAnalysis struct {
	Score           float64    `json:"score"`
	Issues          []SEOIssue `json:"issues"`
	Highlights      []string   `json:"highlights"`
	Recommendations []string   `json:"recommendations"`
	Summary         string     `json:"summary"`
	AnalyzedURL     string     `json:"analyzed_url"`
	Placeholder     bool       `json:"placeholder,omitempty"` // Scored against synthesized HTML
}

// PageSpeedResult holds the parts of a PageSpeed Insights run the dashboard shows
type PageSpeedResult struct {
	URL              string             `json:"url"`
	Strategy         string             `json:"strategy"`
	PerformanceScore float64            `json:"performance_score"` // 0-100
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	FetchedAt        time.Time          `json:"fetched_at"`
}
