// Package seo scores a page's on-page SEO basics.
package seo

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Analyzer scores the HTML of one page
type Analyzer interface {
	Analyze(html, pageURL string) (*models.SEOAnalysis, error)
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

const (
	minTitleLen       = 10
	maxTitleLen       = 60
	minDescriptionLen = 50
	maxDescriptionLen = 160
)

var penalty = map[string]float64{
	SeverityError:   15,
	SeverityWarning: 5,
	SeverityInfo:    0,
}

// BasicAnalyzer checks title, meta description, headings, image alt text, canonical link and viewport
type BasicAnalyzer struct{}

// NewBasicAnalyzer returns the built-in scorer
func NewBasicAnalyzer() *BasicAnalyzer { return &BasicAnalyzer{} }

type report struct {
	issues          []models.SEOIssue
	highlights      []string
	recommendations []string
}

func (r *report) issue(kind, severity, msg, recommendation string) {
	r.issues = append(r.issues, models.SEOIssue{Type: kind, Severity: severity, Message: msg})
	if recommendation != "" {
		r.recommendations = append(r.recommendations, recommendation)
	}
}

func (r *report) good(msg string) { r.highlights = append(r.highlights, msg) }

// Analyze implements Analyzer
func (a *BasicAnalyzer) Analyze(html, pageURL string) (*models.SEOAnalysis, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: empty HTML for %s", utils.ErrParsing, pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML for %s: %w", utils.ErrParsing, pageURL, err)
	}

	r := &report{}
	checkTitle(doc, r)
	checkDescription(doc, r)
	checkHeadings(doc, r)
	checkImages(doc, r)
	checkHead(doc, r)

	score := 100.0
	for _, is := range r.issues {
		score -= penalty[is.Severity]
	}
	score = max(score, 0)

	return &models.SEOAnalysis{
		Score:           score,
		Issues:          nonNil(r.issues),
		Highlights:      nonNil(r.highlights),
		Recommendations: nonNil(r.recommendations),
		Summary:         summarize(score, r.issues),
		AnalyzedURL:     pageURL,
	}, nil
}

func checkTitle(doc *goquery.Document, r *report) {
	title := strings.TrimSpace(doc.Find("head title").First().Text())
	switch n := len([]rune(title)); {
	case n == 0:
		r.issue("title", SeverityError, "Page has no <title>", "Add a descriptive title of 10 to 60 characters")
	case n < minTitleLen:
		r.issue("title", SeverityWarning, fmt.Sprintf("Title is short (%d characters)", n), "Lengthen the title to at least 10 characters")
	case n > maxTitleLen:
		r.issue("title", SeverityWarning, fmt.Sprintf("Title is long (%d characters)", n), "Shorten the title to 60 characters or fewer")
	default:
		r.good("Title length is within the recommended range")
	}
}

func checkDescription(doc *goquery.Document, r *report) {
	var desc string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("name", ""), "description") {
			desc = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})

	switch n := len([]rune(desc)); {
	case n == 0:
		r.issue("meta_description", SeverityError, "Page has no meta description", "Add a meta description of 50 to 160 characters")
	case n < minDescriptionLen:
		r.issue("meta_description", SeverityWarning, fmt.Sprintf("Meta description is short (%d characters)", n), "Expand the meta description")
	case n > maxDescriptionLen:
		r.issue("meta_description", SeverityWarning, fmt.Sprintf("Meta description is long (%d characters)", n), "Trim the meta description to 160 characters")
	default:
		r.good("Meta description length is within the recommended range")
	}
}

func checkHeadings(doc *goquery.Document, r *report) {
	switch h1 := doc.Find("h1").Length(); {
	case h1 == 0:
		r.issue("h1", SeverityError, "Page has no <h1>", "Add a single <h1> describing the page")
	case h1 > 1:
		r.issue("h1", SeverityWarning, fmt.Sprintf("Page has %d <h1> elements", h1), "Use exactly one <h1> per page")
	default:
		r.good("Page has exactly one <h1>")
	}
	if doc.Find("h2").Length() == 0 {
		r.issue("h2", SeverityInfo, "Page has no <h2> subheadings", "")
	}
}

func checkImages(doc *goquery.Document, r *report) {
	imgs := doc.Find("img")
	if imgs.Length() == 0 {
		return
	}
	missing := imgs.FilterFunction(func(_ int, s *goquery.Selection) bool {
		alt, ok := s.Attr("alt")
		return !ok || strings.TrimSpace(alt) == ""
	}).Length()
	if missing > 0 {
		r.issue("image_alt", SeverityWarning, fmt.Sprintf("%d of %d images have no alt text", missing, imgs.Length()), "Describe every meaningful image with alt text")
		return
	}
	r.good("All images have alt text")
}

func checkHead(doc *goquery.Document, r *report) {
	if href := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", "")); href == "" {
		r.issue("canonical", SeverityWarning, "Page declares no canonical URL", "Add <link rel=\"canonical\">")
	} else {
		r.good("Canonical URL is declared")
	}
	if doc.Find(`meta[name="viewport"]`).Length() == 0 {
		r.issue("viewport", SeverityWarning, "Page has no viewport meta tag", "Add a responsive viewport meta tag")
	}
	if strings.TrimSpace(doc.Find("html").AttrOr("lang", "")) == "" {
		r.issue("lang", SeverityInfo, "The <html> element has no lang attribute", "Declare the page language")
	}
}

func summarize(score float64, issues []models.SEOIssue) string {
	var errs, warns int
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warns++
		}
	}
	return fmt.Sprintf("Score %.0f/100 with %d errors and %d warnings", score, errs, warns)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
