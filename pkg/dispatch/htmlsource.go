package dispatch

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/normalize"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
)

// SourceInput is what an HTMLSource may look at
type SourceInput struct {
	Project *models.AuditProject
	Pages   []models.ScrapedPage
	Store   storage.PageStore
	Log     *logrus.Entry
}

// HTMLSource yields HTML for SEO analysis, or "" when it has none
type HTMLSource struct {
	Name string
	Find func(ctx context.Context, in SourceInput) string
}

// Alternate locations inside scraping_data that older crawl results used for the homepage HTML
var scrapingDataPaths = [][]string{
	{"html"},
	{"content"},
	{"body"},
	{"page", "html"},
	{"homepage", "html"},
	{"main_page", "html"},
}

// DefaultSources returns the lookup order used by the dispatcher. The placeholder is last and never empty.
func DefaultSources(placeholderTitle string) []HTMLSource {
	return []HTMLSource{
		{Name: "crawled_pages", Find: crawledPages},
		{Name: "stored_pages", Find: storedPages},
		{Name: "scraping_data_pages", Find: scrapingDataPages},
		{Name: "scraping_data_paths", Find: scrapingDataFields},
		{Name: SourcePlaceholder, Find: placeholder(placeholderTitle)},
	}
}

// SourcePlaceholder names the synthesized fallback
const SourcePlaceholder = "placeholder"

// resolveHTML returns the first non-empty HTML and the name of the source that produced it
func resolveHTML(ctx context.Context, sources []HTMLSource, in SourceInput) (string, string) {
	for _, src := range sources {
		if h := src.Find(ctx, in); strings.TrimSpace(h) != "" {
			return h, src.Name
		}
	}
	return "", ""
}

func crawledPages(_ context.Context, in SourceInput) string {
	p, _ := normalize.PrimaryPage(in.Pages)
	return p.HTMLContent
}

func storedPages(ctx context.Context, in SourceInput) string {
	if in.Store == nil || in.Project == nil {
		return ""
	}
	pages, err := in.Store.GetScrapedPages(ctx, in.Project.ID)
	if err != nil {
		if in.Log != nil {
			in.Log.Warnf("Re-fetching pages for SEO input failed: %v", err)
		}
		return ""
	}
	p, _ := normalize.PrimaryPage(pages)
	return p.HTMLContent
}

func scrapingDataPages(_ context.Context, in SourceInput) string {
	if in.Project == nil {
		return ""
	}
	var first map[string]any
	switch pages := in.Project.ScrapingData["pages"].(type) {
	case []any:
		if len(pages) > 0 {
			first, _ = pages[0].(map[string]any)
		}
	case []map[string]any:
		if len(pages) > 0 {
			first = pages[0]
		}
	}
	for _, key := range []string{"html", "html_content", "content"} {
		if s, ok := first[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func scrapingDataFields(_ context.Context, in SourceInput) string {
	if in.Project == nil {
		return ""
	}
	for _, path := range scrapingDataPaths {
		if s := lookupString(in.Project.ScrapingData, path); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func lookupString(m map[string]any, path []string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return s
}

func placeholder(title string) func(context.Context, SourceInput) string {
	if title == "" {
		title = "Website audit"
	}
	return func(_ context.Context, in SourceInput) string {
		site := ""
		if in.Project != nil {
			site = in.Project.SiteURL
		}
		return PlaceholderHTML(title, site)
	}
}

// PlaceholderHTML builds a minimal document describing siteURL
func PlaceholderHTML(title, siteURL string) string {
	esc := html.EscapeString(siteURL)
	t := html.EscapeString(title)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s - %s</title>
<meta name="description" content="%s for %s">
</head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>`, t, esc, t, esc, esc, esc)
}
