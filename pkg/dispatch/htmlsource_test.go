package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

func TestResolveHTML(t *testing.T) {
	ctx := context.Background()
	sources := DefaultSources("")

	tests := []struct {
		name       string
		pages      []models.ScrapedPage
		data       map[string]any
		wantSource string
		wantHTML   string
	}{
		{
			name:       "first page with html wins",
			pages:      []models.ScrapedPage{{HTMLContent: ""}, {HTMLContent: "<p>second</p>"}},
			wantSource: "crawled_pages",
			wantHTML:   "<p>second</p>",
		},
		{
			name:       "scraping data first page",
			data:       map[string]any{"pages": []any{map[string]any{"html": "<p>sd</p>"}}},
			wantSource: "scraping_data_pages",
			wantHTML:   "<p>sd</p>",
		},
		{
			name:       "in-memory page maps",
			data:       map[string]any{"pages": []map[string]any{{"html": "<p>mem</p>"}}},
			wantSource: "scraping_data_pages",
			wantHTML:   "<p>mem</p>",
		},
		{
			name:       "top level content",
			data:       map[string]any{"content": "<p>c</p>", "homepage": map[string]any{"html": "<p>h</p>"}},
			wantSource: "scraping_data_paths",
			wantHTML:   "<p>c</p>",
		},
		{
			name:       "nested homepage html",
			data:       map[string]any{"homepage": map[string]any{"html": "<p>h</p>"}},
			wantSource: "scraping_data_paths",
			wantHTML:   "<p>h</p>",
		},
		{
			name:       "whitespace only falls through",
			data:       map[string]any{"html": "   ", "main_page": map[string]any{"html": "<p>m</p>"}},
			wantSource: "scraping_data_paths",
			wantHTML:   "<p>m</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := SourceInput{
				Project: &models.AuditProject{ID: "p1", SiteURL: "https://ex.com", ScrapingData: tt.data},
				Pages:   tt.pages,
			}
			html, source := resolveHTML(ctx, sources, in)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantHTML, html)
		})
	}

	t.Run("placeholder when nothing else", func(t *testing.T) {
		in := SourceInput{Project: &models.AuditProject{ID: "p1", SiteURL: "https://ex.com/?a=<b>"}}
		html, source := resolveHTML(ctx, sources, in)
		assert.Equal(t, SourcePlaceholder, source)
		assert.Contains(t, html, "https://ex.com/?a=&lt;b&gt;")
		assert.Contains(t, html, "<title>Website audit")
	})
}
