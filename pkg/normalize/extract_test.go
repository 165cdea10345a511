package normalize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// decodePages builds crawl pages the way they arrive off the wire
func decodePages(t *testing.T, raw string) []models.CrawlPage {
	t.Helper()
	var resp models.CrawlResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp.Pages
}

func TestExtractLinks_HTMLFallback(t *testing.T) {
	site := mustSite(t, "https://ex.com")
	pages := decodePages(t, `{"pages":[{"url":"https://ex.com","html":"<a href='/a'>A</a><a href='http://bad.com'>B</a>"}]}`)

	links := site.ExtractLinks(pages)

	require.Len(t, links, 2)
	assert.Equal(t, "https://ex.com/a", links[0].URL)
	assert.Equal(t, models.LinkTypeInternal, links[0].Type)
	assert.Equal(t, "A", links[0].Text)
	assert.Equal(t, "https://bad.com", links[1].URL)
	assert.Equal(t, models.LinkTypeExternal, links[1].Type)

	for _, l := range links {
		assert.Equal(t, models.LinkStatusUnknown, l.Status)
		assert.False(t, l.IsBroken)
		assert.Equal(t, "https://ex.com", l.PageURL)
	}
}

func TestLinksByPage_StructuredTierWins(t *testing.T) {
	site := mustSite(t, "https://ex.com")
	pages := decodePages(t, `{"pages":[
		{"url":"https://ex.com","html":"<a href='/from-html'>x</a>","links":[{"href":"/one","anchor":"One"},"https://ex.com/two"]},
		{"url":"https://ex.com/p2","html":"<a href='/also-html'>y</a>"}
	]}`)

	byPage, tier := site.LinksByPage(pages)

	assert.Equal(t, TierStructured, tier)
	require.Len(t, byPage[0], 2)
	assert.Equal(t, "https://ex.com/one", byPage[0][0].URL)
	assert.Equal(t, "One", byPage[0][0].Text)
	assert.Equal(t, "https://ex.com/two", byPage[0][1].URL)
	assert.Empty(t, byPage[1], "html tier is not used when any page has structured links")
}

func TestLinksByPage_StructuredStatusKeptInSync(t *testing.T) {
	site := mustSite(t, "https://ex.com")
	pages := decodePages(t, `{"pages":[{"url":"https://ex.com","links":[
		{"url":"/ok","status":"working"},
		{"url":"/dead","status":"broken"},
		{"url":"/odd","status":"teapot"}
	]}]}`)

	links := site.ExtractLinks(pages)
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, l.Status == models.LinkStatusBroken, l.IsBroken)
	}
	assert.Equal(t, models.LinkStatusUnknown, links[2].Status)
}

func TestExtractLinks_FiltersLoopbackAndAnchors(t *testing.T) {
	site := mustSite(t, "https://ex.com")
	pages := decodePages(t, `{"pages":[{"url":"https://ex.com","links":[
		{"url":""},{"url":"#"},{"href":"http://localhost/x"},{"href":"https://127.0.0.1:8080/"},{"href":"/kept"}
	]}]}`)

	links := site.ExtractLinks(pages)
	require.Len(t, links, 1)
	for _, l := range links {
		assert.NotContains(t, l.URL, "localhost")
		assert.NotContains(t, l.URL, "127.0.0.1")
	}
}

func TestExtractImages(t *testing.T) {
	site := mustSite(t, "https://ex.com")

	t.Run("structured", func(t *testing.T) {
		pages := decodePages(t, `{"pages":[{"url":"https://ex.com","images":[
			{"src":"/logo.PNG","alt":"Logo","width":"120","height":40},
			{"url":"http://cdn.ex.com/hero.webp"},
			{"src":"http://localhost/x.png"}
		]}]}`)

		images := site.ExtractImages(pages)
		require.Len(t, images, 2)
		assert.Equal(t, "https://ex.com/logo.PNG", images[0].URL)
		assert.Equal(t, models.ImageTypePNG, images[0].Type)
		assert.Equal(t, 120, images[0].Width)
		assert.Equal(t, 40, images[0].Height)
		assert.Equal(t, "Logo", images[0].Alt)
		assert.Equal(t, "https://cdn.ex.com/hero.webp", images[1].URL)
		assert.Equal(t, models.ImageTypeWebP, images[1].Type)
	})

	t.Run("html fallback", func(t *testing.T) {
		pages := decodePages(t, `{"pages":[{"url":"https://ex.com","html":"<img src='a.jpg' alt='A' width='10'><img data-src='/lazy.gif'><img src=''>"}]}`)

		images, tier := site.ImagesByPage(pages)
		assert.Equal(t, TierHTML, tier)
		require.Len(t, images[0], 2)
		assert.Equal(t, "https://ex.com/a.jpg", images[0][0].URL)
		assert.Equal(t, 10, images[0][0].Width)
		assert.Equal(t, "https://ex.com/lazy.gif", images[0][1].URL)
		assert.Equal(t, models.ImageTypeGIF, images[0][1].Type)
	})
}

func TestExtract_NoURLContainsLoopback(t *testing.T) {
	site := mustSite(t, "https://ex.com")
	var b strings.Builder
	for _, ref := range []string{"/x", "http://localhost", "HTTP://LOCALHOST:80/a", "//127.0.0.1/a", "b", "https://ok.com"} {
		b.WriteString(`<a href="` + ref + `">l</a><img src="` + ref + `.png">`)
	}
	pages := []models.CrawlPage{{URL: "https://ex.com", HTML: b.String()}}

	for _, l := range site.ExtractLinks(pages) {
		assert.NotContains(t, strings.ToLower(l.URL), "localhost")
		assert.NotContains(t, l.URL, "127.0.0.1")
	}
	for _, img := range site.ExtractImages(pages) {
		assert.NotContains(t, strings.ToLower(img.URL), "localhost")
		assert.NotContains(t, img.URL, "127.0.0.1")
	}
}
