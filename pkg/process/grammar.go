// Package process turns scraped page HTML into the markdown, headings and token-bounded chunks
// sent to the grammar analyzer.
package process

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// GrammarInput is the prepared text of one page
type GrammarInput struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Language    string    `json:"language,omitempty"`
	Markdown    string    `json:"markdown"`
	Headings    []Heading `json:"headings,omitempty"`
	Chunks      []Chunk   `json:"chunks"`
	WordCount   int       `json:"word_count"`
	TotalTokens int       `json:"total_tokens"`
	Encoding    string    `json:"encoding"`
}

// mainSelectors are tried in order; the body is used when none match
var mainSelectors = []string{"main", "article", "[role=main]", "#content", ".content"}

// noise is removed before conversion since it carries no prose
const noise = "script, style, noscript, template, svg, iframe, form, nav, header, footer, aside, img, picture, video, audio"

// PrepareGrammarInput extracts the main content of html, converts it to markdown and splits it
// into chunks no larger than cfg.MaxChunkTokens tokens.
func PrepareGrammarInput(html, pageURL string, cfg config.ContentConfig) (*GrammarInput, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: empty HTML for %s", utils.ErrParsing, pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML for %s: %w", utils.ErrParsing, pageURL, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	lang, _ := doc.Find("html").First().Attr("lang")

	content := mainContent(doc)
	content.Find(noise).Remove()
	cleanupHTML(content)
	if base, err := url.Parse(pageURL); err == nil && base.IsAbs() {
		absolutizeLinks(content, base)
	}

	body, err := goquery.OuterHtml(content)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering content for %s: %w", utils.ErrParsing, pageURL, err)
	}

	markdown, err := md.NewConverter("", true, nil).ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: converting %s to markdown: %w", utils.ErrParsing, pageURL, err)
	}
	markdown = strings.TrimSpace(markdown)

	tok, err := NewTokenizer(cfg.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	chunkCfg := DefaultChunkerConfig()
	if cfg.MaxChunkTokens > 0 {
		chunkCfg.MaxChunkSize = cfg.MaxChunkTokens
	}
	if cfg.ChunkOverlap > 0 {
		chunkCfg.ChunkOverlap = cfg.ChunkOverlap
	}
	chunks, err := ChunkMarkdown(markdown, chunkCfg, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: chunking %s: %w", utils.ErrParsing, pageURL, err)
	}
	if chunks == nil {
		chunks = []Chunk{}
	}

	return &GrammarInput{
		URL:         pageURL,
		Title:       title,
		Language:    strings.TrimSpace(lang),
		Markdown:    markdown,
		Headings:    ExtractHeadings([]byte(markdown)),
		Chunks:      chunks,
		WordCount:   len(strings.Fields(content.Text())),
		TotalTokens: max(tok.Count(markdown), 0),
		Encoding:    tok.Encoding(),
	}, nil
}

// absolutizeLinks rewrites relative hrefs against base; in-page anchors are left alone
func absolutizeLinks(content *goquery.Selection, base *url.URL) {
	content.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil || ref.IsAbs() {
			return
		}
		s.SetAttr("href", base.ResolveReference(ref).String())
	})
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			return s.Clone()
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body.Clone()
	}
	return doc.Selection.Clone()
}

// cleanupHTML removes permalink anchors and similar markup that reads as stray symbols
func cleanupHTML(content *goquery.Selection) {
	content.Find("a.headerlink, a.permalink, a.anchor, a[aria-hidden=true]").Remove()
	content.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
	content.Find("[hidden], [aria-hidden=true]").Remove()
}
