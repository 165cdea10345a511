package normalize

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

func parseHTML(body string) *goquery.Document {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}

func htmlLinks(doc *goquery.Document) []rawLink {
	var out []rawLink
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		out = append(out, rawLink{
			href:  strings.TrimSpace(s.AttrOr("href", "")),
			text:  strings.Join(strings.Fields(s.Text()), " "),
			title: strings.TrimSpace(s.AttrOr("title", "")),
		})
	})
	return out
}

func htmlImages(doc *goquery.Document) []rawImage {
	var out []rawImage
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		w, _ := strconv.Atoi(strings.TrimSpace(s.AttrOr("width", "")))
		h, _ := strconv.Atoi(strings.TrimSpace(s.AttrOr("height", "")))
		out = append(out, rawImage{
			src:    src,
			alt:    strings.TrimSpace(s.AttrOr("alt", "")),
			title:  strings.TrimSpace(s.AttrOr("title", "")),
			width:  max(w, 0),
			height: max(h, 0),
		})
	})
	return out
}

func htmlMetaTags(doc *goquery.Document) []models.MetaTag {
	var out []models.MetaTag
	doc.Find("meta[content]").Each(func(i int, s *goquery.Selection) {
		tag := models.MetaTag{
			Name:     strings.TrimSpace(s.AttrOr("name", "")),
			Property: strings.TrimSpace(s.AttrOr("property", "")),
			Content:  strings.TrimSpace(s.AttrOr("content", "")),
		}
		if tag.Key() != "" && tag.Content != "" {
			out = append(out, tag)
		}
	})
	return out
}

func htmlTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("head title").First().Text())
}
