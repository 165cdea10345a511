package detect

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// Method is the detection_method stamped on everything this package finds
const Method = "html_signature"

// Result is what HTML fingerprinting found on one page
type Result struct {
	CMS          models.CMSInfo
	Technologies []models.Technology
}

// Detector fingerprints CMS platforms and technologies from page HTML
type Detector struct {
	cache *resultCache
	log   *logrus.Entry
}

// NewDetector creates a Detector with a result cache keyed by content hash
func NewDetector(log *logrus.Entry) *Detector {
	return &Detector{
		cache: newResultCache(defaultCacheEntries),
		log:   log,
	}
}

// Detect parses html and returns the detections. Empty input yields an empty result.
func (d *Detector) Detect(html string) (Result, error) {
	if strings.TrimSpace(html) == "" {
		return Result{}, nil
	}

	key := utils.ContentHash(html)
	if cached, ok := d.cache.get(key); ok {
		return cached.clone(), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("%w: parsing html for detection: %v", utils.ErrParsing, err)
	}

	result := DetectDocument(doc, html)
	d.log.WithFields(logrus.Fields{
		"cms":          result.CMS.Type,
		"technologies": len(result.Technologies),
		"plugins":      len(result.CMS.Plugins),
	}).Debug("HTML fingerprinting complete")

	d.cache.set(key, result.clone())
	return result, nil
}

// clone copies every slice so callers never share backing arrays with the cache
func (r Result) clone() Result {
	r.CMS.Plugins = slices.Clone(r.CMS.Plugins)
	r.CMS.Themes = slices.Clone(r.CMS.Themes)
	r.CMS.Components = slices.Clone(r.CMS.Components)
	r.Technologies = slices.Clone(r.Technologies)
	return r
}

// DetectDocument evaluates every signature against doc. The first matching CMS wins.
func DetectDocument(doc *goquery.Document, html string) Result {
	htmlLower := strings.ToLower(html)
	generator := ""
	doc.Find("meta[name]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("name", ""), "generator") {
			generator = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})

	var result Result
	for i := range signatures {
		sig := &signatures[i]
		m, ok := sig.Evaluate(doc, htmlLower, generator)
		if !ok {
			continue
		}
		switch sig.Kind {
		case KindCMS:
			if result.CMS.Type == "" {
				result.CMS.Type = sig.Name
				result.CMS.Version = m.Version
				result.CMS.Confidence = m.Confidence
				result.CMS.DetectionMethod = Method
			}
		case KindTechnology:
			result.Technologies = append(result.Technologies, models.Technology{
				Name:            sig.Name,
				Version:         m.Version,
				Category:        sig.Category,
				Confidence:      m.Confidence,
				DetectionMethod: Method,
			})
		}
	}

	if result.CMS.Type == "WordPress" {
		result.CMS.Plugins = wordpressAssets(doc, wpPluginPattern, "plugin")
		result.CMS.Themes = wordpressAssets(doc, wpThemePattern, "theme")
	}
	return result
}

var (
	wpPluginPattern = regexp.MustCompile(`/wp-content/plugins/([a-z0-9_-]+)/`)
	wpThemePattern  = regexp.MustCompile(`/wp-content/themes/([a-z0-9_-]+)/`)
	wpVersionParam  = regexp.MustCompile(`[?&]ver=([0-9][0-9.]*)`)
)

// wordpressAssets collects plugin or theme slugs from asset URLs, with the ?ver= query when present
func wordpressAssets(doc *goquery.Document, pattern *regexp.Regexp, kind string) []models.CMSComponent {
	seen := make(map[string]int)
	var out []models.CMSComponent

	doc.Find("script[src], link[href]").Each(func(i int, s *goquery.Selection) {
		ref := strings.ToLower(s.AttrOr("src", s.AttrOr("href", "")))
		m := pattern.FindStringSubmatch(ref)
		if m == nil {
			return
		}
		version := ""
		if v := wpVersionParam.FindStringSubmatch(ref); v != nil {
			version = v[1]
		}
		if idx, ok := seen[m[1]]; ok {
			if out[idx].Version == "" {
				out[idx].Version = version
			}
			return
		}
		seen[m[1]] = len(out)
		out = append(out, models.CMSComponent{
			Name:            m[1],
			Version:         version,
			Type:            kind,
			Confidence:      0.9,
			DetectionMethod: Method,
		})
	})
	return out
}
