package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// The scraping service and its older versions disagree on field names. These helpers accept every
// known alias and reject anything that is not the expected JSON kind.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// str returns the first non-empty string value among keys
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// number accepts JSON numbers and numeric strings
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "px"), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func intVal(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if f, ok := number(m[k]); ok && f >= 0 {
			return int(f)
		}
	}
	return 0
}

// confidence normalizes to [0,1]. Values above 1 are read as percentages. 0 means unset.
func confidence(m map[string]any) float64 {
	f, ok := number(m["confidence"])
	if !ok || f <= 0 {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	return math.Min(f, 1)
}

func boolPtr(m map[string]any, key string) *bool {
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

// Technology maps one raw technology entry. A bare string is taken as the name.
func Technology(v any) (models.Technology, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		return models.Technology{Name: s}, s != ""
	}
	m, ok := asMap(v)
	if !ok {
		return models.Technology{}, false
	}
	t := models.Technology{
		Name:            str(m, "name", "technology"),
		Version:         str(m, "version"),
		Category:        str(m, "category", "type"),
		Confidence:      confidence(m),
		DetectionMethod: str(m, "detection_method", "detectionMethod", "method"),
		Active:          boolPtr(m, "active"),
		Description:     str(m, "description"),
		Author:          str(m, "author"),
		Website:         str(m, "website", "url"),
	}
	if t.Category == "" {
		if cats, ok := m["categories"].([]any); ok && len(cats) > 0 {
			if c, ok := cats[0].(string); ok {
				t.Category = strings.TrimSpace(c)
			}
		}
	}
	return t, t.Name != ""
}

// Technologies maps a raw list, dropping entries without a name
func Technologies(raw []any) []models.Technology {
	var out []models.Technology
	for _, v := range raw {
		if t, ok := Technology(v); ok {
			out = append(out, t)
		}
	}
	return out
}

// CMSComponent maps one raw plugin, theme or component entry. kind fills Type when absent.
func CMSComponent(v any, kind string) (models.CMSComponent, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		return models.CMSComponent{Name: s, Type: kind}, s != ""
	}
	m, ok := asMap(v)
	if !ok {
		return models.CMSComponent{}, false
	}
	c := models.CMSComponent{
		Name:            str(m, "name", "slug"),
		Version:         str(m, "version"),
		Type:            str(m, "type", "category"),
		Confidence:      confidence(m),
		DetectionMethod: str(m, "detection_method", "detectionMethod", "method"),
		Active:          boolPtr(m, "active"),
		Description:     str(m, "description"),
		Author:          str(m, "author"),
	}
	if c.Type == "" {
		c.Type = kind
	}
	return c, c.Name != ""
}

func cmsComponents(v any, kind string) []models.CMSComponent {
	raw, _ := v.([]any)
	var out []models.CMSComponent
	for _, item := range raw {
		if c, ok := CMSComponent(item, kind); ok {
			out = append(out, c)
		}
	}
	return out
}

// CMS maps the extractedData.cms object
func CMS(m map[string]any) models.CMSInfo {
	if m == nil {
		return models.CMSInfo{}
	}
	return models.CMSInfo{
		Type:            str(m, "type", "name"),
		Version:         str(m, "version"),
		Confidence:      confidence(m),
		DetectionMethod: str(m, "detection_method", "detectionMethod", "method"),
		Plugins:         cmsComponents(m["plugins"], "plugin"),
		Themes:          cmsComponents(m["themes"], "theme"),
		Components:      cmsComponents(m["components"], "component"),
	}
}

// MetaTags maps raw meta tag entries, dropping entries without a name/property or content
func MetaTags(raw []any) []models.MetaTag {
	var out []models.MetaTag
	for _, v := range raw {
		m, ok := asMap(v)
		if !ok {
			continue
		}
		tag := models.MetaTag{
			Name:     str(m, "name"),
			Property: str(m, "property"),
			Content:  str(m, "content", "value"),
		}
		if tag.Key() == "" || tag.Content == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// SocialMetaTags keeps Open Graph and Twitter card tags
func SocialMetaTags(tags []models.MetaTag) []models.MetaTag {
	var out []models.MetaTag
	for _, t := range tags {
		k := strings.ToLower(t.Key())
		if strings.HasPrefix(k, "og:") || strings.HasPrefix(k, "twitter:") {
			out = append(out, t)
		}
	}
	return out
}

type rawLink struct {
	href   string
	text   string
	title  string
	status models.LinkStatus
}

func linkFrom(v any) (rawLink, bool) {
	if s, ok := v.(string); ok {
		return rawLink{href: strings.TrimSpace(s)}, true
	}
	m, ok := asMap(v)
	if !ok {
		return rawLink{}, false
	}
	l := rawLink{
		href:  str(m, "url", "href"),
		text:  str(m, "text", "anchor", "anchorText"),
		title: str(m, "title"),
	}
	if st := models.LinkStatus(str(m, "status")); st.IsValid() {
		l.status = st
	}
	return l, true
}

type rawImage struct {
	src    string
	alt    string
	title  string
	width  int
	height int
}

func imageFrom(v any) (rawImage, bool) {
	if s, ok := v.(string); ok {
		return rawImage{src: strings.TrimSpace(s)}, true
	}
	m, ok := asMap(v)
	if !ok {
		return rawImage{}, false
	}
	return rawImage{
		src:    str(m, "src", "url"),
		alt:    str(m, "alt"),
		title:  str(m, "title"),
		width:  intVal(m, "width", "naturalWidth"),
		height: intVal(m, "height", "naturalHeight"),
	}, true
}
