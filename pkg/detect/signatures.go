package detect

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind separates CMS platforms from other technologies
type Kind string

const (
	KindCMS        Kind = "cms"
	KindTechnology Kind = "technology"
)

// Signature defines detection patterns for a CMS or technology
type Signature struct {
	Name         string
	Kind         Kind
	Category     string
	Generator    string   // Case-insensitive prefix of <meta name="generator">
	Attributes   []string // HTML attributes to look for (e.g., "data-wf-page")
	Classes      []string // CSS classes; a trailing * is a prefix match
	Scripts      []string // Substrings of script src
	Stylesheets  []string // Substrings of stylesheet href
	HTMLPatterns []string // Substrings of the raw HTML
}

// Match is a successful signature evaluation
type Match struct {
	Signature  *Signature
	Version    string
	Confidence float64
}

// Evaluate checks the signature against a parsed document and its lowercased HTML
func (sig *Signature) Evaluate(doc *goquery.Document, htmlLower, generator string) (Match, bool) {
	if sig.Generator != "" && strings.HasPrefix(strings.ToLower(generator), strings.ToLower(sig.Generator)) {
		return Match{Signature: sig, Version: versionFrom(generator), Confidence: 0.95}, true
	}

	for _, attr := range sig.Attributes {
		if doc.Find("["+attr+"]").Length() > 0 {
			return Match{Signature: sig, Confidence: 0.9}, true
		}
	}

	for _, class := range sig.Classes {
		if hasClass(doc, class) {
			return Match{Signature: sig, Confidence: 0.8}, true
		}
	}

	if anyAttrContains(doc, "script[src]", "src", sig.Scripts) {
		return Match{Signature: sig, Confidence: 0.85}, true
	}
	if anyAttrContains(doc, "link[rel='stylesheet'][href]", "href", sig.Stylesheets) {
		return Match{Signature: sig, Confidence: 0.8}, true
	}

	for _, pattern := range sig.HTMLPatterns {
		if strings.Contains(htmlLower, strings.ToLower(pattern)) {
			return Match{Signature: sig, Confidence: 0.7}, true
		}
	}

	return Match{}, false
}

func hasClass(doc *goquery.Document, class string) bool {
	if !strings.HasSuffix(class, "*") {
		return doc.Find("."+class).Length() > 0
	}
	prefix := strings.TrimSuffix(class, "*")
	found := false
	doc.Find("[class]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		for _, c := range strings.Fields(s.AttrOr("class", "")) {
			if strings.HasPrefix(c, prefix) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func anyAttrContains(doc *goquery.Document, selector, attr string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	found := false
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		val := strings.ToLower(s.AttrOr(attr, ""))
		for _, p := range patterns {
			if strings.Contains(val, strings.ToLower(p)) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+|\d+`)

func versionFrom(generator string) string {
	return versionPattern.FindString(generator)
}

// signatures lists known platforms. CMS entries come first; the first CMS match wins.
var signatures = []Signature{
	{
		Name:         "WordPress",
		Kind:         KindCMS,
		Category:     "CMS",
		Generator:    "WordPress",
		Scripts:      []string{"/wp-includes/", "/wp-content/"},
		Stylesheets:  []string{"/wp-content/", "/wp-includes/"},
		HTMLPatterns: []string{"wp-json", "wp-emoji-release"},
	},
	{
		Name:         "Drupal",
		Kind:         KindCMS,
		Category:     "CMS",
		Generator:    "Drupal",
		Attributes:   []string{"data-drupal-selector", "data-drupal-link-system-path"},
		Scripts:      []string{"/core/misc/drupal.js", "/sites/all/"},
		HTMLPatterns: []string{"drupal.settings", "drupalsettings"},
	},
	{
		Name:         "Joomla",
		Kind:         KindCMS,
		Category:     "CMS",
		Generator:    "Joomla",
		Scripts:      []string{"/media/jui/", "/media/system/js/"},
		HTMLPatterns: []string{"joomla!"},
	},
	{
		Name:         "Shopify",
		Kind:         KindCMS,
		Category:     "Ecommerce",
		Scripts:      []string{"cdn.shopify.com"},
		HTMLPatterns: []string{"shopify.theme", "myshopify.com"},
	},
	{
		Name:         "Wix",
		Kind:         KindCMS,
		Category:     "Website builder",
		Generator:    "Wix.com",
		HTMLPatterns: []string{"static.wixstatic.com", "wix-warmup-data"},
	},
	{
		Name:         "Squarespace",
		Kind:         KindCMS,
		Category:     "Website builder",
		HTMLPatterns: []string{"static1.squarespace.com", "squarespace-cdn.com"},
	},
	{
		Name:       "Webflow",
		Kind:       KindCMS,
		Category:   "Website builder",
		Generator:  "Webflow",
		Attributes: []string{"data-wf-page", "data-wf-site"},
	},
	{
		Name:      "Ghost",
		Kind:      KindCMS,
		Category:  "CMS",
		Generator: "Ghost",
		Classes:   []string{"gh-head", "gh-portal*"},
	},
	{
		Name:         "Magento",
		Kind:         KindCMS,
		Category:     "Ecommerce",
		Scripts:      []string{"/static/version", "mage/"},
		HTMLPatterns: []string{"mage-init", "magento_"},
	},

	{Name: "Next.js", Kind: KindTechnology, Category: "JavaScript framework", Scripts: []string{"/_next/"}, HTMLPatterns: []string{"__next_data__"}},
	{Name: "Nuxt.js", Kind: KindTechnology, Category: "JavaScript framework", Scripts: []string{"/_nuxt/"}, HTMLPatterns: []string{"window.__nuxt__"}},
	{Name: "React", Kind: KindTechnology, Category: "JavaScript library", Attributes: []string{"data-reactroot"}, Scripts: []string{"react.production", "react-dom"}},
	{Name: "Vue.js", Kind: KindTechnology, Category: "JavaScript framework", Attributes: []string{"data-v-app"}, Scripts: []string{"vue.min.js", "vue.global"}},
	{Name: "Angular", Kind: KindTechnology, Category: "JavaScript framework", Attributes: []string{"ng-version"}},
	{Name: "jQuery", Kind: KindTechnology, Category: "JavaScript library", Scripts: []string{"jquery"}},
	{Name: "Bootstrap", Kind: KindTechnology, Category: "UI framework", Scripts: []string{"bootstrap.min.js", "bootstrap.bundle"}, Stylesheets: []string{"bootstrap"}},
	{Name: "Font Awesome", Kind: KindTechnology, Category: "Font scripts", Scripts: []string{"fontawesome", "font-awesome"}, Stylesheets: []string{"fontawesome", "font-awesome"}},
	{Name: "Google Analytics", Kind: KindTechnology, Category: "Analytics", Scripts: []string{"google-analytics.com", "googletagmanager.com/gtag/js"}},
	{Name: "Google Tag Manager", Kind: KindTechnology, Category: "Tag manager", Scripts: []string{"googletagmanager.com/gtm.js"}, HTMLPatterns: []string{"googletagmanager.com/ns.html"}},
	{Name: "Hotjar", Kind: KindTechnology, Category: "Analytics", Scripts: []string{"static.hotjar.com"}, HTMLPatterns: []string{"hotjar.com"}},
	{Name: "Cloudflare", Kind: KindTechnology, Category: "CDN", Scripts: []string{"cdnjs.cloudflare.com", "/cdn-cgi/"}},
	{Name: "WooCommerce", Kind: KindTechnology, Category: "Ecommerce", Classes: []string{"woocommerce*"}, Stylesheets: []string{"/plugins/woocommerce/"}},
}
