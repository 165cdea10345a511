package normalize

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// Site holds the project's site URL, parsed once, for resolving and classifying references
type Site struct {
	raw    string // site_url without trailing slash
	origin string // scheme://host
	host   string // lowercased host without port
}

// NewSite parses siteURL. It must be absolute http(s).
func NewSite(siteURL string) (*Site, error) {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	return &Site{
		raw:    strings.TrimRight(u.String(), "/"),
		origin: u.Scheme + "://" + u.Host,
		host:   strings.ToLower(u.Hostname()),
	}, nil
}

// Host returns the site's lowercased hostname
func (s *Site) Host() string { return s.host }

// skipReference reports references that never become records: empty, in-page anchors,
// loopback hosts, and non-fetchable schemes.
func skipReference(ref string) bool {
	if ref == "" || ref == "#" || strings.HasPrefix(ref, "#") {
		return true
	}
	lower := strings.ToLower(ref)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
		return true
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:", "blob:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Resolve turns ref into an absolute https URL. ok is false for skipped references.
// A leading "/" joins the origin; any other relative reference joins the site URL with a "/".
func (s *Site) Resolve(ref string) (resolved string, ok bool) {
	ref = strings.TrimSpace(ref)
	if skipReference(ref) {
		return "", false
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		resolved = ref
	case strings.HasPrefix(ref, "//"):
		resolved = "https:" + ref
	case strings.HasPrefix(ref, "/"):
		resolved = s.origin + ref
	default:
		resolved = s.raw + "/" + ref
	}

	if strings.HasPrefix(strings.ToLower(resolved), "http://") {
		resolved = "https://" + resolved[len("http://"):]
	}

	// The site itself may be a loopback address
	if skipReference(resolved) {
		return "", false
	}
	return resolved, true
}

// ClassifyLink decides internal vs external from the original href: a leading "/" is internal,
// an http(s) href is internal when its host matches the site host, anything else is external.
func (s *Site) ClassifyLink(href string) models.LinkType {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return models.LinkTypeInternal
	}
	if strings.HasPrefix(strings.ToLower(href), "http") {
		if u, err := url.Parse(href); err == nil && strings.EqualFold(u.Hostname(), s.host) {
			return models.LinkTypeInternal
		}
	}
	return models.LinkTypeExternal
}

// IsExternalPage reports whether pageURL lives on a different host than the site
func (s *Site) IsExternalPage(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return !strings.EqualFold(u.Hostname(), s.host)
}

var imageExtensions = map[string]models.ImageType{
	".jpg":  models.ImageTypeJPEG,
	".jpeg": models.ImageTypeJPEG,
	".jpe":  models.ImageTypeJPEG,
	".png":  models.ImageTypePNG,
	".gif":  models.ImageTypeGIF,
	".webp": models.ImageTypeWebP,
	".svg":  models.ImageTypeSVG,
	".bmp":  models.ImageTypeBMP,
	".ico":  models.ImageTypeICO,
	".tif":  models.ImageTypeTIFF,
	".tiff": models.ImageTypeTIFF,
}

// ClassifyImageType maps the URL's file extension to an ImageType, ignoring case, query and fragment
func ClassifyImageType(rawURL string) models.ImageType {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if t, ok := imageExtensions[strings.ToLower(path.Ext(p))]; ok {
		return t
	}
	return models.ImageTypeUnknown
}
