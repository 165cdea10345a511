package models

// ProjectStatus represents the lifecycle state of an audit project
type ProjectStatus string

const (
	ProjectStatusUnset      ProjectStatus = ""            // Zero value = unset/unknown
	ProjectStatusPending    ProjectStatus = "pending"     // Submitted, waiting for a crawl
	ProjectStatusInProgress ProjectStatus = "in_progress" // Crawl dispatched
	ProjectStatusCompleted  ProjectStatus = "completed"   // Crawl normalized and persisted
	ProjectStatusFailed     ProjectStatus = "failed"      // Crawl gave up
)

// String implements fmt.Stringer for logging
func (s ProjectStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusPending, ProjectStatusInProgress, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Forward path is pending -> in_progress -> {completed, failed}; a retry resets
// failed or in_progress back to pending.
func (s ProjectStatus) CanTransition(next ProjectStatus) bool {
	switch s {
	case ProjectStatusPending:
		return next == ProjectStatusInProgress
	case ProjectStatusInProgress:
		return next == ProjectStatusCompleted || next == ProjectStatusFailed || next == ProjectStatusPending
	case ProjectStatusFailed:
		return next == ProjectStatusPending
	}
	return false
}

// LinkStatus is the health of a single discovered link
type LinkStatus string

const (
	LinkStatusUnknown LinkStatus = "unknown"
	LinkStatusWorking LinkStatus = "working"
	LinkStatusBroken  LinkStatus = "broken"
)

// String implements fmt.Stringer; empty reads as unknown
func (s LinkStatus) String() string {
	if s == "" {
		return string(LinkStatusUnknown)
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkStatusUnknown, LinkStatusWorking, LinkStatusBroken:
		return true
	}
	return false
}

// LinkType classifies a link relative to the project's site
type LinkType string

const (
	LinkTypeInternal LinkType = "internal"
	LinkTypeExternal LinkType = "external"
)

// ImageType is derived from an image URL's file extension
type ImageType string

const (
	ImageTypeJPEG    ImageType = "JPEG"
	ImageTypePNG     ImageType = "PNG"
	ImageTypeGIF     ImageType = "GIF"
	ImageTypeWebP    ImageType = "WebP"
	ImageTypeSVG     ImageType = "SVG"
	ImageTypeBMP     ImageType = "BMP"
	ImageTypeICO     ImageType = "ICO"
	ImageTypeTIFF    ImageType = "TIFF"
	ImageTypeUnknown ImageType = "Unknown"
)

// IsValid returns true if the type is one of the fixed enum values
func (t ImageType) IsValid() bool {
	switch t {
	case ImageTypeJPEG, ImageTypePNG, ImageTypeGIF, ImageTypeWebP, ImageTypeSVG,
		ImageTypeBMP, ImageTypeICO, ImageTypeTIFF, ImageTypeUnknown:
		return true
	}
	return false
}

// CrawlMode selects a single-page or multi-page crawl
type CrawlMode string

const (
	CrawlModeSingle    CrawlMode = "single"
	CrawlModeMultipage CrawlMode = "multipage"
)

// IsValid returns true if the mode is single or multipage
func (m CrawlMode) IsValid() bool {
	return m == CrawlModeSingle || m == CrawlModeMultipage
}
