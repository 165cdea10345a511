package models

// DefaultConfidence is assigned to detections that arrive without a confidence value
const DefaultConfidence = 0.8

// DefaultDetectionMethod is assigned to detections that do not say how they were found
const DefaultDetectionMethod = "unknown"

// Technology is a fingerprinted technology on the audited site.
// Identity for deduplication is (name, category).
type Technology struct {
	Name            string  `json:"name"`
	Version         string  `json:"version,omitempty"`
	Category        string  `json:"category,omitempty"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
	Active          *bool   `json:"active,omitempty"`
	Description     string  `json:"description,omitempty"`
	Author          string  `json:"author,omitempty"`
	Website         string  `json:"website,omitempty"`
}

// ConfidenceScore returns the confidence, 0 when unset
func (t Technology) ConfidenceScore() float64 { return t.Confidence }

// WithDefaults returns a copy with confidence, active and detection method filled in
func (t Technology) WithDefaults() Technology {
	if t.Confidence <= 0 {
		t.Confidence = DefaultConfidence
	}
	t.Active = defaultActive(t.Active)
	if t.DetectionMethod == "" {
		t.DetectionMethod = DefaultDetectionMethod
	}
	return t
}

// IsActive treats an unset flag as active
func (t Technology) IsActive() bool { return t.Active == nil || *t.Active }

// CMSComponent is a detected CMS plugin, theme or component.
// Identity for deduplication is the name, optionally qualified by type.
type CMSComponent struct {
	Name            string  `json:"name"`
	Version         string  `json:"version,omitempty"`
	Type            string  `json:"type,omitempty"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
	Active          *bool   `json:"active,omitempty"`
	Description     string  `json:"description,omitempty"`
	Author          string  `json:"author,omitempty"`
}

// ConfidenceScore returns the confidence, 0 when unset
func (c CMSComponent) ConfidenceScore() float64 { return c.Confidence }

// WithDefaults returns a copy with confidence, active and detection method filled in
func (c CMSComponent) WithDefaults() CMSComponent {
	if c.Confidence <= 0 {
		c.Confidence = DefaultConfidence
	}
	c.Active = defaultActive(c.Active)
	if c.DetectionMethod == "" {
		c.DetectionMethod = DefaultDetectionMethod
	}
	return c
}

// IsActive treats an unset flag as active
func (c CMSComponent) IsActive() bool { return c.Active == nil || *c.Active }

// CMSInfo is the detected content management system of a site
type CMSInfo struct {
	Type            string         `json:"type,omitempty"`
	Version         string         `json:"version,omitempty"`
	Confidence      float64        `json:"confidence,omitempty"`
	DetectionMethod string         `json:"detection_method,omitempty"`
	Plugins         []CMSComponent `json:"plugins,omitempty"`
	Themes          []CMSComponent `json:"themes,omitempty"`
	Components      []CMSComponent `json:"components,omitempty"`
}

// IsEmpty reports whether nothing was detected
func (c CMSInfo) IsEmpty() bool {
	return c.Type == "" && len(c.Plugins) == 0 && len(c.Themes) == 0 && len(c.Components) == 0
}

func defaultActive(active *bool) *bool {
	v := active == nil || *active
	return &v
}
