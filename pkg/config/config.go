package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CrawlerConfig holds settings for dispatching crawls to the scraping service
type CrawlerConfig struct {
	Endpoints              []string      `yaml:"endpoints"`                       // Primary first, then fallbacks
	PerAttemptTimeout      time.Duration `yaml:"per_attempt_timeout,omitempty"`   // Hard abort per HTTP attempt
	MaxRetries             int           `yaml:"max_retries,omitempty"`           // Outer attempts
	BaseDelay              time.Duration `yaml:"base_delay,omitempty"`            // Backoff base between outer attempts
	Failover               string        `yaml:"failover,omitempty"`              // "expanding" (default) or "all"
	Mode                   string        `yaml:"mode,omitempty"`                  // "single" or "multipage"
	MaxPages               int           `yaml:"max_pages,omitempty"`             // Page budget for multipage mode
	ExtractImages          *bool         `yaml:"extract_images,omitempty"`        // nil = true
	ExtractLinks           *bool         `yaml:"extract_links,omitempty"`         // nil = true
	DetectTechnologies     *bool         `yaml:"detect_technologies,omitempty"`   // nil = true
	OriginScheme           string        `yaml:"origin_scheme,omitempty"`         // Scheme of the calling origin, for the mixed content check
	SEOPlaceholderTemplate string        `yaml:"seo_placeholder_title,omitempty"` // Title prefix for synthesized SEO input
	MaxConcurrentAudits    int           `yaml:"max_concurrent_audits,omitempty"` // Batch audits running at once
}

// PageSpeedConfig holds settings for the PageSpeed Insights client
type PageSpeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	APIURL   string        `yaml:"api_url,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	Strategy string        `yaml:"strategy,omitempty"` // "mobile" or "desktop"
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// LinkCheckConfig holds settings for the batched link health checker
type LinkCheckConfig struct {
	Endpoint    string        `yaml:"endpoint"`               // Full URL of POST /api/check-link
	BatchSize   int           `yaml:"batch_size,omitempty"`   // Links probed concurrently per batch
	BatchDelay  time.Duration `yaml:"batch_delay,omitempty"`  // Fixed pause between batches
	TokenSecret string        `yaml:"token_secret,omitempty"` // HS256 secret shared with the probe server
	TokenTTL    time.Duration `yaml:"token_ttl,omitempty"`
	Subject     string        `yaml:"subject,omitempty"` // Token subject (user id)
}

// ProbeServerConfig holds settings for the server side of the link check endpoint
type ProbeServerConfig struct {
	ListenAddr          string        `yaml:"listen_addr,omitempty"`
	RequestsPerMinute   int           `yaml:"requests_per_minute,omitempty"`
	MaxRequestsPerHost  int           `yaml:"max_requests_per_host,omitempty"`
	DelayPerHost        time.Duration `yaml:"delay_per_host,omitempty"`
	UserAgent           string        `yaml:"user_agent,omitempty"`
	RespectRobots       bool          `yaml:"respect_robots,omitempty"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout,omitempty"`
	AllowPrivateTargets bool          `yaml:"allow_private_targets,omitempty"` // Permit loopback and private-network targets
}

// ContentConfig holds settings for preparing page text for grammar analysis
type ContentConfig struct {
	TokenizerEncoding string `yaml:"tokenizer_encoding,omitempty"`
	MaxChunkTokens    int    `yaml:"max_chunk_tokens,omitempty"`
	ChunkOverlap      int    `yaml:"chunk_overlap,omitempty"`
}

// WatchConfig holds settings for scheduled link re-checks
type WatchConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
}

// ProjectConfig names a site to audit in batch mode
type ProjectConfig struct {
	SiteURL  string `yaml:"site_url"`
	Mode     string `yaml:"mode,omitempty"`
	MaxPages int    `yaml:"max_pages,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	StateDir           string                   `yaml:"state_dir"`
	CacheTTL           time.Duration            `yaml:"cache_ttl,omitempty"`
	Features           []string                 `yaml:"features,omitempty"` // Enabled feature ids, e.g. "broken_links_check"
	Crawler            CrawlerConfig            `yaml:"crawler"`
	PageSpeed          PageSpeedConfig          `yaml:"pagespeed,omitempty"`
	LinkCheck          LinkCheckConfig          `yaml:"link_check,omitempty"`
	ProbeServer        ProbeServerConfig        `yaml:"probe_server,omitempty"`
	Content            ContentConfig            `yaml:"content,omitempty"`
	Watch              WatchConfig              `yaml:"watch,omitempty"`
	HTTPClientSettings HTTPClientConfig         `yaml:"http_client_settings,omitempty"`
	Projects           map[string]ProjectConfig `yaml:"projects,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	UserAgent             string        `yaml:"user_agent,omitempty"`              // Sent when a request sets none
	DenyPrivateNetworks   bool          `yaml:"deny_private_networks,omitempty"`   // Refuse to dial loopback, private and link-local addresses
}

// Load reads and parses the YAML config file at path. Defaults are not applied; call Validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// HasFeature reports whether the feature id is enabled
func (c *AppConfig) HasFeature(id string) bool {
	for _, f := range c.Features {
		if f == id {
			return true
		}
	}
	return false
}

// EffectiveFlag resolves an optional boolean to its default of true
func EffectiveFlag(flag *bool) bool {
	return flag == nil || *flag
}
