package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func boolPtr(b bool) *bool {
	return &b
}

func minimalConfig() AppConfig {
	return AppConfig{
		Crawler: CrawlerConfig{Endpoints: []string{"https://crawl.example.com/api/scrape"}},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := minimalConfig()

	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.Contains(t, warnings[0], "state_dir is empty")
	assert.Equal(t, "./audit_state", cfg.StateDir)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)

	assert.Equal(t, 180*time.Second, cfg.Crawler.PerAttemptTimeout)
	assert.Equal(t, 3, cfg.Crawler.MaxRetries)
	assert.Equal(t, time.Second, cfg.Crawler.BaseDelay)
	assert.Equal(t, "expanding", cfg.Crawler.Failover)
	assert.Equal(t, "single", cfg.Crawler.Mode)
	assert.Equal(t, 1, cfg.Crawler.MaxPages)
	assert.Equal(t, 4, cfg.Crawler.MaxConcurrentAudits)
	assert.Equal(t, "https", cfg.Crawler.OriginScheme)

	assert.Equal(t, 50, cfg.LinkCheck.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.LinkCheck.BatchDelay)

	assert.Equal(t, "mobile", cfg.PageSpeed.Strategy)
	assert.Equal(t, ":8090", cfg.ProbeServer.ListenAddr)
	assert.Equal(t, "cl100k_base", cfg.Content.TokenizerEncoding)
	assert.Equal(t, 24*time.Hour, cfg.Watch.Interval)
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, "web-audit/1.0", cfg.HTTPClientSettings.UserAgent)
}

func TestValidate_Crawler(t *testing.T) {
	t.Run("no endpoints is fatal", func(t *testing.T) {
		cfg := AppConfig{StateDir: "x"}
		_, err := cfg.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("non http endpoint is fatal", func(t *testing.T) {
		cfg := AppConfig{StateDir: "x", Crawler: CrawlerConfig{Endpoints: []string{"ftp://host/x"}}}
		_, err := cfg.Validate()
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("multipage gets larger page budget", func(t *testing.T) {
		cfg := minimalConfig()
		cfg.Crawler.Mode = "MultiPage"
		_, err := cfg.Validate()
		require.NoError(t, err)
		assert.Equal(t, "multipage", cfg.Crawler.Mode)
		assert.Equal(t, 50, cfg.Crawler.MaxPages)
	})

	t.Run("unknown mode warns", func(t *testing.T) {
		cfg := minimalConfig()
		cfg.StateDir = "x"
		cfg.Crawler.Mode = "deep"
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "crawler.mode")
		assert.Equal(t, "single", cfg.Crawler.Mode)
	})

	t.Run("insecure endpoint on https origin warns", func(t *testing.T) {
		cfg := minimalConfig()
		cfg.StateDir = "x"
		cfg.Crawler.Endpoints = []string{"https://a.example.com", "http://b.example.com"}
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "http://b.example.com")
	})
}

func TestValidate_LinkCheckWarnings(t *testing.T) {
	cfg := minimalConfig()
	cfg.StateDir = "x"
	cfg.Features = []string{FeatureBrokenLinksCheck}

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestValidate_DropsInvalidProjects(t *testing.T) {
	cfg := minimalConfig()
	cfg.StateDir = "x"
	cfg.Projects = map[string]ProjectConfig{
		"good": {SiteURL: "https://example.com"},
		"bad":  {SiteURL: "not a url"},
	}

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Contains(t, cfg.Projects, "good")
	assert.NotContains(t, cfg.Projects, "bad")
}

func TestHasFeature(t *testing.T) {
	cfg := AppConfig{Features: []string{"broken_links_check"}}
	assert.True(t, cfg.HasFeature(FeatureBrokenLinksCheck))
	assert.False(t, cfg.HasFeature("grammar_check"))
}

func TestEffectiveFlag(t *testing.T) {
	assert.True(t, EffectiveFlag(nil))
	assert.True(t, EffectiveFlag(boolPtr(true)))
	assert.False(t, EffectiveFlag(boolPtr(false)))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
state_dir: ./state
features: [broken_links_check]
crawler:
  endpoints:
    - https://crawl.example.com/api/scrape
    - https://backup.example.com/api/scrape
  per_attempt_timeout: 90s
  mode: multipage
  extract_images: false
link_check:
  endpoint: https://probe.example.com/api/check-link
  batch_size: 20
projects:
  acme:
    site_url: https://acme.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./state", cfg.StateDir)
	assert.Len(t, cfg.Crawler.Endpoints, 2)
	assert.Equal(t, 90*time.Second, cfg.Crawler.PerAttemptTimeout)
	assert.False(t, EffectiveFlag(cfg.Crawler.ExtractImages))
	assert.True(t, EffectiveFlag(cfg.Crawler.ExtractLinks))
	assert.Equal(t, 20, cfg.LinkCheck.BatchSize)
	assert.Equal(t, "https://acme.example.com", cfg.Projects["acme"].SiteURL)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
