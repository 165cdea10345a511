package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

const crawlBody = `{
  "pages": [
    {"url": "https://ex.com", "statusCode": 200, "title": "Example",
     "html": "<html><head><title>Example home page</title></head><body><h1>Hi</h1><a href='/a'>A</a><a href='http://bad.com'>B</a></body></html>"},
    {"url": "https://ex.com/a", "statusCode": 200, "title": "A", "html": "<p>a</p>"}
  ],
  "extractedData": {"technologies": [
    {"name": "WordPress", "confidence": 0.6},
    {"name": "WordPress", "confidence": 0.95, "version": "6.2"}
  ]},
  "responseTime": 120
}`

const noHTMLBody = `{"pages": [{"url": "https://ex.com", "statusCode": 200, "title": "Example"}], "extractedData": {}}`

type fakeCrawler struct {
	calls   atomic.Int32
	mu      sync.Mutex
	payload any
	body    string
	err     error
}

func (f *fakeCrawler) RequestWithFailover(ctx context.Context, endpoints []string, payload any, perAttemptTimeout time.Duration, maxRetries int) (*fetch.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.payload = payload
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Response{Endpoint: endpoints[0], StatusCode: 200, Body: []byte(f.body), Attempts: 1}, nil
}

type fakePageSpeed struct {
	calls atomic.Int32
	err   error
}

func (f *fakePageSpeed) Run(ctx context.Context, siteURL string) (*models.PageSpeedResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.PageSpeedResult{URL: siteURL, Strategy: "mobile", PerformanceScore: 91}, nil
}

// flakyStore fails page writes while failPages is set
type flakyStore struct {
	storage.Persistence
	failPages atomic.Bool
}

func (s *flakyStore) CreateScrapedPages(ctx context.Context, pages []models.ScrapedPage) error {
	if s.failPages.Load() {
		return errors.New("disk full")
	}
	return s.Persistence.CreateScrapedPages(ctx, pages)
}

type harness struct {
	store     *flakyStore
	crawler   *fakeCrawler
	pageSpeed *fakePageSpeed
	d         *Dispatcher
}

func newHarness(t *testing.T, body string) *harness {
	t.Helper()
	badger, err := storage.NewInMemoryBadgerStore(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { badger.Close() })

	h := &harness{
		store:     &flakyStore{Persistence: badger},
		crawler:   &fakeCrawler{body: body},
		pageSpeed: &fakePageSpeed{},
	}
	h.d = New(Options{
		Store:     h.store,
		Crawler:   h.crawler,
		PageSpeed: h.pageSpeed,
		Config: config.CrawlerConfig{
			Endpoints:         []string{"https://crawl.test/api/scrape"},
			PerAttemptTimeout: 180 * time.Second,
			MaxRetries:        3,
			Mode:              "single",
			MaxPages:          1,
		},
	}, testLogger())
	return h
}

func (h *harness) seed(t *testing.T, id string, status models.ProjectStatus) {
	t.Helper()
	require.NoError(t, h.store.CreateAuditProject(context.Background(), &models.AuditProject{
		ID:      id,
		SiteURL: "https://ex.com",
		Status:  status,
	}))
}

func (h *harness) project(t *testing.T, id string) *models.AuditProject {
	t.Helper()
	p, err := h.store.GetAuditProject(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestRun_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("in progress project rejected without network calls", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusInProgress)

		_, err := h.d.Run(ctx, "p1")
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrInvalidTransition)
		h.d.Wait()
		assert.Zero(t, h.crawler.calls.Load())
		assert.Zero(t, h.pageSpeed.calls.Load())
	})

	t.Run("completed project is a no-op", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusCompleted)

		res, err := h.d.Run(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Zero(t, h.crawler.calls.Load())
	})

	t.Run("crawl already in flight", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusPending)
		tok, err := h.d.Registry().Acquire("p1")
		require.NoError(t, err)
		defer h.d.Registry().Release(tok)

		_, err = h.d.Run(ctx, "p1")
		assert.ErrorIs(t, err, utils.ErrCrawlInFlight)
		assert.Zero(t, h.crawler.calls.Load())
	})

	t.Run("unknown project", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		_, err := h.d.Run(ctx, "missing")
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, crawlBody)
	h.seed(t, "p1", models.ProjectStatusPending)

	res, err := h.d.Run(ctx, "p1")
	require.NoError(t, err)
	h.d.Wait()

	assert.True(t, res.Persisted)
	assert.NoError(t, res.PersistErr)
	assert.Equal(t, "crawled_pages", res.SEOSource)
	assert.Zero(t, h.d.Registry().Len())

	h.crawler.mu.Lock()
	req, ok := h.crawler.payload.(models.CrawlRequest)
	h.crawler.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, models.CrawlRequest{
		URL: "https://ex.com", Mode: models.CrawlModeSingle, MaxPages: 1,
		ExtractImagesFlag: true, ExtractLinksFlag: true, DetectTechnologiesFlag: true,
	}, req)

	stored := h.project(t, "p1")
	assert.Equal(t, models.ProjectStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.SEOAnalysis)
	assert.False(t, stored.SEOAnalysis.Placeholder)

	pages, err := h.store.GetScrapedPages(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, len(pages), stored.TotalPages)
	require.Len(t, pages, 2)
	assert.Equal(t, 0, pages[0].ScanOrder)

	require.Len(t, stored.Technologies, 1)
	assert.Equal(t, 0.95, stored.Technologies[0].Confidence)
	assert.Equal(t, "6.2", stored.Technologies[0].Version)

	assert.Equal(t, int32(1), h.pageSpeed.calls.Load())
	assert.False(t, stored.PageSpeedLoading)
	require.NotNil(t, stored.PageSpeedData)
	assert.Equal(t, 91.0, stored.PageSpeedData.PerformanceScore)
}

func TestRun_Rerun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, crawlBody)
	h.seed(t, "p1", models.ProjectStatusPending)

	_, err := h.d.Run(ctx, "p1")
	require.NoError(t, err)

	_, err = h.store.UpdateAuditProject(ctx, "p1", models.ProjectPatch{Status: models.Ptr(models.ProjectStatusFailed)})
	require.NoError(t, err)
	_, err = h.d.Reset(ctx, "p1")
	require.NoError(t, err)
	_, err = h.d.Run(ctx, "p1")
	require.NoError(t, err)
	h.d.Wait()

	pages, err := h.store.GetScrapedPages(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, 2, h.project(t, "p1").TotalPages)
}

func TestRun_CrawlFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, crawlBody)
	h.crawler.err = &utils.NetworkError{Endpoints: []string{"https://crawl.test"}, Timeout: true, Err: context.DeadlineExceeded}
	h.seed(t, "p1", models.ProjectStatusPending)

	_, err := h.d.Run(ctx, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNetwork)
	h.d.Wait()

	stored := h.project(t, "p1")
	assert.Equal(t, models.ProjectStatusInProgress, stored.Status, "crawl failures stay retryable")
	assert.Equal(t, utils.UserMessage(err), stored.ErrorMessage)
	assert.Zero(t, h.d.Registry().Len())

	reset, err := h.d.Reset(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusPending, reset.Status)
	assert.Empty(t, reset.ErrorMessage)

	h.crawler.err = nil
	res, err := h.d.Run(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, res.Persisted)
}

func TestRun_MalformedResponse(t *testing.T) {
	h := newHarness(t, `{"pages": "nope"}`)
	h.seed(t, "p1", models.ProjectStatusPending)

	_, err := h.d.Run(context.Background(), "p1")
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestRun_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, crawlBody)
	h.seed(t, "p1", models.ProjectStatusPending)
	h.store.failPages.Store(true)

	res, err := h.d.Run(ctx, "p1")
	require.NoError(t, err)
	h.d.Wait()

	assert.False(t, res.Persisted)
	assert.ErrorIs(t, res.PersistErr, utils.ErrPersistence)
	assert.Equal(t, models.ProjectStatusCompleted, res.Project.Status, "in-memory state is optimistic")
	assert.Equal(t, 2, res.Project.TotalPages)
	assert.NotNil(t, res.Project.SEOAnalysis)

	stored := h.project(t, "p1")
	assert.Equal(t, models.ProjectStatusInProgress, stored.Status, "summary not written without pages")

	h.store.failPages.Store(false)
	require.NoError(t, h.d.Reconcile(ctx, res))
	assert.True(t, res.Persisted)

	stored = h.project(t, "p1")
	assert.Equal(t, models.ProjectStatusCompleted, stored.Status)
	assert.NotNil(t, stored.SEOAnalysis)
	pages, err := h.store.GetScrapedPages(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, pages, stored.TotalPages)
}

func TestRun_PlaceholderSEO(t *testing.T) {
	h := newHarness(t, noHTMLBody)
	h.seed(t, "p1", models.ProjectStatusPending)

	res, err := h.d.Run(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, SourcePlaceholder, res.SEOSource)
	require.NotNil(t, res.Project.SEOAnalysis)
	assert.True(t, res.Project.SEOAnalysis.Placeholder)
}

func TestRun_PageSpeedFailureDoesNotAbortCrawl(t *testing.T) {
	h := newHarness(t, crawlBody)
	h.pageSpeed.err = errors.New("quota exceeded")
	h.seed(t, "p1", models.ProjectStatusPending)

	res, err := h.d.Run(context.Background(), "p1")
	require.NoError(t, err)
	h.d.Wait()
	assert.True(t, res.Persisted)

	stored := h.project(t, "p1")
	assert.Equal(t, models.ProjectStatusCompleted, stored.Status)
	assert.False(t, stored.PageSpeedLoading)
	assert.Equal(t, "quota exceeded", stored.PageSpeedError)
	assert.Nil(t, stored.PageSpeedData)
}

func TestRun_ConcurrentCallsSingleCrawl(t *testing.T) {
	h := newHarness(t, crawlBody)
	h.seed(t, "p1", models.ProjectStatusPending)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := h.d.Run(context.Background(), "p1"); err == nil && !res.Skipped {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	h.d.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), h.crawler.calls.Load())
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("completed project cannot be reset", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusCompleted)
		_, err := h.d.Reset(ctx, "p1")
		assert.ErrorIs(t, err, utils.ErrInvalidTransition)
	})

	t.Run("pending is unchanged", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusPending)
		p, err := h.d.Reset(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusPending, p.Status)
	})

	t.Run("rejected while in flight", func(t *testing.T) {
		h := newHarness(t, crawlBody)
		h.seed(t, "p1", models.ProjectStatusInProgress)
		tok, err := h.d.Registry().Acquire("p1")
		require.NoError(t, err)
		defer h.d.Registry().Release(tok)

		_, err = h.d.Reset(ctx, "p1")
		assert.ErrorIs(t, err, utils.ErrCrawlInFlight)
	})
}

func TestCrawlRequest_ProjectOverrides(t *testing.T) {
	h := newHarness(t, crawlBody)

	req := h.d.CrawlRequest(&models.AuditProject{SiteURL: "https://ex.com"})
	assert.Equal(t, models.CrawlModeSingle, req.Mode)
	assert.Equal(t, 1, req.MaxPages)

	req = h.d.CrawlRequest(&models.AuditProject{SiteURL: "https://ex.com", CrawlMode: "multipage", MaxPages: 25})
	assert.Equal(t, models.CrawlModeMultipage, req.Mode)
	assert.Equal(t, 25, req.MaxPages)
	assert.True(t, req.ExtractLinksFlag)
}
