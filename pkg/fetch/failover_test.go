package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func newTestRetrier(strategy FailoverStrategy, origin string) (*Retrier, *noSleep) {
	ns := &noSleep{}
	r := NewRetrier(testClient(), testLogger(), RetrierOptions{
		OriginScheme: origin,
		BaseDelay:    time.Second,
		Strategy:     strategy,
		Sleep:        ns.sleep,
	})
	return r, ns
}

func TestRequestWithFailover_AllEndpointsThenPrimaryRecovers(t *testing.T) {
	primary, primaryHits := mockServer(t, []int{500, 200})
	fallback1, fb1Hits := mockServer(t, []int{502})
	fallback2, fb2Hits := mockServer(t, []int{503})

	r, ns := newTestRetrier(FailoverAll, "")
	endpoints := []string{primary.URL, fallback1.URL, fallback2.URL}

	resp, err := r.RequestWithFailover(context.Background(), endpoints, map[string]string{"url": "https://ex.com"}, time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, primary.URL, resp.Endpoint)
	assert.Equal(t, 4, resp.Attempts, "3 failed calls then 1 successful call")
	assert.Equal(t, int32(2), primaryHits.Load())
	assert.Equal(t, int32(1), fb1Hits.Load())
	assert.Equal(t, int32(1), fb2Hits.Load())
	assert.Equal(t, []time.Duration{time.Second}, ns.delays, "one backoff of 1000ms * 2^0")
}

func TestRequestWithFailover_ExpandingPrefix(t *testing.T) {
	primary, primaryHits := mockServer(t, []int{500})
	fallback, fallbackHits := mockServer(t, []int{500})

	r, ns := newTestRetrier(FailoverExpanding, "")

	_, err := r.RequestWithFailover(context.Background(), []string{primary.URL, fallback.URL}, struct{}{}, time.Second, 3)
	require.Error(t, err)

	// attempt 0: primary; attempt 1: primary, fallback; attempt 2: primary, fallback
	assert.Equal(t, int32(3), primaryHits.Load())
	assert.Equal(t, int32(2), fallbackHits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, ns.delays)
}

func TestRequestWithFailover_AttemptBudget(t *testing.T) {
	for _, strategy := range []FailoverStrategy{FailoverExpanding, FailoverAll} {
		t.Run(string(strategy), func(t *testing.T) {
			a, aHits := mockServer(t, []int{500})
			b, bHits := mockServer(t, []int{500})

			r, _ := newTestRetrier(strategy, "")
			_, err := r.RequestWithFailover(context.Background(), []string{a.URL, b.URL}, struct{}{}, time.Second, 3)
			require.Error(t, err)

			total := aHits.Load() + bHits.Load()
			assert.LessOrEqual(t, total, int32(6))
			if strategy == FailoverAll {
				assert.Equal(t, int32(6), total)
			}
		})
	}
}

func TestRequestWithFailover_NetworkError(t *testing.T) {
	server, _ := mockServer(t, []int{500})
	r, _ := newTestRetrier(FailoverAll, "")

	_, err := r.RequestWithFailover(context.Background(), []string{server.URL}, struct{}{}, time.Second, 2)
	require.Error(t, err)

	var netErr *utils.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.False(t, netErr.Timeout)
	assert.Equal(t, []string{server.URL}, netErr.Endpoints)
	assert.True(t, strings.HasPrefix(err.Error(), "network connection failed"))
	assert.ErrorIs(t, err, utils.ErrNetwork)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError)
}

func TestRequestWithFailover_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	r, _ := newTestRetrier(FailoverAll, "")
	_, err := r.RequestWithFailover(context.Background(), []string{slow.URL}, struct{}{}, 20*time.Millisecond, 1)
	require.Error(t, err)

	var netErr *utils.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout)
	assert.True(t, strings.HasPrefix(err.Error(), "request timed out"))
}

func TestRequestWithFailover_MixedContentFailsFast(t *testing.T) {
	server, hits := mockServer(t, []int{200})
	r, _ := newTestRetrier(FailoverAll, "https")

	_, err := r.RequestWithFailover(context.Background(), []string{server.URL}, struct{}{}, time.Second, 3)
	require.Error(t, err)

	var mixed *utils.MixedContentError
	require.True(t, errors.As(err, &mixed))
	assert.Equal(t, server.URL, mixed.Endpoint)
	assert.ErrorIs(t, err, utils.ErrMixedContent)
	assert.Zero(t, hits.Load())
}

func TestRequestWithFailover_SendsCrawlPayload(t *testing.T) {
	var got models.CrawlRequest
	var contentType, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		accept = r.Header.Get("Accept")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"pages":[{"url":"https://ex.com","statusCode":200}]}`))
	}))
	defer server.Close()

	r, _ := newTestRetrier(FailoverAll, "http")
	payload := models.CrawlRequest{URL: "https://ex.com", Mode: models.CrawlModeSingle, MaxPages: 1, ExtractLinksFlag: true}

	resp, err := r.RequestWithFailover(context.Background(), []string{server.URL}, payload, time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "application/json", accept)
	assert.Equal(t, payload, got)

	var body models.CrawlResponse
	require.NoError(t, resp.DecodeJSON(&body))
	require.Len(t, body.Pages, 1)
	assert.Equal(t, 200, body.Pages[0].StatusCode)
}

func TestRequestWithFailover_CallerCancel(t *testing.T) {
	var hits atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.Copy(io.Discard, r.Body)
		cancel()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	r, _ := newTestRetrier(FailoverAll, "")
	_, err := r.RequestWithFailover(ctx, []string{server.URL, server.URL}, struct{}{}, time.Second, 3)
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, utils.ErrNetwork)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCheckMixedContent(t *testing.T) {
	assert.NoError(t, CheckMixedContent("https", []string{"https://a.example.com"}))
	assert.NoError(t, CheckMixedContent("http", []string{"http://a.example.com"}))
	assert.Error(t, CheckMixedContent("HTTPS", []string{"https://a.example.com", "HTTP://b.example.com"}))
}
