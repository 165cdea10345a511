package linkcheck

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

const testSecret = "s3cret"

func probeServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func TestHTTPProber(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenSource(testSecret, "user-1", time.Minute)

	t.Run("sends url with bearer token", func(t *testing.T) {
		var gotBody ProbeRequest
		var subject string
		server, _ := probeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			var err error
			subject, err = VerifyToken([]byte(testSecret), auth)
			assert.NoError(t, err)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			io.WriteString(w, `{"isBroken": false, "statusCode": 200}`)
		})

		res := NewHTTPProber(server.Client(), server.URL+"/api/check-link", tokens, testLogger()).Probe(ctx, "https://ex.com/a")
		assert.False(t, res.IsBroken)
		assert.NoError(t, res.Err)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, "https://ex.com/a", gotBody.URL)
		assert.Equal(t, "user-1", subject)
	})

	tests := []struct {
		name         string
		status       int
		body         string
		accessDenied bool
		wantErr      error
	}{
		{"reported broken", http.StatusOK, `{"isBroken": true, "statusCode": 404}`, false, nil},
		{"forbidden", http.StatusForbidden, `{"error":"upgrade"}`, true, utils.ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ``, false, utils.ErrOtherHTTPError},
		{"unauthorized", http.StatusUnauthorized, ``, false, utils.ErrOtherHTTPError},
		{"malformed body", http.StatusOK, `{"isBroken":`, false, utils.ErrParsing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := probeServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			res := NewHTTPProber(server.Client(), server.URL, tokens, testLogger()).Probe(ctx, "https://ex.com/a")
			assert.True(t, res.IsBroken)
			assert.Equal(t, tt.accessDenied, res.AccessDenied)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}
		})
	}

	t.Run("missing token is broken without a request", func(t *testing.T) {
		server, hits := probeServer(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"isBroken": false}`)
		})
		res := NewHTTPProber(server.Client(), server.URL, NewTokenSource("", "u", time.Minute), testLogger()).Probe(ctx, "https://ex.com/a")
		assert.True(t, res.IsBroken)
		assert.ErrorIs(t, res.Err, utils.ErrUnauthorized)
		assert.Zero(t, hits.Load())
	})

	t.Run("missing endpoint is broken", func(t *testing.T) {
		res := NewHTTPProber(http.DefaultClient, "", tokens, testLogger()).Probe(ctx, "https://ex.com/a")
		assert.True(t, res.IsBroken)
	})

	t.Run("transport error is broken", func(t *testing.T) {
		server, _ := probeServer(t, func(w http.ResponseWriter, r *http.Request) {})
		url := server.URL
		server.Close()
		res := NewHTTPProber(&http.Client{Timeout: time.Second}, url, tokens, testLogger()).Probe(ctx, "https://ex.com/a")
		assert.True(t, res.IsBroken)
		assert.Error(t, res.Err)
	})
}

func TestTokenSource(t *testing.T) {
	t.Run("token reused until near expiry", func(t *testing.T) {
		ts := NewTokenSource(testSecret, "u", 10*time.Minute)
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		ts.now = func() time.Time { return now }

		first, err := ts.Token()
		require.NoError(t, err)
		second, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, first, second)

		now = now.Add(9*time.Minute + 30*time.Second)
		third, err := ts.Token()
		require.NoError(t, err)
		assert.NotEqual(t, first, third)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		tok, err := NewTokenSource(testSecret, "u", time.Minute).Token()
		require.NoError(t, err)
		_, err = VerifyToken([]byte("other"), tok)
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		ts := NewTokenSource(testSecret, "u", time.Minute)
		ts.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, err := ts.Token()
		require.NoError(t, err)
		_, err = VerifyToken([]byte(testSecret), tok)
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("empty token rejected", func(t *testing.T) {
		_, err := VerifyToken([]byte(testSecret), "")
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
	})

	t.Run("nil source errors", func(t *testing.T) {
		var ts *TokenSource
		_, err := ts.Token()
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
	})
}
