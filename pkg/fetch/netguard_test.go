package fetch

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func TestIsPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:4700::1111", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fc00::1", false},
		{"0.0.0.0", false},
		{"::ffff:127.0.0.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPublicAddr(netip.MustParseAddr(tt.addr)), tt.addr)
	}
}

func TestCheckPublicHost(t *testing.T) {
	assert.NoError(t, CheckPublicHost("example.com"))
	assert.NoError(t, CheckPublicHost("93.184.216.34"))
	for _, host := range []string{"localhost", "api.localhost", "LOCALHOST.", "127.0.0.1", "[::1]", "192.168.0.10"} {
		assert.ErrorIs(t, CheckPublicHost(host), utils.ErrBlockedAddress, host)
	}
}

func TestNewClient_DenyPrivateNetworks(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	guarded := NewClient(config.HTTPClientConfig{Timeout: 5 * time.Second, DenyPrivateNetworks: true}, testLogger())
	_, err := guarded.Get(server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrBlockedAddress)
	assert.Zero(t, hits.Load())

	open := NewClient(config.HTTPClientConfig{Timeout: 5 * time.Second}, testLogger())
	resp, err := open.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), hits.Load())
}
