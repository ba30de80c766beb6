package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedClientBlocksLocalTargets(t *testing.T) {
	client := New(time.Second)

	blocked := []string{
		"http://localhost/feed.json",
		"http://localhost.localdomain/feed.json",
		"http://api.localhost/feed.json",
		"http://127.0.0.1/feed.json",
		"http://10.0.0.5/feed.json",
		"http://192.168.1.1/feed.json",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/feed.json",
		"ftp://example.com/feed.json",
		"http://evil.com@localhost/feed.json",
	}

	for _, target := range blocked {
		req, err := http.NewRequest(http.MethodGet, target, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		assert.Error(t, err, "expected %s to be blocked", target)
	}
}

func TestUnguardedClientAllowsLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewUnguarded(time.Second)
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnguardedClientStillRejectsBadSchemes(t *testing.T) {
	client := NewUnguarded(time.Second)

	req, err := http.NewRequest(http.MethodGet, "file:///etc/passwd", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
}
