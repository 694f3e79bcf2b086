package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	// Setup test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify User-Agent header
		userAgent := r.Header.Get("User-Agent")
		assert.Equal(t, "EnergyIDMonitor/"+Version(), userAgent, "User-Agent should match expected format")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Test client creation
	timeout := 5 * time.Second
	client := HTTPClient(timeout)

	// Verify client settings
	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	assert.NotNil(t, client.Transport, "Transport should not be nil")

	// Test actual request
	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPClientTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	client := HTTPClient(50 * time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), "GET", server.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, Connectivity(err), ErrConnectivity)
}

func TestConnectivity(t *testing.T) {
	assert.NoError(t, Connectivity(nil))

	base := errors.New("dial tcp: connection refused")
	err := Connectivity(base)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.ErrorIs(t, err, base)

	// wrapping twice doesn't stack the prefix
	assert.Equal(t, err, Connectivity(err))
}

func TestEnv(t *testing.T) {
	t.Setenv("ENERGYID_TEST_ENV", "value")
	assert.Equal(t, "value", Env("ENERGYID_TEST_ENV", "def"))

	t.Setenv("ENERGYID_TEST_ENV", "")
	assert.Equal(t, "def", Env("ENERGYID_TEST_ENV", "def"))
}
