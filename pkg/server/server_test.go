package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raterudder/energyid-monitor/pkg/metrics"
	"github.com/raterudder/energyid-monitor/pkg/monitor"
	"github.com/raterudder/energyid-monitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus monitor.Status

func (s staticStatus) Status() monitor.Status { return monitor.Status(s) }

func testStatus() staticStatus {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return staticStatus{
		LastRun:     ts,
		LastSuccess: ts,
		Reading:     &types.Reading{Timestamp: ts, OutputKW: 0.45, LifetimeKWH: 1602.5},
		Token: &monitor.TokenStatus{
			TwinID:    "twin-1",
			Bearer:    "Bearer abcdefghij...wxyz",
			ExpiresAt: ts.Add(24 * time.Hour),
			Valid:     true,
		},
	}
}

func TestHandlers(t *testing.T) {
	srv := New(testStatus(), ":0")
	h := srv.setupHandler()

	t.Run("Healthz", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Contains(t, w.Header().Get("Server"), "energyid-monitor/")
	})

	t.Run("Status", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var got monitor.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, monitor.Status(testStatus()), got)
		assert.NotContains(t, w.Body.String(), "klmnopqrstuv")
	})

	t.Run("Status Gzip", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/status", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		zr, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"twinId":"twin-1"`)
	})

	t.Run("Empty Status", func(t *testing.T) {
		h := New(staticStatus{}, ":0").setupHandler()
		req := httptest.NewRequest("GET", "/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{}`, w.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		metrics.TicksTotal.WithLabelValues(metrics.ResultSuccess).Inc()

		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "energyid_monitor_monitor_ticks_total")
	})

	t.Run("Wrong Method", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestEnabled(t *testing.T) {
	assert.False(t, New(staticStatus{}, "").Enabled())
	assert.True(t, New(staticStatus{}, ":8080").Enabled())
}

func TestRun(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := New(testStatus(), addr)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
