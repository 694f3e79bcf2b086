// Package server exposes the monitor's health, last status and metrics over
// HTTP.
package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/metrics"
	"github.com/raterudder/energyid-monitor/pkg/monitor"
)

// StatusSource reports the outcome of the last tick. monitor.Monitor
// implements it.
type StatusSource interface {
	Status() monitor.Status
}

// Server serves /healthz, /status and /metrics.
type Server struct {
	status     StatusSource
	gatherer   prometheus.Gatherer
	listenAddr string
	serverName string
	httpServer *http.Server
}

// New returns a server for the given status source listening on listenAddr.
func New(status StatusSource, listenAddr string) *Server {
	return &Server{
		status:     status,
		gatherer:   metrics.Registry,
		listenAddr: listenAddr,
		serverName: "energyid-monitor/" + common.Version(),
	}
}

// Configured registers -http-listen. The server is disabled unless it is
// set.
func Configured(status StatusSource) *Server {
	listenAddr := lflag.String("http-listen", common.Env("ENERGYID_HTTP_LISTEN", ""), "HTTP status server listen address (empty disables)")

	srv := New(status, "")
	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})
	return srv
}

// Enabled reports whether a listen address is configured.
func (s *Server) Enabled() bool {
	return s.listenAddr != ""
}

func (s *Server) setupHandler() http.Handler {
	// status bodies are small so compress regardless of size
	gz, err := gziphandler.NewGzipLevelAndMinSize(gzip.DefaultCompression, 0)
	if err != nil {
		panic(fmt.Errorf("failed to create gzip handler: %w", err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /status", gz(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.revisionMiddleware(s.logMiddleware(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting status server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to write status response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
