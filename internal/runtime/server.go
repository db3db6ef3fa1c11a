package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
)

const shutdownTimeout = 5 * time.Second

// RegisterHTTPHandler mounts handler on pattern of the server listening on
// port. Servers are started by Serve.
func (h *Herald) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	h.httpServersMu.Lock()
	defer h.httpServersMu.Unlock()

	if h.httpServers == nil {
		h.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := h.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		h.httpServers[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (h *Herald) registerMetricsEndpoint(gatherer prometheus.Gatherer) {
	if !h.Conf.MetricsEnabled || h.Conf.MetricsPort <= 0 {
		return
	}
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	h.RegisterHTTPHandler(h.Conf.MetricsPort, "/metrics", handler)
}

// mountEndpoints registers the web UI and metrics handlers the first time it
// is called.
func (h *Herald) mountEndpoints() {
	h.endpointsOnce.Do(func() {
		h.registerWebUI()
		h.registerMetricsEndpoint(h.gatherer)
	})
}

// Serve starts the web UI, the metrics endpoint and any handler registered
// with RegisterHTTPHandler, and blocks until ctx is cancelled. It returns
// immediately when nothing is configured.
func (h *Herald) Serve(ctx context.Context) error {
	h.mountEndpoints()

	h.httpServersMu.Lock()
	servers := make([]*http.Server, 0, len(h.httpServers))
	for port, mux := range h.httpServers {
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	h.httpServersMu.Unlock()

	if len(servers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			h.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
