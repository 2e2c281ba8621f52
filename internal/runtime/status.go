package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/sickenflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
)

const (
	statusPath  = "/api/worker"
	metricsPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
)

// RegisterHTTPHandler mounts handler on the server for port. Servers are
// started by Start and shut down by Close.
func (w *Worker) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	w.httpMu.Lock()
	defer w.httpMu.Unlock()

	if w.httpMuxes == nil {
		w.httpMuxes = make(map[int]*http.ServeMux)
	}
	mux, ok := w.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		w.httpMuxes[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (w *Worker) registerHTTPEndpoints() {
	if w.conf.StatusEnabled {
		w.RegisterHTTPHandler(w.conf.StatusPort, statusPath, http.HandlerFunc(w.handleGetWorker))
	}
	if w.conf.MetricsEnabled && w.conf.MetricsPort > 0 {
		w.RegisterHTTPHandler(w.conf.MetricsPort, metricsPath, metricsHandler(w.registerer))
	}
}

func (w *Worker) startHTTPServers() error {
	w.httpMu.Lock()
	defer w.httpMu.Unlock()

	for port, mux := range w.httpMuxes {
		if _, running := w.httpServers[port]; running {
			continue
		}
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		if w.httpServers == nil {
			w.httpServers = make(map[int]*http.Server)
		}
		w.httpServers[port] = srv

		w.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	return nil
}

func (w *Worker) shutdownHTTPServers(ctx context.Context) error {
	w.httpMu.Lock()
	defer w.httpMu.Unlock()

	var errs []error
	for port, srv := range w.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http :%d: %w", port, err))
		}
		delete(w.httpServers, port)
	}
	return errors.Join(errs...)
}

func (w *Worker) handleGetWorker(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")

	if origin := w.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
		rw.Header().Set("Access-Control-Allow-Origin", origin)
		rw.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}

	switch r.Method {
	case http.MethodOptions:
		rw.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(rw, w.Stats()); err != nil {
		w.logger.Error("Failed to encode worker stats", err, nil)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (w *Worker) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range w.conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
