package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Rogers-F/wavequorum/internal/logging"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
	runner     *Runner
	logger     *logging.Logger
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Routes(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: srv, runner: h.Runner, logger: logger}
}

// Routes builds the API mux.
func Routes(h *Handler, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Run endpoints.
	mux.HandleFunc("POST /api/v1/runs", h.SubmitRun)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.GetRun)
	mux.HandleFunc("POST /api/v1/runs/{runID}/cancel", h.CancelRun)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events/stream", h.StreamEvents)

	mux.HandleFunc("GET /api/v1/snapshots", h.ListSnapshots)

	mux.Handle("GET /metrics", promhttp.Handler())

	return accessLog(logger, corsMiddleware(mux))
}

// Start begins listening for HTTP connections. Blocks until the server stops;
// a graceful Shutdown is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "http api listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l. Used by tests and socket activation.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, then cancels and drains the active run.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.httpServer.Shutdown(ctx), s.runner.Shutdown(ctx))
}

// corsMiddleware adds CORS headers for local tooling access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func accessLog(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug(r.Context(), "http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
