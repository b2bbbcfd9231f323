package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/service"
)

const defaultMaxBodyBytes = 64 << 20

// submitter records one inspection.
type submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (*service.Result, error)
}

// blobReader serves blobs that were made publicly readable.
type blobReader interface {
	Public(key string) ([]byte, string, error)
	PublicList(container string) ([]string, error)
}

type httpRecorder interface {
	HTTPRequest(method, status string)
	Handler() http.Handler
}

type Server struct {
	service      submitter
	blobs        blobReader
	metrics      httpRecorder
	maxBodyBytes int64
	mux          *http.ServeMux
	logger       *slog.Logger
}

type Option func(*Server)

// WithBlobs serves GET /blobs/{key...} from blobs.
func WithBlobs(blobs blobReader) Option {
	return func(s *Server) { s.blobs = blobs }
}

// WithMetrics counts requests and serves GET /metrics.
func WithMetrics(m httpRecorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBodyBytes caps the submission body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

func NewServer(svc submitter, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		service:      svc,
		maxBodyBytes: defaultMaxBodyBytes,
		mux:          http.NewServeMux(),
		logger:       logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /submissions", s.handleSubmit)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.blobs != nil {
		s.mux.HandleFunc("GET /blobs/{key...}", s.handleGetBlob)
	}
}

// securityHeaders sets restrictive response headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.HTTPRequest(r.Method, strconv.Itoa(rec.status))
		}
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requestLogger(securityHeaders(s.mux)).ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
