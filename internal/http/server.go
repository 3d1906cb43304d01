package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/services"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// RateLimit caps mutating requests per client IP per RateWindow. Zero means 60 per minute.
	RateLimit  int
	RateWindow time.Duration
}

func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		RateLimit:         defaultRateLimit,
		RateWindow:        defaultRateWindow,
	}
}

type Server struct {
	http.Server
	ledger      *services.LedgerService
	view        *services.LedgerView
	metrics     *metrics.Recorder
	logger      *log.Logger
	validate    *validator.Validate
	rateLimiter *rateLimiter
	now         func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires the JSON API over ledger (writes) and view (reads).
func NewServer(cfg ServerConfig, ledger *services.LedgerService, view *services.LedgerView, rec *metrics.Recorder, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentHTTP)
	}
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		ledger:      ledger,
		view:        view,
		metrics:     rec,
		logger:      logger,
		validate:    newValidator(),
		rateLimiter: newRateLimiter(cfg.RateLimit, cfg.RateWindow),
		now:         time.Now,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", rec.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/taxonomy", s.handleTaxonomy)
	mux.HandleFunc("GET /api/form", s.handleForm)
	mux.HandleFunc("POST /api/form/reduce", s.handleReduceForm)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("DELETE /api/expenses", s.handleDeleteExpenses)
	mux.HandleFunc("GET /api/inquiry", s.handleInquiry)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/settlements", s.handleSettlements)
	mux.HandleFunc("PUT /api/settlements/{month}", s.handleMarkSettled)

	s.Handler = s.withMiddleware(mux)
	return s
}

// Degraded reports whether the store behind the API is unavailable.
func (s *Server) Degraded() bool {
	return s.ledger.Degraded() || s.view.Degraded()
}

// Shutdown stops the rate limiter and drains the listener. Safe to call twice.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

type requestIDKey struct{}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// quietRoutes are polled by probes and scrapers and log at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// withMiddleware tags the request with an id and client IP, applies security
// headers and rate limiting on mutating methods, then records the outcome.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		logger := s.logger.With(log.FieldRequestID, requestID, log.FieldClientIP, clientIP)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(log.WithContext(ctx, logger))

		h := w.Header()
		h.Set("X-Request-ID", requestID)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")

		if reason := suspiciousReason(r); reason != "" {
			s.metrics.RequestRejected("suspicious")
			logger.WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				"reason", reason,
				"user_agent", r.UserAgent())
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if rateLimited(r) && !s.rateLimiter.allow(clientIP) {
			s.metrics.RequestRejected("rate_limit")
			logger.WarnContext(r.Context(), "Rate limit exceeded", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", "60")
			writeJSON(rw, http.StatusTooManyRequests, errorResponse{
				Error:     "rate limit exceeded, please try again later",
				RequestID: requestID,
			})
		} else {
			next.ServeHTTP(rw, r)
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, rw.statusCode, duration)

		level := slog.LevelInfo
		if quietRoutes[route] {
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "Request completed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds())
	})
}

// rateLimited reports whether r writes to the store. The form reducer is a
// POST but touches no state.
func rateLimited(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return r.URL.Path != "/api/form/reduce"
	}
	return false
}

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
