// Package web provides the HTTP API for service-order imports.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/JonMunkholm/warranty/internal/logging"
	mw "github.com/JonMunkholm/warranty/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ImportService is the part of core.Service the handlers use.
type ImportService interface {
	Import(ctx context.Context, req core.ImportRequest) (*core.ImportResult, error)
	EditedOrdersReport(ctx context.Context) (core.EditedOrdersReport, error)
	ResetProtection(ctx context.Context, orderNumber string) error
	LimiterStatus() core.ImportLimiterStatus
}

var _ ImportService = (*core.Service)(nil)

// Options configures the server.
type Options struct {
	// MaxFileSize bounds the uploaded workbook.
	MaxFileSize int64
	// SheetName is the worksheet read from each workbook.
	SheetName string
	// RequestTimeout bounds every route except the import upload.
	RequestTimeout time.Duration
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready reports whether dependencies such as the database are reachable.
	Ready func(ctx context.Context) error
}

// Server is the HTTP server for the import API.
type Server struct {
	service ImportService
	opts    Options
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service ImportService, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		service: service,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		// Imports run under their own timeout in the service.
		r.Post("/imports", s.handleImport)
		r.Get("/imports/status", s.handleImportStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Get("/edited-orders/report", s.handleEditedOrdersReport)
			r.Post("/orders/{orderNumber}/reset-protection", s.handleResetProtection)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string, read, write, idle time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	logging.FromContext(context.Background()).Info("server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
