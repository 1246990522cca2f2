// Package api provides HTTP handlers and the main API server logic for GuestPipe.
//
// It exposes the inbound message webhook, flow template and overlay
// administration endpoints, session debugging and the Prometheus scrape
// endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/messaging"
	"github.com/GuestPipe/GuestPipe/internal/metrics"
	"github.com/GuestPipe/GuestPipe/internal/store"
)

// Server configuration defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address (host:port).
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the GuestPipe HTTP API.
type Server struct {
	addr      string
	st        store.Store
	processor *messaging.Processor
	twilio    *messaging.TwilioService
	httpSrv   *http.Server
}

// NewServer creates an API server over the given store and processor.
func NewServer(st store.Store, processor *messaging.Processor, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:      cfg.Addr,
		st:        st,
		processor: processor,
	}
}

// AttachTwilioWebhook registers the Twilio inbound webhook on the server's
// router when Twilio delivery is configured.
func (s *Server) AttachTwilioWebhook(svc *messaging.TwilioService) {
	s.twilio = svc
}

// routes builds the HTTP mux. Split out so tests can exercise handlers
// without binding a socket.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/flows/", s.flowHandler)
	mux.HandleFunc("/hotels/", s.hotelsHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/admin/users/", s.adminUserHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	if s.twilio != nil {
		mux.HandleFunc("/twilio/webhook", s.twilio.TwilioWebhookHandler)
	}
	return mux
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       DefaultRequestTimeout,
		WriteTimeout:      DefaultRequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("GuestPipe API listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("GuestPipe API shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
