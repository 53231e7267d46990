package server

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vanb/internal/observability/logging"
	"vanb/internal/observability/metrics"
)

// TLSConfig defines certificate and key paths for serving TLS.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls the control-API server.
type Config struct {
	Addr     string
	TLS      TLSConfig
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Verifier *TokenVerifier
}

// Server wraps the HTTP server that exposes the control API.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

// New builds the route table and middleware chain around the handler.
func New(handler *Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/v1/pipeline", handler.Pipeline)
	mux.HandleFunc("/v1/pipeline/stats", handler.PipelineStats)
	mux.HandleFunc("/v1/pipeline/history", handler.PipelineHistory)
	mux.HandleFunc("/v1/sources", handler.Sources)
	mux.Handle("/metrics", recorder.Handler())

	chain := http.Handler(mux)
	chain = authMiddleware(cfg.Verifier, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(chain)
	chain = requestIDMiddleware(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}
	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Start()
	}()
	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware enforces bearer-token auth on the /v1/ routes. Liveness and
// metrics stay open for probes and scrapers.
func authMiddleware(verifier *TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if verifier.Enabled() && strings.HasPrefix(r.URL.Path, "/v1/") {
			token := bearerToken(r.Header.Get("Authorization"))
			if err := verifier.Verify(token); err != nil {
				writeError(w, http.StatusUnauthorized, ErrInvalidToken)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err == nil {
			ctx := logging.ContextWithRequestID(r.Context(), hex.EncodeToString(buf))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
