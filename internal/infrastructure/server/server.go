package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/ragstudio/internal/api/http"
	"github.com/GriffinCanCode/ragstudio/internal/api/middleware"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/config"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

const shutdownTimeout = 5 * time.Second

// Server is the local diagnostics HTTP server.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	logger   *zap.Logger
	listener net.Listener
}

// New builds the router and HTTP server for handlers.
func New(cfg *config.Config, handlers *api.Handlers, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("diagnostics_server")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.DiagnosticsRPS > 0 {
		logger.Info("Rate limiting enabled", zap.Int("rps", cfg.RateLimit.DiagnosticsRPS))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.DiagnosticsRPS,
			Burst:             cfg.RateLimit.DiagnosticsRPS * 2,
		}))
	}

	handlers.Register(router)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.DiagnosticsAddr(),
			Handler:           gzhttp.GzipHandler(router),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.listener = ln

	addr := ln.Addr().String()
	s.logger.Info("Starting diagnostics server", zap.String("addr", addr))

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Diagnostics server stopped", zap.Error(err))
		}
	}()
	return addr, nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down diagnostics server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}
	return nil
}
