package api

import (
	"context"
	"net/http"
	"time"

	"example.com/urban/services/attendance/config"
	"example.com/urban/services/attendance/internal/api/handlers"
	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/services"
	"example.com/urban/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	attendance *services.AttendanceService
	shop       *services.ShopService
	collector  *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, attendance *services.AttendanceService, shop *services.ShopService, collector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:     cfg,
		attendance: attendance,
		shop:       shop,
		collector:  collector,
		tracer:     tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Register handlers
	attendanceHandler := handlers.NewAttendanceHandler(s.attendance, s.tracer)
	attendanceHandler.RegisterRoutes(router)

	shopHandler := handlers.NewShopHandler(s.shop)
	shopHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.collector)
	metricsHandler.RegisterRoutes(router)

	return router
}

// requestLogger logs each request with its latency and status
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
