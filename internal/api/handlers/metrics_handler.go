package handlers

import (
	"net/http"
	"runtime"

	"example.com/urban/services/attendance/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsHandler exposes operational counters
type MetricsHandler struct {
	collector *metrics.Metrics
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(collector *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// HandleMetrics returns the current counter snapshot
func (h *MetricsHandler) HandleMetrics(c *gin.Context) {
	snapshot := h.collector.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": snapshot.UptimeSeconds,
		"goroutines":     runtime.NumGoroutine(),
		"counters":       snapshot.Counters,
		"timers":         snapshot.Timers,
	})
}

// HandleHealth returns service health status
func (h *MetricsHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleMetrics)
	router.GET("/health", h.HandleHealth)
}
