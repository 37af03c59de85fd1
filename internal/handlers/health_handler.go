package handlers

import (
	"net/http"
	"time"

	"expedify/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports liveness plus the in-process engine counters.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health answers liveness probes and surfaces DB connectivity.
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.Ping() != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC(),
	})
}

// Metrics exposes engine and extraction counters for scraping/debugging.
func (h *HealthHandler) Metrics(c *gin.Context) {
	runs, byResult := metrics.EngineSnapshot()
	requests, degraded := metrics.ExtractionSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"engine": gin.H{
			"runs":      runs,
			"by_result": byResult,
		},
		"extraction": gin.H{
			"requests": requests,
			"degraded": degraded,
		},
	})
}

// RegisterHealthRoutes wires the probe endpoints at the router root.
func RegisterHealthRoutes(r *gin.Engine, h *HealthHandler) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
}
