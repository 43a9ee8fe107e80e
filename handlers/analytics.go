package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentflow/api/services"
)

type AnalyticsHandler struct {
	analyticsService *services.AnalyticsService
}

func NewAnalyticsHandler(analyticsService *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService}
}

// window parses the optional ?days= query, defaulting to 30.
func window(c *gin.Context) time.Time {
	days := 30
	if raw := c.Query("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}

// GetStats handles GET /analytics/stats
func (h *AnalyticsHandler) GetStats(c *gin.Context) {
	stats, err := h.analyticsService.GetIncidentStats(requestOrgID(c), window(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetVolumeTrend handles GET /analytics/volume
func (h *AnalyticsHandler) GetVolumeTrend(c *gin.Context) {
	points, err := h.analyticsService.GetVolumeTrend(requestOrgID(c), window(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute volume trend"})
		return
	}
	if points == nil {
		points = []services.VolumePoint{}
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}
