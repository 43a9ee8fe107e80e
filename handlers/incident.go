package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incidentflow/api/db"
	"github.com/incidentflow/api/services"
)

type IncidentHandler struct {
	incidentService *services.IncidentService
}

func NewIncidentHandler(incidentService *services.IncidentService) *IncidentHandler {
	return &IncidentHandler{incidentService: incidentService}
}

// writeServiceError maps workflow errors to HTTP responses. Every handler
// below funnels its service errors through here so the mapping stays in one
// place.
func writeServiceError(c *gin.Context, err error) {
	var invalidTransition *services.InvalidTransitionError
	var validation *services.ValidationError
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
	case errors.Is(err, services.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied"})
	case errors.As(err, &invalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidTransition.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// CreateIncident handles POST /incidents
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	var req db.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.incidentService.CreateIncident(req, requestActor(c), requestOrgID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

// ListIncidents handles GET /incidents with optional status and severity
// filters.
func (h *IncidentHandler) ListIncidents(c *gin.Context) {
	incidents, err := h.incidentService.ListIncidents(requestOrgID(c), c.Query("status"), c.Query("severity"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if incidents == nil {
		incidents = []db.Incident{}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "total": len(incidents)})
}

// GetIncident handles GET /incidents/:id
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	incident, err := h.incidentService.GetIncident(c.Param("id"), requestOrgID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// TransitionIncident handles POST /incidents/:id/transition
func (h *IncidentHandler) TransitionIncident(c *gin.Context) {
	var req db.TransitionIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.incidentService.TransitionIncident(c.Param("id"), req, requestActor(c), requestOrgID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// UpdateIncident handles PATCH /incidents/:id
func (h *IncidentHandler) UpdateIncident(c *gin.Context) {
	var req db.UpdateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.incidentService.UpdateIncident(c.Param("id"), req, requestActor(c), requestOrgID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// AddComment handles POST /incidents/:id/comments
func (h *IncidentHandler) AddComment(c *gin.Context) {
	var req db.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.incidentService.AddComment(c.Param("id"), req.Comment, requestActor(c), requestOrgID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Comment added"})
}

// GetIncidentEvents handles GET /incidents/:id/events
func (h *IncidentHandler) GetIncidentEvents(c *gin.Context) {
	events, err := h.incidentService.GetIncidentEvents(c.Param("id"), requestOrgID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if events == nil {
		events = []db.IncidentEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// DeleteIncident handles DELETE /incidents/:id
func (h *IncidentHandler) DeleteIncident(c *gin.Context) {
	if err := h.incidentService.DeleteIncident(c.Param("id"), requestActor(c), requestOrgID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Incident deleted"})
}
