package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incidentflow/api/services"
)

type OrgHandler struct {
	orgService *services.OrgService
}

func NewOrgHandler(orgService *services.OrgService) *OrgHandler {
	return &OrgHandler{orgService: orgService}
}

// GetOrganization handles GET /org
func (h *OrgHandler) GetOrganization(c *gin.Context) {
	org, err := h.orgService.GetOrganization(requestOrgID(c))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch organization"})
		return
	}
	c.JSON(http.StatusOK, org)
}
