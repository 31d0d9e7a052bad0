package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// IncidentHandler fronts the incident lifecycle for the admin console.
type IncidentHandler struct {
	tracker *services.SecurityEventTracker
}

func NewIncidentHandler(tracker *services.SecurityEventTracker) *IncidentHandler {
	return &IncidentHandler{tracker: tracker}
}

func (h *IncidentHandler) List(c *gin.Context) {
	incidents, err := h.tracker.ListOpenIncidents(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

type createIncidentRequest struct {
	Type          string                     `json:"type" binding:"required"`
	Severity      string                     `json:"severity" binding:"required"`
	Title         string                     `json:"title" binding:"required"`
	Description   string                     `json:"description"`
	AffectedUsers []string                   `json:"affected_users"`
	Indicators    []models.SecurityIndicator `json:"indicators"`
	Evidence      []models.Evidence          `json:"evidence"`
}

func (h *IncidentHandler) Create(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	severity := models.Severity(req.Severity)
	if !severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
		return
	}

	incident, err := h.tracker.CreateSecurityIncident(c.Request.Context(), services.IncidentInput{
		Type:          models.IncidentType(req.Type),
		Severity:      severity,
		Title:         req.Title,
		Description:   req.Description,
		AffectedUsers: req.AffectedUsers,
		Indicators:    req.Indicators,
		Evidence:      req.Evidence,
		Metadata: map[string]interface{}{
			"createdBy": operatorID(c),
		},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create incident"})
		return
	}
	c.JSON(http.StatusCreated, incident)
}

type resolveIncidentRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}

func (h *IncidentHandler) Resolve(c *gin.Context) {
	var req resolveIncidentRequest
	_ = c.ShouldBindJSON(&req)

	resolution := models.IncidentStatus(req.Resolution)
	if resolution == "" {
		resolution = models.IncidentStatusResolved
	}

	h.tracker.ResolveSecurityIncident(c.Request.Context(), c.Param("id"), resolution, operatorID(c), req.Notes)
	c.JSON(http.StatusOK, gin.H{"message": "Incident resolution recorded"})
}
