package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/pipeline"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// EventHandler ingests application-reported security events: authentication
// outcomes go straight to the tracker, everything else through the event bus.
type EventHandler struct {
	tracker *services.SecurityEventTracker
	bus     *pipeline.EventBus
}

func NewEventHandler(tracker *services.SecurityEventTracker, bus *pipeline.EventBus) *EventHandler {
	return &EventHandler{tracker: tracker, bus: bus}
}

type authEventRequest struct {
	UserID    string                 `json:"user_id" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Success   bool                   `json:"success"`
	IPAddress string                 `json:"ip_address"`
	UserAgent string                 `json:"user_agent"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (h *EventHandler) TrackAuthEvent(c *gin.Context) {
	var req authEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = c.ClientIP()
	}
	agent := req.UserAgent
	if agent == "" {
		agent = c.Request.UserAgent()
	}

	h.tracker.TrackAuthenticationEvent(c.Request.Context(), services.AuthEventInput{
		UserID:    req.UserID,
		EventType: services.AuthEventType(req.EventType),
		Success:   req.Success,
		IPAddress: ip,
		UserAgent: agent,
		Metadata:  req.Metadata,
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type genericEventRequest struct {
	UserID         string                 `json:"user_id"`
	OrganizationID string                 `json:"organization_id"`
	Action         string                 `json:"action" binding:"required"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Severity       string                 `json:"severity"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (h *EventHandler) PublishEvent(c *gin.Context) {
	var req genericEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	severity := models.Severity(req.Severity)
	if req.Severity == "" {
		severity = models.SeverityLow
	}
	if !severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = c.ClientIP()
	}

	h.bus.Publish(c.Request.Context(), pipeline.Event{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Action:         req.Action,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Severity:       severity,
		IPAddress:      ip,
		UserAgent:      req.UserAgent,
		Metadata:       req.Metadata,
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
