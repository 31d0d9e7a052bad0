package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// SecurityHandler exposes the audit trail and monitoring read surface.
type SecurityHandler struct {
	audit      *services.SecurityAuditService
	monitoring *services.SecurityMonitoringService
}

func NewSecurityHandler(audit *services.SecurityAuditService, monitoring *services.SecurityMonitoringService) *SecurityHandler {
	return &SecurityHandler{audit: audit, monitoring: monitoring}
}

func (h *SecurityHandler) GetEvents(c *gin.Context) {
	filter := services.SecurityEventFilter{
		UserID:         c.Query("userId"),
		OrganizationID: c.Query("organizationId"),
		Action:         c.Query("action"),
		ResourceType:   c.Query("resourceType"),
		Limit:          queryInt(c, "limit", 0),
		Offset:         queryInt(c, "offset", 0),
	}

	if raw := c.Query("severity"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			sev := models.Severity(strings.TrimSpace(s))
			if !sev.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid severity %q", s)})
				return
			}
			filter.Severities = append(filter.Severities, sev)
		}
	}

	var ok bool
	if filter.StartDate, ok = queryTime(c, "startDate"); !ok {
		return
	}
	if filter.EndDate, ok = queryTime(c, "endDate"); !ok {
		return
	}

	events, err := h.audit.GetSecurityEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch security events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *SecurityHandler) GetSummary(c *gin.Context) {
	summary, err := h.audit.GetSecuritySummary(c.Request.Context(), c.Query("organizationId"), queryInt(c, "days", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build security summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *SecurityHandler) GetMetrics(c *gin.Context) {
	metrics := h.monitoring.GetSecurityMetrics(c.Request.Context(), c.Query("organizationId"), queryInt(c, "days", 0))
	c.JSON(http.StatusOK, metrics)
}

func (h *SecurityHandler) GetSuspiciousActivity(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	result := h.audit.DetectSuspiciousActivity(c.Request.Context(), userID, c.Query("organizationId"))
	c.JSON(http.StatusOK, result)
}

func (h *SecurityHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.monitoring.ListOpenAlerts(c.Request.Context(), c.Query("organizationId"), queryInt(c, "limit", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

func (h *SecurityHandler) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	// Notes are optional; an empty body is fine.
	_ = c.ShouldBindJSON(&req)

	alert, err := h.monitoring.ResolveSecurityAlert(c.Request.Context(), c.Param("id"), operatorID(c), req.Notes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// operatorID renders the authenticated operator for attribution fields.
func operatorID(c *gin.Context) string {
	if id, ok := c.Get("userID"); ok {
		return fmt.Sprintf("operator:%v", id)
	}
	return "operator:unknown"
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// queryTime parses an optional RFC3339 query parameter. On a malformed value
// it writes a 400 response and reports false.
func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", key)})
		return nil, false
	}
	return &t, true
}
