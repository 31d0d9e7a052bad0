package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
	"github.com/EtherealVisions/sentinel/internal/store"
)

const webhookTestSecret = "test-webhook-secret"

func setupWebhookTest(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AuditEvent{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.SecurityAlert{},
		&models.SecurityIncident{},
		&models.Notification{},
		&models.NotificationPreferences{},
	))

	audit := services.NewSecurityAuditService(store.NewGormAuditStore(db))
	notifier := services.NewSecurityNotificationService(db, audit, nil)
	monitoring := services.NewSecurityMonitoringService(db, audit, notifier)
	tracker := services.NewSecurityEventTracker(db, audit, monitoring, notifier, nil)

	handler := NewWebhookHandler(tracker, webhookTestSecret)
	router := gin.New()
	router.POST("/api/v1/webhooks/identity", handler.HandleIdentityWebhook)
	return router, db
}

func signWebhook(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(router *gin.Engine, timestamp, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if timestamp != "" {
		req.Header.Set("X-Webhook-Timestamp", timestamp)
	}
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_AcceptsSignedEvent(t *testing.T) {
	router, db := setupWebhookTest(t)

	body := []byte(`{"type":"user.updated","data":{"id":"user_1"}}`)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	w := postWebhook(router, timestamp, signWebhook(timestamp, body), body)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")

	var event models.AuditEvent
	require.NoError(t, db.Where("action = ?", "user.profile_updated").First(&event).Error)
	assert.Equal(t, "user_1", event.UserID)
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	router, db := setupWebhookTest(t)

	body := []byte(`{"type":"user.updated","data":{"id":"user_1"}}`)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	w := postWebhook(router, timestamp, "deadbeef", body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var count int64
	require.NoError(t, db.Model(&models.AuditEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestWebhookHandler_RejectsMissingHeaders(t *testing.T) {
	router, _ := setupWebhookTest(t)

	body := []byte(`{"type":"user.updated","data":{"id":"user_1"}}`)
	w := postWebhook(router, "", "", body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_RejectsStaleTimestamp(t *testing.T) {
	router, _ := setupWebhookTest(t)

	body := []byte(`{"type":"user.updated","data":{"id":"user_1"}}`)
	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	w := postWebhook(router, stale, signWebhook(stale, body), body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_RejectsFutureTimestamp(t *testing.T) {
	router, _ := setupWebhookTest(t)

	body := []byte(`{"type":"user.updated","data":{"id":"user_1"}}`)
	future := strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10)
	w := postWebhook(router, future, signWebhook(future, body), body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_RejectsMissingType(t *testing.T) {
	router, _ := setupWebhookTest(t)

	body := []byte(`{"data":{"id":"user_1"}}`)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	w := postWebhook(router, timestamp, signWebhook(timestamp, body), body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler_RejectsMalformedPayload(t *testing.T) {
	router, _ := setupWebhookTest(t)

	body := []byte(`{"type":`)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	w := postWebhook(router, timestamp, signWebhook(timestamp, body), body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
