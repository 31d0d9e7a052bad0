package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// signatureTolerance bounds how stale a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

// WebhookHandler receives identity provider webhooks. Payloads are
// authenticated with an HMAC-SHA256 signature over "<timestamp>.<body>"
// before they reach the tracker.
type WebhookHandler struct {
	tracker *services.SecurityEventTracker
	secret  []byte
	log     *logrus.Entry
}

func NewWebhookHandler(tracker *services.SecurityEventTracker, secret string) *WebhookHandler {
	return &WebhookHandler{
		tracker: tracker,
		secret:  []byte(secret),
		log:     logger.WithFields(logrus.Fields{"component": "webhook_handler"}),
	}
}

func (h *WebhookHandler) HandleIdentityWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	timestamp := c.GetHeader("X-Webhook-Timestamp")
	signature := c.GetHeader("X-Webhook-Signature")
	if !h.verifySignature(timestamp, body, signature) {
		h.log.WithFields(logrus.Fields{
			"remote_ip": c.ClientIP(),
		}).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event services.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event type"})
		return
	}

	if event.Data.IPAddress == "" {
		event.Data.IPAddress = c.ClientIP()
	}
	if event.Data.UserAgent == "" {
		event.Data.UserAgent = c.Request.UserAgent()
	}

	h.tracker.TrackWebhookEvent(c.Request.Context(), event)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// verifySignature checks the timestamp freshness, then compares the expected
// HMAC in constant time.
func (h *WebhookHandler) verifySignature(timestamp string, body []byte, signature string) bool {
	if timestamp == "" || signature == "" {
		return false
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
