package services

import (
	"context"
	"fmt"

	"github.com/containrrr/shoutrrr"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
)

// InAppTransport persists notifications as rows in the user's in-app feed.
type InAppTransport struct {
	db *gorm.DB
}

// NewInAppTransport returns the in-app channel transport.
func NewInAppTransport(db *gorm.DB) *InAppTransport {
	return &InAppTransport{db: db}
}

func (t *InAppTransport) Channel() models.NotificationChannel { return models.ChannelInApp }

func (t *InAppTransport) Send(ctx context.Context, userID, subject, body string, metadata map[string]interface{}) error {
	notification := &models.Notification{
		UserID:  userID,
		Type:    "security",
		Title:   subject,
		Message: body,
	}
	if sev, ok := metadata["severity"].(string); ok {
		notification.Severity = models.Severity(sev)
	}
	if err := t.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("create in-app notification: %w", err)
	}
	return nil
}

// ShoutrrrTransport fans a message out to shoutrrr destination URLs (smtp,
// slack, discord, telegram, ...). One transport instance serves one channel.
type ShoutrrrTransport struct {
	channel models.NotificationChannel
	urls    []string
	send    func(url, message string) error
}

// NewShoutrrrTransport returns a transport delivering via shoutrrr URLs.
func NewShoutrrrTransport(channel models.NotificationChannel, urls []string) *ShoutrrrTransport {
	return &ShoutrrrTransport{channel: channel, urls: urls, send: shoutrrr.Send}
}

func (t *ShoutrrrTransport) Channel() models.NotificationChannel { return t.channel }

func (t *ShoutrrrTransport) Send(ctx context.Context, userID, subject, body string, metadata map[string]interface{}) error {
	if len(t.urls) == 0 {
		return fmt.Errorf("no destination URLs configured for channel %q", t.channel)
	}
	// Newline separator formats better in chat apps and mail clients alike.
	msg := fmt.Sprintf("%s\n\n%s", subject, body)
	var lastErr error
	for _, url := range t.urls {
		if err := t.send(url, msg); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LogTransport is a stand-in for provider-backed channels (SMS, push) that
// are external collaborators. It records the send in the service log.
type LogTransport struct {
	channel models.NotificationChannel
	log     *logrus.Entry
}

// NewLogTransport returns a logging transport for the given channel.
func NewLogTransport(channel models.NotificationChannel) *LogTransport {
	return &LogTransport{
		channel: channel,
		log:     logger.WithFields(logrus.Fields{"component": "notification_transport", "channel": string(channel)}),
	}
}

func (t *LogTransport) Channel() models.NotificationChannel { return t.channel }

func (t *LogTransport) Send(ctx context.Context, userID, subject, body string, metadata map[string]interface{}) error {
	t.log.WithFields(logrus.Fields{
		"user_id": userID,
		"subject": subject,
	}).Info("notification dispatched")
	return nil
}
