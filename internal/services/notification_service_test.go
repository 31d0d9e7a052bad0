package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/store"
)

func setupNotificationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AuditEvent{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.Notification{},
		&models.NotificationPreferences{},
	))
	return db
}

func newNotificationService(t *testing.T, transports ...NotificationTransport) (*SecurityNotificationService, *gorm.DB) {
	db := setupNotificationTestDB(t)
	audit := NewSecurityAuditService(store.NewGormAuditStore(db))
	return NewSecurityNotificationService(db, audit, transports), db
}

func deliveriesByChannel(deliveries []models.NotificationDelivery) map[models.NotificationChannel]models.NotificationDelivery {
	out := map[models.NotificationChannel]models.NotificationDelivery{}
	for _, d := range deliveries {
		out[d.Channel] = d
	}
	return out
}

func TestSendSecurityNotification_DefaultChannels(t *testing.T) {
	email := &stubTransport{channel: models.ChannelEmail}
	inApp := &stubTransport{channel: models.ChannelInApp}
	svc, _ := newNotificationService(t, email, inApp)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationPasswordChanged,
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, models.DeliverySent, d.Status)
		assert.NotNil(t, d.SentAt)
	}
}

func TestSendSecurityNotification_ExplicitChannelsIntersectEnabled(t *testing.T) {
	email := &stubTransport{channel: models.ChannelEmail}
	sms := &stubTransport{channel: models.ChannelSMS}
	svc, db := newNotificationService(t, email, sms)

	// Default preferences keep SMS off.
	prefs := models.DefaultPreferences("user_1")
	require.NoError(t, db.Create(prefs).Error)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID:   "user_1",
		Type:     NotificationPasswordChanged,
		Channels: []models.NotificationChannel{models.ChannelEmail, models.ChannelSMS},
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.ChannelEmail, deliveries[0].Channel)
	assert.Empty(t, sms.sent)
}

func TestSendSecurityNotification_CategoryOptOutSuppresses(t *testing.T) {
	inApp := &stubTransport{channel: models.ChannelInApp}
	svc, db := newNotificationService(t, inApp)

	prefs := models.DefaultPreferences("user_1")
	prefs.LoginNotifications = false
	require.NoError(t, db.Create(prefs).Error)
	// Create omits zero-valued fields tagged default:true, letting the DB
	// default win; an explicit Update is needed to store the opt-out.
	require.NoError(t, db.Model(prefs).Update("login_notifications", false).Error)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationLoginSuccess,
	})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestSendSecurityNotification_CriticalOverridesOptOut(t *testing.T) {
	email := &stubTransport{channel: models.ChannelEmail}
	inApp := &stubTransport{channel: models.ChannelInApp}
	svc, db := newNotificationService(t, email, inApp)

	// The user opted out of lock notices; critical severity overrides the
	// category and goes to every enabled channel anyway.
	prefs := models.DefaultPreferences("user_1")
	prefs.AccountLocks = false
	require.NoError(t, db.Create(prefs).Error)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID:   "user_1",
		Type:     NotificationAccountLocked,
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)
	byChannel := deliveriesByChannel(deliveries)
	assert.Contains(t, byChannel, models.ChannelEmail)
	assert.Contains(t, byChannel, models.ChannelInApp)
	assert.NotContains(t, byChannel, models.ChannelSMS)
}

func TestSendSecurityNotification_ChannelFailureIsIsolated(t *testing.T) {
	email := &stubTransport{channel: models.ChannelEmail, fail: errors.New("smtp down")}
	inApp := &stubTransport{channel: models.ChannelInApp}
	svc, _ := newNotificationService(t, email, inApp)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationPasswordChanged,
	})
	require.NoError(t, err)
	byChannel := deliveriesByChannel(deliveries)
	assert.Equal(t, models.DeliveryFailed, byChannel[models.ChannelEmail].Status)
	assert.Equal(t, "smtp down", byChannel[models.ChannelEmail].FailureReason)
	assert.Equal(t, models.DeliverySent, byChannel[models.ChannelInApp].Status)
}

func TestSendSecurityNotification_MissingTransportFailsDelivery(t *testing.T) {
	inApp := &stubTransport{channel: models.ChannelInApp}
	svc, _ := newNotificationService(t, inApp)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationPasswordChanged,
	})
	require.NoError(t, err)
	byChannel := deliveriesByChannel(deliveries)
	assert.Equal(t, models.DeliveryFailed, byChannel[models.ChannelEmail].Status)
	assert.Contains(t, byChannel[models.ChannelEmail].FailureReason, "no transport registered")
}

func TestSendSecurityNotification_UnknownTypeUsesGenericTemplate(t *testing.T) {
	inApp := &stubTransport{channel: models.ChannelInApp}
	email := &stubTransport{channel: models.ChannelEmail}
	svc, _ := newNotificationService(t, inApp, email)

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID:  "user_1",
		Type:    NotificationType("password_reset_required"),
		Message: "Reset your password now",
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, "password_reset_required", d.NotificationType)
		assert.Equal(t, models.DeliverySent, d.Status)
	}
}

func TestSendSecurityNotification_AuditWriteFailureStillDelivers(t *testing.T) {
	db := setupNotificationTestDB(t)
	inApp := &stubTransport{channel: models.ChannelInApp}
	email := &stubTransport{channel: models.ChannelEmail}
	svc := NewSecurityNotificationService(db, NewSecurityAuditService(&failingAuditStore{}), []NotificationTransport{inApp, email})

	deliveries, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationPasswordChanged,
	})
	// The user was notified, yet the call reports the audit failure.
	require.Error(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, models.DeliverySent, d.Status)
	}
}

func TestSendSecurityNotification_WritesSummaryAuditEvent(t *testing.T) {
	inApp := &stubTransport{channel: models.ChannelInApp}
	email := &stubTransport{channel: models.ChannelEmail}
	svc, db := newNotificationService(t, inApp, email)

	_, err := svc.SendSecurityNotification(context.Background(), NotificationRequest{
		UserID: "user_1",
		Type:   NotificationPasswordChanged,
	})
	require.NoError(t, err)

	var event models.AuditEvent
	require.NoError(t, db.Where("action = ?", models.ActionNotificationSent).First(&event).Error)
	attempted, _ := event.MetadataNumber("channelsAttempted")
	succeeded, _ := event.MetadataNumber("channelsSucceeded")
	assert.Equal(t, 2.0, attempted)
	assert.Equal(t, 2.0, succeeded)
}

func TestInterpolate(t *testing.T) {
	vars := map[string]string{"device": "Pixel 9", "timestamp": "2026-01-01T00:00:00Z"}

	out := interpolate("New device sign-in: {{device}} at {{ timestamp }}.", vars)
	assert.Equal(t, "New device sign-in: Pixel 9 at 2026-01-01T00:00:00Z.", out)

	// Unknown variables stay in place.
	out = interpolate("Hello {{name}}", vars)
	assert.Equal(t, "Hello {{name}}", out)
}

func TestInAppTransportPersistsNotification(t *testing.T) {
	db := setupNotificationTestDB(t)
	transport := NewInAppTransport(db)

	err := transport.Send(context.Background(), "user_1", "Subject", "Body", map[string]interface{}{"severity": "high"})
	require.NoError(t, err)

	var row models.Notification
	require.NoError(t, db.First(&row, "user_id = ?", "user_1").Error)
	assert.Equal(t, "Subject", row.Title)
	assert.Equal(t, "Body", row.Message)
	assert.Equal(t, models.SeverityHigh, row.Severity)
	assert.False(t, row.Read)
}

func TestShoutrrrTransportFansOut(t *testing.T) {
	transport := NewShoutrrrTransport(models.ChannelEmail, []string{"smtp://a", "smtp://b"})
	var sent []string
	transport.send = func(url, message string) error {
		sent = append(sent, url)
		return nil
	}

	err := transport.Send(context.Background(), "user_1", "Subject", "Body", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"smtp://a", "smtp://b"}, sent)
}

func TestShoutrrrTransportNoURLs(t *testing.T) {
	transport := NewShoutrrrTransport(models.ChannelEmail, nil)
	err := transport.Send(context.Background(), "user_1", "Subject", "Body", nil)
	require.Error(t, err)
}

func TestGetPreferences_DefaultsWhenMissing(t *testing.T) {
	svc, _ := newNotificationService(t)

	prefs := svc.GetPreferences(context.Background(), "user_1")
	assert.True(t, prefs.EmailEnabled)
	assert.True(t, prefs.InAppEnabled)
	assert.False(t, prefs.SMSEnabled)
	assert.False(t, prefs.PushEnabled)
}

func TestUpdatePreferences_Upserts(t *testing.T) {
	svc, _ := newNotificationService(t)
	ctx := context.Background()

	prefs := models.DefaultPreferences("user_1")
	prefs.SMSEnabled = true
	require.NoError(t, svc.UpdatePreferences(ctx, prefs))

	loaded := svc.GetPreferences(ctx, "user_1")
	assert.True(t, loaded.SMSEnabled)

	loaded.SMSEnabled = false
	require.NoError(t, svc.UpdatePreferences(ctx, loaded))
	assert.False(t, svc.GetPreferences(ctx, "user_1").SMSEnabled)
}

func TestListAndMarkNotifications(t *testing.T) {
	svc, db := newNotificationService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Notification{UserID: "user_1", Title: "N1"}).Error)
	require.NoError(t, db.Create(&models.Notification{UserID: "user_1", Title: "N2"}).Error)

	list, err := svc.ListNotifications(ctx, "user_1", false)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, svc.MarkAsRead(ctx, list[0].ID))
	unread, err := svc.ListNotifications(ctx, "user_1", true)
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	require.NoError(t, svc.MarkAllAsRead(ctx, "user_1"))
	unread, err = svc.ListNotifications(ctx, "user_1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
