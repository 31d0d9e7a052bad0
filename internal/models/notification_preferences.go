package models

import (
	"time"
)

// NotificationPreferences holds a user's channel and category opt-ins. Users
// without a stored row get DefaultPreferences. Category opt-outs are ignored
// for critical notifications.
type NotificationPreferences struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"uniqueIndex"`

	EmailEnabled bool `json:"email_enabled" gorm:"default:true"`
	InAppEnabled bool `json:"in_app_enabled" gorm:"default:true"`
	SMSEnabled   bool `json:"sms_enabled"`
	PushEnabled  bool `json:"push_enabled"`

	SecurityAlerts     bool `json:"security_alerts" gorm:"default:true"`
	LoginNotifications bool `json:"login_notifications" gorm:"default:true"`
	PasswordChanges    bool `json:"password_changes" gorm:"default:true"`
	DeviceChanges      bool `json:"device_changes" gorm:"default:true"`
	SuspiciousActivity bool `json:"suspicious_activity" gorm:"default:true"`
	AccountLocks       bool `json:"account_locks" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreferences are applied for users without a stored row: email and
// in-app on, SMS and push off, every category on.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:             userID,
		EmailEnabled:       true,
		InAppEnabled:       true,
		SecurityAlerts:     true,
		LoginNotifications: true,
		PasswordChanges:    true,
		DeviceChanges:      true,
		SuspiciousActivity: true,
		AccountLocks:       true,
	}
}

// ChannelEnabled reports whether the user has the channel switched on.
func (p *NotificationPreferences) ChannelEnabled(ch NotificationChannel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelPush:
		return p.PushEnabled
	default:
		return false
	}
}

// EnabledChannels returns every channel the user has switched on.
func (p *NotificationPreferences) EnabledChannels() []NotificationChannel {
	all := []NotificationChannel{ChannelEmail, ChannelInApp, ChannelSMS, ChannelPush}
	var out []NotificationChannel
	for _, ch := range all {
		if p.ChannelEnabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}
