package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationChannel identifies a delivery transport.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in_app"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// DeliveryStatus is the per-channel send outcome.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// Notification is an in-app notification row, written by the in_app channel
// transport and listed in the user's notification feed.
type Notification struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `json:"user_id" gorm:"index"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}

// NotificationDelivery is a per-channel send receipt. Receipts are returned
// to the caller and counted in metrics; they are not durably stored.
type NotificationDelivery struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"user_id"`
	NotificationType string                 `json:"notification_type"`
	Channel          NotificationChannel    `json:"channel"`
	Status           DeliveryStatus         `json:"status"`
	SentAt           *time.Time             `json:"sent_at,omitempty"`
	FailureReason    string                 `json:"failure_reason,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
