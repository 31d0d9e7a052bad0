package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/models"
)

// DefaultQueryLimit bounds reads when the caller does not supply a limit.
const DefaultQueryLimit = 100

// AuditLogQuery narrows a read to a subject, tenant and time range. Action,
// resource type and severity filters are applied by the audit service in
// process, on top of what the store returns.
type AuditLogQuery struct {
	UserID         string
	OrganizationID string
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}

// AuditLogStore is the narrow persistence surface the pipeline talks to.
// Records are append-only: nothing in the pipeline updates or deletes a row
// after CreateAuditLog returns.
//
// Implementations must provide read-after-write consistency: an event
// accepted by CreateAuditLog must be visible to an immediately following
// GetAuditLogs call. Pattern detection reads back the event it just wrote,
// and an eventually consistent store would make every detector
// systematically under-count by one.
type AuditLogStore interface {
	CreateAuditLog(ctx context.Context, event *models.AuditEvent) error
	GetAuditLogs(ctx context.Context, q AuditLogQuery) ([]models.AuditEvent, error)
	GetUserOrganizations(ctx context.Context, userID string) ([]models.Organization, error)
}

// GormAuditStore implements AuditLogStore on a GORM database. SQLite writes
// are immediately visible to subsequent reads on the same handle, which
// satisfies the interface's consistency requirement.
type GormAuditStore struct {
	db *gorm.DB
}

// NewGormAuditStore returns an AuditLogStore backed by the provided DB.
func NewGormAuditStore(db *gorm.DB) *GormAuditStore {
	return &GormAuditStore{db: db}
}

func (s *GormAuditStore) CreateAuditLog(ctx context.Context, event *models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (s *GormAuditStore) GetAuditLogs(ctx context.Context, q AuditLogQuery) ([]models.AuditEvent, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditEvent{}).
		Order("created_at desc, id desc")

	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if q.OrganizationID != "" {
		query = query.Where("organization_id = ?", q.OrganizationID)
	}
	if q.Since != nil {
		query = query.Where("created_at >= ?", *q.Since)
	}
	if q.Until != nil {
		query = query.Where("created_at <= ?", *q.Until)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	query = query.Limit(limit)
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var events []models.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("get audit logs: %w", err)
	}
	return events, nil
}

func (s *GormAuditStore) GetUserOrganizations(ctx context.Context, userID string) ([]models.Organization, error) {
	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Joins("JOIN organization_members ON organization_members.organization_uuid = organizations.uuid").
		Where("organization_members.user_id = ?", userID).
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("get user organizations: %w", err)
	}
	return orgs, nil
}
