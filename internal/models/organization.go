package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is a tenant. Membership rows back the tenant isolation checks.
type Organization struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) (err error) {
	if o.UUID == "" {
		o.UUID = uuid.New().String()
	}
	return
}

// OrganizationMember links an identity provider user id to an organization.
type OrganizationMember struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	OrganizationUUID string    `json:"organization_uuid" gorm:"index:idx_org_member,unique"`
	UserID           string    `json:"user_id" gorm:"index:idx_org_member,unique"`
	Role             string    `json:"role" gorm:"default:'member'"`
	CreatedAt        time.Time `json:"created_at"`
}
