// Package domain contains persistence models for purchasable packages.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Package is a purchasable credits bundle. Informational only for billing
// math; its name appears on generated invoice lines.
type Package struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Credits   int          `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }

var ErrPackageNotFound = errors.New("package_not_found")
