// Package domain contains persistence models for tenants.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is an isolated customer organization. Every billing row is
// partitioned by its ID.
type Tenant struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Currency        string       `gorm:"type:text;not null;default:'CZK'" json:"currency"`
	VATRate         float64      `gorm:"not null;default:0" json:"vat_rate"`
	PaymentTermDays *int         `gorm:"" json:"payment_term_days,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

var ErrTenantNotFound = errors.New("tenant_not_found")
