// Package domain contains persistence models for billed clients.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Client is the billed party on a subscription.
type Client struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     *string      `gorm:"type:text" json:"email,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

var ErrClientNotFound = errors.New("client_not_found")
