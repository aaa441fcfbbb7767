// Package domain contains persistence models for recurring subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// Frequency is the billing cycle length.
type Frequency string

const (
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyBiweekly  Frequency = "BIWEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// Subscription captures a recurring billing agreement between a tenant and
// one of its clients. Amount is in minor units of Currency.
type Subscription struct {
	ID                snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID       `gorm:"not null;index" json:"tenant_id"`
	ClientID          snowflake.ID       `gorm:"not null;index" json:"client_id"`
	PackageID         *snowflake.ID      `gorm:"index" json:"package_id,omitempty"`
	Amount            int64              `gorm:"not null" json:"amount"`
	Currency          string             `gorm:"type:text;not null" json:"currency"`
	Frequency         Frequency          `gorm:"type:text;not null" json:"frequency"`
	BillingDay        *int16             `gorm:"type:smallint" json:"billing_day,omitempty"`
	StartDate         time.Time          `gorm:"not null" json:"start_date"`
	EndDate           *time.Time         `gorm:"" json:"end_date,omitempty"`
	AutoRenew         bool               `gorm:"not null;default:true" json:"auto_renew"`
	CancelAtPeriodEnd bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt        *time.Time         `gorm:"" json:"canceled_at,omitempty"`
	Status            SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	NextBillingDate   time.Time          `gorm:"not null;index" json:"next_billing_date"`
	Metadata          datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// ValidFrequency reports whether f is one of the supported cycle lengths.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	default:
		return false
	}
}
