package domain

import (
	"context"
	"errors"
	"time"
)

type CreateSubscriptionRequest struct {
	ClientID   string         `json:"client_id"`
	PackageID  string         `json:"package_id,omitempty"`
	Amount     int64          `json:"amount"`
	Currency   string         `json:"currency"`
	Frequency  Frequency      `json:"frequency"`
	BillingDay *int16         `json:"billing_day,omitempty"`
	StartDate  *time.Time     `json:"start_date,omitempty"`
	EndDate    *time.Time     `json:"end_date,omitempty"`
	AutoRenew  *bool          `json:"auto_renew,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UpdateSubscriptionRequest applies partial-update semantics: nil fields
// are unchanged. ClearEndDate distinguishes "leave end date alone" from
// "remove it".
type UpdateSubscriptionRequest struct {
	Amount       *int64     `json:"amount,omitempty"`
	Frequency    *Frequency `json:"frequency,omitempty"`
	BillingDay   *int16     `json:"billing_day,omitempty"`
	AutoRenew    *bool      `json:"auto_renew,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	ClearEndDate bool       `json:"clear_end_date,omitempty"`
}

type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

type ListSubscriptionRequest struct {
	Status   string
	ClientID string
}

type ListSubscriptionResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// SubscriptionStats aggregates per-tenant counts and monthly recurring
// revenue. MRR is in minor units, normalized to a monthly rate.
type SubscriptionStats struct {
	Active    int64 `json:"active"`
	Paused    int64 `json:"paused"`
	Cancelled int64 `json:"cancelled"`
	Expired   int64 `json:"expired"`
	MRR       int64 `json:"mrr"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
	Update(ctx context.Context, id string, req UpdateSubscriptionRequest) (Subscription, error)
	Cancel(ctx context.Context, id string, req CancelSubscriptionRequest) (Subscription, error)
	Stats(ctx context.Context) (SubscriptionStats, error)
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidPackage       = errors.New("invalid_package")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidFrequency     = errors.New("invalid_frequency")
	ErrInvalidBillingDay    = errors.New("invalid_billing_day")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
