package domain

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"gorm.io/gorm"
)

// GenerateRequest asks for one invoice covering a single billing cycle of
// the subscription, issued on IssueDate.
type GenerateRequest struct {
	Subscription subscriptiondomain.Subscription
	IssueDate    time.Time
}

type ListInvoiceRequest struct {
	Status         string
	SubscriptionID string
}

type ListInvoiceResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	// GenerateForSubscription runs inside the caller's transaction so the
	// invoice insert commits or rolls back together with the caller's
	// subscription update.
	GenerateForSubscription(ctx context.Context, tx *gorm.DB, req GenerateRequest) (Invoice, error)

	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	MarkPaid(ctx context.Context, id string) (Invoice, error)
	Void(ctx context.Context, id string) (Invoice, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

var ErrInvalidTenant = errors.New("invalid_tenant")
