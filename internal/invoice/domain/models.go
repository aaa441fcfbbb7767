// Package domain contains persistence models for generated invoices.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents lifecycle states for an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is a VAT invoice issued to a client. Amounts are integer minor
// units of Currency. InvoiceNumber is sequential per tenant and backed by a
// unique index on (tenant_id, invoice_number).
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID  `gorm:"not null;index" json:"tenant_id"`
	ClientID       snowflake.ID  `gorm:"not null;index" json:"client_id"`
	SubscriptionID *snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`
	InvoiceNumber  int64         `gorm:"not null" json:"invoice_number"`
	Status         InvoiceStatus `gorm:"type:text;not null" json:"status"`
	IssueDate      time.Time     `gorm:"not null" json:"issue_date"`
	DueDate        time.Time     `gorm:"not null" json:"due_date"`
	SubtotalAmount int64         `gorm:"not null" json:"subtotal_amount"`
	VATRate        float64       `gorm:"not null" json:"vat_rate"`
	VATAmount      int64         `gorm:"not null" json:"vat_amount"`
	TotalAmount    int64         `gorm:"not null" json:"total_amount"`
	Currency       string        `gorm:"type:text;not null" json:"currency"`
	PaidAt         *time.Time    `gorm:"" json:"paid_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a single line on an invoice. Amount is net of VAT.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Quantity    int64        `gorm:"not null;default:1" json:"quantity"`
	UnitAmount  int64        `gorm:"not null" json:"unit_amount"`
	Amount      int64        `gorm:"not null" json:"amount"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

var (
	ErrInvalidInvoice        = errors.New("invalid_invoice")
	ErrInvalidInvoiceStatus  = errors.New("invalid_invoice_status")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvoiceNumberConflict = errors.New("invoice_number_conflict")
	ErrInvoiceAlreadyPaid    = errors.New("invoice_already_paid")
	ErrInvoiceAlreadyVoided  = errors.New("invoice_already_voided")
)
