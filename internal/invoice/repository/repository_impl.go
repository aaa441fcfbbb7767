package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, tenant_id, client_id, subscription_id, invoice_number, status,
	issue_date, due_date, subtotal_amount, vat_rate, vat_amount, total_amount, currency,
	paid_at, created_at, updated_at`

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.TenantID,
		inv.ClientID,
		inv.SubscriptionID,
		inv.InvoiceNumber,
		inv.Status,
		inv.IssueDate,
		inv.DueDate,
		inv.SubtotalAmount,
		inv.VATRate,
		inv.VATAmount,
		inv.TotalAmount,
		inv.Currency,
		inv.PaidAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []invoicedomain.InvoiceItem) error {
	for i := range items {
		item := &items[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_amount, amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.Description,
			item.Quantity,
			item.UnitAmount,
			item.Amount,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findByID(ctx, db, tenantID, id, "")
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findByID(ctx, db, tenantID, id, " FOR UPDATE")
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, suffix string) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices WHERE tenant_id = ? AND id = ?`+suffix,
		tenantID, id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, description, quantity, unit_amount, amount, created_at
		 FROM invoice_items WHERE invoice_id = ?
		 ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status invoicedomain.InvoiceStatus, subscriptionID snowflake.ID) ([]invoicedomain.Invoice, error) {
	var (
		conds = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if subscriptionID != 0 {
		conds = append(conds, "subscription_id = ?")
		args = append(args, subscriptionID)
	}

	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices WHERE `+strings.Join(conds, " AND ")+`
		 ORDER BY invoice_number DESC`,
		args...,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// NextInvoiceNumber returns MAX(invoice_number)+1 for the tenant. Callers
// must hold the tenant row lock for the duration of the transaction; the
// unique index on (tenant_id, invoice_number) is the backstop.
func (r *repo) NextInvoiceNumber(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(invoice_number), 0) + 1 FROM invoices WHERE tenant_id = ?`,
		tenantID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, inv *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		inv.Status,
		inv.PaidAt,
		inv.UpdatedAt,
		inv.TenantID,
		inv.ID,
	).Error
}

// MarkOverdue flips SENT invoices past their due date to OVERDUE across all
// tenants and returns the number of rows changed.
func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ?
		 WHERE status = ? AND due_date < ?`,
		invoicedomain.InvoiceStatusOverdue,
		asOf,
		invoicedomain.InvoiceStatusSent,
		asOf,
	)
	return res.RowsAffected, res.Error
}
