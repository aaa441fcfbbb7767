package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status InvoiceStatus, subscriptionID snowflake.ID) ([]Invoice, error)
	NextInvoiceNumber(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	MarkOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) (int64, error)
}
