package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	// FindByIDForUpdate takes a row lock on the tenant; invoice numbering
	// serializes on it.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
}
