package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/renova/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*catalogdomain.Package, error) {
	var pkg catalogdomain.Package
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, name, credits, created_at, updated_at
		 FROM packages WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&pkg).Error
	if err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pkg *catalogdomain.Package) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO packages (id, tenant_id, name, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.TenantID,
		pkg.Name,
		pkg.Credits,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	).Error
}
