package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/renova/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() clientdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*clientdomain.Client, error) {
	var client clientdomain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, name, email, created_at, updated_at
		 FROM clients WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, client *clientdomain.Client) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO clients (id, tenant_id, name, email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.TenantID,
		client.Name,
		client.Email,
		client.CreatedAt,
		client.UpdatedAt,
	).Error
}
