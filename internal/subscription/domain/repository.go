package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status SubscriptionStatus, clientID snowflake.ID) ([]Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	CountByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (map[SubscriptionStatus]int64, error)
	ActiveAmounts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]ActiveAmount, error)
}

// ActiveAmount is the slice of an active subscription that MRR math needs.
type ActiveAmount struct {
	Amount    int64
	Frequency Frequency
}
