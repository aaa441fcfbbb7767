package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, client_id, package_id, amount, currency, frequency,
	billing_day, start_date, end_date, auto_renew, cancel_at_period_end, canceled_at,
	status, next_billing_date, metadata, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantID,
		sub.ClientID,
		sub.PackageID,
		sub.Amount,
		sub.Currency,
		sub.Frequency,
		sub.BillingDay,
		sub.StartDate,
		sub.EndDate,
		sub.AutoRenew,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.Status,
		sub.NextBillingDate,
		sub.Metadata,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findByID(ctx, db, tenantID, id, "")
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findByID(ctx, db, tenantID, id, " FOR UPDATE")
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, suffix string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE tenant_id = ? AND id = ?`+suffix,
		tenantID, id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status subscriptiondomain.SubscriptionStatus, clientID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var (
		conds = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if clientID != 0 {
		conds = append(conds, "client_id = ?")
		args = append(args, clientID)
	}

	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE `+strings.Join(conds, " AND ")+`
		 ORDER BY created_at DESC, id DESC`,
		args...,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET amount = ?, currency = ?, frequency = ?, billing_day = ?, start_date = ?,
		     end_date = ?, auto_renew = ?, cancel_at_period_end = ?, canceled_at = ?,
		     status = ?, next_billing_date = ?, metadata = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		sub.Amount,
		sub.Currency,
		sub.Frequency,
		sub.BillingDay,
		sub.StartDate,
		sub.EndDate,
		sub.AutoRenew,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.Status,
		sub.NextBillingDate,
		sub.Metadata,
		sub.UpdatedAt,
		sub.TenantID,
		sub.ID,
	).Error
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (map[subscriptiondomain.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status subscriptiondomain.SubscriptionStatus
		Total  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total
		 FROM subscriptions WHERE tenant_id = ?
		 GROUP BY status`,
		tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[subscriptiondomain.SubscriptionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *repo) ActiveAmounts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]subscriptiondomain.ActiveAmount, error) {
	var amounts []subscriptiondomain.ActiveAmount
	err := db.WithContext(ctx).Raw(
		`SELECT amount, frequency
		 FROM subscriptions WHERE tenant_id = ? AND status = ?`,
		tenantID, subscriptiondomain.SubscriptionStatusActive,
	).Scan(&amounts).Error
	if err != nil {
		return nil, err
	}
	return amounts, nil
}
