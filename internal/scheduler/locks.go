package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"gorm.io/gorm"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a best-effort distributed mutex so only one processor instance
// runs a billing pass at a time. A nil Locker disables coordination.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// WorkSubscription is one claimed row of the due-subscription batch.
type WorkSubscription struct {
	ID       snowflake.ID
	TenantID snowflake.ID
}

// claimDueSubscriptions picks up to limit due subscriptions. SKIP LOCKED
// keeps concurrent processor instances off each other's rows; the claim is
// advisory only, the per-subscription transaction re-checks dueness.
func (s *Scheduler) claimDueSubscriptions(ctx context.Context, tenantID *snowflake.ID, asOf time.Time, limit int, exclude []snowflake.ID) ([]WorkSubscription, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	query := `SELECT id, tenant_id FROM subscriptions
	 WHERE status = ? AND next_billing_date <= ?`
	args := []any{subscriptiondomain.SubscriptionStatusActive, asOf}
	if tenantID != nil {
		query += ` AND tenant_id = ?`
		args = append(args, *tenantID)
	}
	if len(exclude) > 0 {
		query += ` AND id NOT IN ?`
		args = append(args, exclude)
	}
	query += `
	 ORDER BY next_billing_date, id
	 FOR UPDATE SKIP LOCKED
	 LIMIT ?`
	args = append(args, limit)

	var rows []WorkSubscription
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.WithContext(claimCtx).Raw(query, args...).Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
