package service

import (
	"context"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/renova/internal/catalog/domain"
	clientdomain "github.com/smallbiznis/renova/internal/client/domain"
	"github.com/smallbiznis/renova/internal/clock"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"github.com/smallbiznis/renova/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	repo        subscriptiondomain.Repository
	clientRepo  clientdomain.Repository
	packageRepo catalogdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo        subscriptiondomain.Repository
	ClientRepo  clientdomain.Repository
	PackageRepo catalogdomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,

		repo:        p.Repo,
		clientRepo:  p.ClientRepo,
		packageRepo: p.PackageRepo,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	clientID, err := s.parseID(req.ClientID, subscriptiondomain.ErrInvalidClient)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if req.Amount <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidCurrency
	}
	if !subscriptiondomain.ValidFrequency(req.Frequency) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidFrequency
	}
	if req.BillingDay != nil && (*req.BillingDay < 1 || *req.BillingDay > 31) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingDay
	}

	now := s.clock.Now()
	start := now
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	if req.EndDate != nil && !req.EndDate.After(start) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscription
	}

	var packageID *snowflake.ID
	if req.PackageID != "" {
		id, err := s.parseID(req.PackageID, subscriptiondomain.ErrInvalidPackage)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		packageID = &id
	}

	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub := subscriptiondomain.Subscription{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		ClientID:        clientID,
		PackageID:       packageID,
		Amount:          req.Amount,
		Currency:        currency,
		Frequency:       req.Frequency,
		BillingDay:      req.BillingDay,
		StartDate:       start,
		EndDate:         req.EndDate,
		AutoRenew:       autoRenew,
		Status:          subscriptiondomain.SubscriptionStatusActive,
		NextBillingDate: subscriptiondomain.FirstBillingDate(start, req.Frequency, req.BillingDay),
		Metadata:        datatypes.JSONMap(req.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.clientRepo.FindByID(ctx, tx, tenantID, clientID)
		if err != nil {
			return err
		}
		if client == nil {
			return clientdomain.ErrClientNotFound
		}

		if packageID != nil {
			pkg, err := s.packageRepo.FindByID(ctx, tx, tenantID, *packageID)
			if err != nil {
				return err
			}
			if pkg == nil {
				return catalogdomain.ErrPackageNotFound
			}
		}

		return s.repo.Insert(ctx, tx, &sub)
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.Int64("tenant_id", int64(tenantID)),
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.String("frequency", string(sub.Frequency)),
		zap.Time("next_billing_date", sub.NextBillingDate),
	)
	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	sub, err := s.repo.FindByID(ctx, s.db, tenantID, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidTenant
	}

	var status subscriptiondomain.SubscriptionStatus
	if req.Status != "" {
		status = subscriptiondomain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		switch status {
		case subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPaused,
			subscriptiondomain.SubscriptionStatusCancelled,
			subscriptiondomain.SubscriptionStatusExpired:
		default:
			return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidStatus
		}
	}

	var clientID snowflake.ID
	if req.ClientID != "" {
		id, err := s.parseID(req.ClientID, subscriptiondomain.ErrInvalidClient)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		clientID = id
	}

	subs, err := s.repo.List(ctx, s.db, tenantID, status, clientID)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	return subscriptiondomain.ListSubscriptionResponse{Subscriptions: subs}, nil
}

// Update applies the non-nil fields of req. The next billing date is never
// recomputed here; a frequency or billing-day change takes effect from the
// next processor advance.
func (s *Service) Update(ctx context.Context, id string, req subscriptiondomain.UpdateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if req.Amount != nil && *req.Amount <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAmount
	}
	if req.Frequency != nil && !subscriptiondomain.ValidFrequency(*req.Frequency) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidFrequency
	}
	if req.BillingDay != nil && (*req.BillingDay < 1 || *req.BillingDay > 31) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingDay
	}

	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		switch sub.Status {
		case subscriptiondomain.SubscriptionStatusCancelled, subscriptiondomain.SubscriptionStatusExpired:
			return subscriptiondomain.ErrInvalidStatus
		}

		if req.Amount != nil {
			sub.Amount = *req.Amount
		}
		if req.Frequency != nil {
			sub.Frequency = *req.Frequency
		}
		if req.BillingDay != nil {
			sub.BillingDay = req.BillingDay
		}
		if req.AutoRenew != nil {
			sub.AutoRenew = *req.AutoRenew
		}
		if req.ClearEndDate {
			sub.EndDate = nil
		} else if req.EndDate != nil {
			if !req.EndDate.After(sub.StartDate) {
				return subscriptiondomain.ErrInvalidSubscription
			}
			sub.EndDate = req.EndDate
		}
		sub.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return updated, nil
}

// Cancel either stops the subscription immediately or lets it run until the
// end of the current billing period.
func (s *Service) Cancel(ctx context.Context, id string, req subscriptiondomain.CancelSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		switch sub.Status {
		case subscriptiondomain.SubscriptionStatusCancelled, subscriptiondomain.SubscriptionStatusExpired:
			return subscriptiondomain.ErrInvalidStatus
		}

		now := s.clock.Now()
		if req.Immediate {
			sub.Status = subscriptiondomain.SubscriptionStatusCancelled
			sub.CanceledAt = &now
			sub.AutoRenew = false
		} else {
			periodEnd := sub.NextBillingDate
			sub.EndDate = &periodEnd
			sub.AutoRenew = false
			sub.CancelAtPeriodEnd = true
		}
		sub.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription canceled",
		zap.Int64("tenant_id", int64(tenantID)),
		zap.Int64("subscription_id", int64(updated.ID)),
		zap.Bool("immediate", req.Immediate),
	)
	return updated, nil
}

func (s *Service) Stats(ctx context.Context) (subscriptiondomain.SubscriptionStats, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.SubscriptionStats{}, subscriptiondomain.ErrInvalidTenant
	}

	counts, err := s.repo.CountByStatus(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.SubscriptionStats{}, err
	}

	amounts, err := s.repo.ActiveAmounts(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.SubscriptionStats{}, err
	}

	var mrr int64
	for _, a := range amounts {
		mrr += monthlyRate(a.Amount, a.Frequency)
	}

	return subscriptiondomain.SubscriptionStats{
		Active:    counts[subscriptiondomain.SubscriptionStatusActive],
		Paused:    counts[subscriptiondomain.SubscriptionStatusPaused],
		Cancelled: counts[subscriptiondomain.SubscriptionStatusCancelled],
		Expired:   counts[subscriptiondomain.SubscriptionStatusExpired],
		MRR:       mrr,
	}, nil
}

// monthlyRate normalizes a per-cycle amount to a monthly figure in minor
// units, rounded half up.
func monthlyRate(amount int64, f subscriptiondomain.Frequency) int64 {
	var factor float64
	switch f {
	case subscriptiondomain.FrequencyWeekly:
		factor = 52.0 / 12.0
	case subscriptiondomain.FrequencyBiweekly:
		factor = 26.0 / 12.0
	case subscriptiondomain.FrequencyMonthly:
		factor = 1
	case subscriptiondomain.FrequencyQuarterly:
		factor = 1.0 / 3.0
	case subscriptiondomain.FrequencyYearly:
		factor = 1.0 / 12.0
	default:
		return 0
	}
	return int64(math.Round(float64(amount) * factor))
}

func (s *Service) parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
