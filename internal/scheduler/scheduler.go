// Package scheduler drives recurring billing: it claims due subscriptions,
// generates one invoice per due cycle, and advances each subscription's next
// billing date in the same transaction.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/renova/internal/client/domain"
	"github.com/smallbiznis/renova/internal/clock"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	"github.com/smallbiznis/renova/internal/notifier"
	obsmetrics "github.com/smallbiznis/renova/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const billingRunLockKey = "renova:billing:run"

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

// Outcome classifies what a billing pass did with one subscription.
type Outcome string

const (
	OutcomeInvoiced Outcome = "invoiced"
	OutcomeExpired  Outcome = "expired"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// CycleResult reports the outcome for one subscription in a run.
type CycleResult struct {
	SubscriptionID snowflake.ID  `json:"subscription_id"`
	InvoiceID      *snowflake.ID `json:"invoice_id,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	Err            error         `json:"-"`
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock

	SubscriptionRepo subscriptiondomain.Repository
	ClientRepo       clientdomain.Repository
	InvoiceSvc       invoicedomain.Service

	Metrics    *obsmetrics.BillingMetrics
	Dispatcher *notifier.Dispatcher `optional:"true"`
	Locker     *Locker              `optional:"true"`
	Config     Config               `optional:"true"`
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	clock clock.Clock

	subscriptionRepo subscriptiondomain.Repository
	clientRepo       clientdomain.Repository
	invoiceSvc       invoicedomain.Service

	metrics    *obsmetrics.BillingMetrics
	dispatcher *notifier.Dispatcher
	locker     *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.SubscriptionRepo == nil || p.ClientRepo == nil || p.InvoiceSvc == nil || p.Metrics == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler"),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,

		subscriptionRepo: p.SubscriptionRepo,
		clientRepo:       p.ClientRepo,
		invoiceSvc:       p.InvoiceSvc,

		metrics:    p.Metrics,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
	}, nil
}

// ProcessDueSubscriptions bills every subscription whose next billing date is
// on or before asOf, for one tenant or all of them. Each subscription is an
// independent unit of work; per-subscription failures are collected, not
// propagated mid-run.
func (s *Scheduler) ProcessDueSubscriptions(ctx context.Context, tenantID *snowflake.ID, asOf time.Time) ([]CycleResult, error) {
	start := s.clock.Now()
	asOf = asOf.UTC()
	s.metrics.RunStarted()

	log := s.log.With(zap.Time("as_of", asOf))
	if tenantID != nil {
		log = log.With(zap.Int64("tenant_id", int64(*tenantID)))
	}

	var results []CycleResult
	var claimed []snowflake.ID
	for {
		batch, err := s.claimDueSubscriptions(ctx, tenantID, asOf, s.cfg.BatchSize, claimed)
		if err != nil {
			return results, err
		}
		if len(batch) == 0 {
			break
		}

		results = append(results, s.processBatch(ctx, batch, asOf)...)

		// Failed rows stay due; excluding everything already claimed keeps
		// them out of later batches so each subscription is reported once
		// per run and the loop always terminates.
		for _, item := range batch {
			claimed = append(claimed, item.ID)
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	var errs []error
	counts := map[Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
		s.metrics.CycleOutcome(string(r.Outcome))
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("subscription %d: %w", r.SubscriptionID, r.Err))
		}
	}

	s.metrics.RunFinished(s.clock.Now().Sub(start).Seconds())
	log.Info("billing run finished",
		zap.Int("processed", len(results)),
		zap.Int("invoiced", counts[OutcomeInvoiced]),
		zap.Int("expired", counts[OutcomeExpired]),
		zap.Int("skipped", counts[OutcomeSkipped]),
		zap.Int("failed", counts[OutcomeFailed]),
	)
	return results, errors.Join(errs...)
}

// processBatch fans the claimed rows over a bounded worker pool. Each
// subscription only touches its own rows so cycles are safe to run in
// parallel.
func (s *Scheduler) processBatch(ctx context.Context, batch []WorkSubscription, asOf time.Time) []CycleResult {
	results := make([]CycleResult, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.WorkerCount)
	for i, item := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item WorkSubscription) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processOne(ctx, item, asOf)
		}(i, item)
	}
	wg.Wait()

	return results
}

// processOne advances a single subscription by one billing cycle. The row is
// re-read under lock inside the transaction so a cycle that already ran, a
// concurrent cancellation, or a pause since the claim turns this into a
// no-op instead of a double bill.
func (s *Scheduler) processOne(ctx context.Context, item WorkSubscription, asOf time.Time) CycleResult {
	result := CycleResult{SubscriptionID: item.ID, Outcome: OutcomeSkipped}

	var receipt *notifier.Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.FindByIDForUpdate(ctx, tx, item.TenantID, item.ID)
		if err != nil {
			return err
		}
		if sub == nil || sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return nil
		}
		if sub.NextBillingDate.After(asOf) {
			return nil
		}

		now := s.clock.Now()
		if expired, status := s.pastEndDate(sub); expired {
			sub.Status = status
			if status == subscriptiondomain.SubscriptionStatusCancelled {
				sub.CanceledAt = &now
			}
			sub.UpdatedAt = now
			if err := s.subscriptionRepo.Update(ctx, tx, sub); err != nil {
				return err
			}
			result.Outcome = OutcomeExpired
			return nil
		}

		inv, err := s.invoiceSvc.GenerateForSubscription(ctx, tx, invoicedomain.GenerateRequest{
			Subscription: *sub,
			IssueDate:    sub.NextBillingDate,
		})
		if err != nil {
			return err
		}

		sub.NextBillingDate = subscriptiondomain.NextBillingDate(sub.NextBillingDate, sub.Frequency, sub.BillingDay)
		sub.UpdatedAt = now
		if err := s.subscriptionRepo.Update(ctx, tx, sub); err != nil {
			return err
		}

		invoiceID := inv.ID
		result.InvoiceID = &invoiceID
		result.Outcome = OutcomeInvoiced
		receipt = s.buildReceipt(ctx, tx, sub, inv)
		return nil
	})
	if err != nil {
		s.log.Error("billing cycle failed",
			zap.Int64("subscription_id", int64(item.ID)),
			zap.Error(err),
		)
		return CycleResult{SubscriptionID: item.ID, Outcome: OutcomeFailed, Err: err}
	}

	if result.Outcome == OutcomeInvoiced {
		s.metrics.InvoiceGenerated()
		// Email goes out only after the transaction committed.
		if s.dispatcher != nil && receipt != nil {
			s.dispatcher.Enqueue(*receipt)
			s.metrics.EmailEnqueued()
		}
	}
	return result
}

// pastEndDate decides whether the subscription's current due date falls
// outside its end date. The end date is inclusive: a cycle due exactly on
// it is never billed, the subscription terminates instead. CANCELLED when
// the end date came from a period-end cancellation, EXPIRED otherwise.
func (s *Scheduler) pastEndDate(sub *subscriptiondomain.Subscription) (bool, subscriptiondomain.SubscriptionStatus) {
	if sub.EndDate == nil || sub.AutoRenew {
		return false, ""
	}
	if sub.NextBillingDate.Before(*sub.EndDate) {
		return false, ""
	}
	if sub.CancelAtPeriodEnd {
		return true, subscriptiondomain.SubscriptionStatusCancelled
	}
	return true, subscriptiondomain.SubscriptionStatusExpired
}

func (s *Scheduler) buildReceipt(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, inv invoicedomain.Invoice) *notifier.Receipt {
	client, err := s.clientRepo.FindByID(ctx, tx, sub.TenantID, sub.ClientID)
	if err != nil || client == nil || client.Email == nil {
		return nil
	}
	return &notifier.Receipt{
		TenantID:      sub.TenantID,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientEmail:   *client.Email,
		ClientName:    client.Name,
		TotalAmount:   inv.TotalAmount,
		Currency:      inv.Currency,
		DueDate:       inv.DueDate.Format("2006-01-02"),
	}
}

// RunOnce executes one full billing pass plus the overdue sweep, guarded by
// the distributed lock when one is configured.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, billingRunLockKey, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("billing run lock held elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), billingRunLockKey, token); err != nil {
				s.log.Warn("billing run lock release failed", zap.Error(err))
			}
		}()
	}

	asOf := s.clock.Now()
	_, err := s.ProcessDueSubscriptions(ctx, nil, asOf)
	if err != nil {
		return err
	}

	marked, err := s.invoiceSvc.SweepOverdue(ctx, asOf)
	if err != nil {
		return err
	}
	s.metrics.MarkedOverdue(marked)
	return nil
}

// RunForever loops RunOnce on the configured interval until ctx ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("billing run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
