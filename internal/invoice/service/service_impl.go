package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/renova/internal/catalog/domain"
	"github.com/smallbiznis/renova/internal/clock"
	"github.com/smallbiznis/renova/internal/config"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	"github.com/smallbiznis/renova/internal/tax"
	tenantdomain "github.com/smallbiznis/renova/internal/tenant/domain"
	"github.com/smallbiznis/renova/pkg/db"
	"github.com/smallbiznis/renova/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.BillingConfig

	genID *snowflake.Node
	clock clock.Clock

	repo        invoicedomain.Repository
	tenantRepo  tenantdomain.Repository
	packageRepo catalogdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock

	Repo        invoicedomain.Repository
	TenantRepo  tenantdomain.Repository
	PackageRepo catalogdomain.Repository
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),
		cfg: p.Cfg.Billing,

		genID: p.GenID,
		clock: p.Clock,

		repo:        p.Repo,
		tenantRepo:  p.TenantRepo,
		packageRepo: p.PackageRepo,
	}
}

// GenerateForSubscription issues the next sequential invoice for one billing
// cycle. The tenant row is locked first so concurrent runs serialize on the
// per-tenant number sequence; the unique index on (tenant_id, invoice_number)
// turns any race that slips through into ErrInvoiceNumberConflict.
func (s *Service) GenerateForSubscription(ctx context.Context, tx *gorm.DB, req invoicedomain.GenerateRequest) (invoicedomain.Invoice, error) {
	sub := req.Subscription

	tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, sub.TenantID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if tenant == nil {
		return invoicedomain.Invoice{}, tenantdomain.ErrTenantNotFound
	}

	number, err := s.repo.NextInvoiceNumber(ctx, tx, sub.TenantID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	vatAmount, total := tax.Compute(sub.Amount, tenant.VATRate)

	termDays := s.cfg.PaymentTermDays
	if tenant.PaymentTermDays != nil {
		termDays = *tenant.PaymentTermDays
	}

	status := invoicedomain.InvoiceStatusSent
	if s.cfg.IssueAsDraft {
		status = invoicedomain.InvoiceStatusDraft
	}

	now := s.clock.Now()
	issueDate := req.IssueDate.UTC()
	subscriptionID := sub.ID
	inv := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       sub.TenantID,
		ClientID:       sub.ClientID,
		SubscriptionID: &subscriptionID,
		InvoiceNumber:  number,
		Status:         status,
		IssueDate:      issueDate,
		DueDate:        issueDate.AddDate(0, 0, termDays),
		SubtotalAmount: sub.Amount,
		VATRate:        tenant.VATRate,
		VATAmount:      vatAmount,
		TotalAmount:    total,
		Currency:       sub.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, tx, &inv); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNumberConflict
		}
		return invoicedomain.Invoice{}, err
	}

	item := invoicedomain.InvoiceItem{
		ID:          s.genID.Generate(),
		InvoiceID:   inv.ID,
		Description: s.lineDescription(ctx, tx, sub.TenantID, sub.PackageID),
		Quantity:    1,
		UnitAmount:  sub.Amount,
		Amount:      sub.Amount,
		CreatedAt:   now,
	}
	if err := s.repo.InsertItems(ctx, tx, []invoicedomain.InvoiceItem{item}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	inv.Items = []invoicedomain.InvoiceItem{item}
	return inv, nil
}

func (s *Service) lineDescription(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, packageID *snowflake.ID) string {
	if packageID != nil {
		pkg, err := s.packageRepo.FindByID(ctx, tx, tenantID, *packageID)
		if err == nil && pkg != nil {
			return "Subscription - " + pkg.Name
		}
	}
	return "Subscription - Recurring charge"
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}

	invoiceID, err := s.parseID(id, invoicedomain.ErrInvalidInvoice)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	inv, err := s.repo.FindByID(ctx, s.db, tenantID, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	items, err := s.repo.FindItems(ctx, s.db, inv.ID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	inv.Items = items
	return *inv, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidTenant
	}

	var status invoicedomain.InvoiceStatus
	if req.Status != "" {
		status = invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		switch status {
		case invoicedomain.InvoiceStatusDraft,
			invoicedomain.InvoiceStatusSent,
			invoicedomain.InvoiceStatusPaid,
			invoicedomain.InvoiceStatusOverdue,
			invoicedomain.InvoiceStatusCancelled:
		default:
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidInvoiceStatus
		}
	}

	var subscriptionID snowflake.ID
	if req.SubscriptionID != "" {
		id, err := s.parseID(req.SubscriptionID, invoicedomain.ErrInvalidInvoice)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		subscriptionID = id
	}

	invoices, err := s.repo.List(ctx, s.db, tenantID, status, subscriptionID)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	return invoicedomain.ListInvoiceResponse{Invoices: invoices}, nil
}

func (s *Service) MarkPaid(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	return s.transition(ctx, id, func(inv *invoicedomain.Invoice, now time.Time) error {
		switch inv.Status {
		case invoicedomain.InvoiceStatusPaid:
			return invoicedomain.ErrInvoiceAlreadyPaid
		case invoicedomain.InvoiceStatusCancelled:
			return invoicedomain.ErrInvoiceAlreadyVoided
		}
		inv.Status = invoicedomain.InvoiceStatusPaid
		inv.PaidAt = &now
		return nil
	})
}

func (s *Service) Void(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	return s.transition(ctx, id, func(inv *invoicedomain.Invoice, now time.Time) error {
		switch inv.Status {
		case invoicedomain.InvoiceStatusPaid:
			return invoicedomain.ErrInvoiceAlreadyPaid
		case invoicedomain.InvoiceStatusCancelled:
			return invoicedomain.ErrInvoiceAlreadyVoided
		}
		inv.Status = invoicedomain.InvoiceStatusCancelled
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id string, apply func(*invoicedomain.Invoice, time.Time) error) (invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}

	invoiceID, err := s.parseID(id, invoicedomain.ErrInvalidInvoice)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var updated invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		now := s.clock.Now()
		if err := apply(inv, now); err != nil {
			return err
		}
		inv.UpdatedAt = now

		if err := s.repo.UpdateStatus(ctx, tx, inv); err != nil {
			return err
		}
		updated = *inv
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return updated, nil
}

// SweepOverdue is called by the scheduler on every run.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	changed, err := s.repo.MarkOverdue(ctx, s.db, asOf.UTC())
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.log.Info("invoices marked overdue", zap.Int64("count", changed))
	}
	return changed, nil
}

func (s *Service) parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
