package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	catalogrepository "github.com/smallbiznis/renova/internal/catalog/repository"
	"github.com/smallbiznis/renova/internal/clock"
	"github.com/smallbiznis/renova/internal/config"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/renova/internal/invoice/repository"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	tenantrepository "github.com/smallbiznis/renova/internal/tenant/repository"
	pkgdb "github.com/smallbiznis/renova/pkg/db"
	"github.com/smallbiznis/renova/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSchema = `
CREATE TABLE tenants (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	currency TEXT NOT NULL,
	vat_rate REAL NOT NULL DEFAULT 0,
	payment_term_days INTEGER,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE packages (
	id INTEGER PRIMARY KEY,
	tenant_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	credits INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE invoices (
	id INTEGER PRIMARY KEY,
	tenant_id INTEGER NOT NULL,
	client_id INTEGER NOT NULL,
	subscription_id INTEGER,
	invoice_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	issue_date DATETIME NOT NULL,
	due_date DATETIME NOT NULL,
	subtotal_amount INTEGER NOT NULL,
	vat_rate REAL NOT NULL,
	vat_amount INTEGER NOT NULL,
	total_amount INTEGER NOT NULL,
	currency TEXT NOT NULL,
	paid_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME,
	CONSTRAINT ux_invoices_tenant_number UNIQUE (tenant_id, invoice_number)
);
CREATE TABLE invoice_items (
	id INTEGER PRIMARY KEY,
	invoice_id INTEGER NOT NULL,
	description TEXT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 1,
	unit_amount INTEGER NOT NULL,
	amount INTEGER NOT NULL,
	created_at DATETIME
);
`

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	stripLocks := func(tx *gorm.DB) {
		if tx.Statement == nil || tx.Statement.SQL.Len() == 0 {
			return
		}
		sql := tx.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, " FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, " FOR UPDATE", "")
		tx.Statement.SQL.Reset()
		tx.Statement.SQL.WriteString(sql)
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:strip_locks", stripLocks))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("test:strip_locks", stripLocks))

	for _, stmt := range strings.Split(testSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	svc      invoicedomain.Service
	tenantID snowflake.ID
	clientID snowflake.ID
}

func newFixture(t *testing.T, cfg config.BillingConfig) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	tenantID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO tenants (id, name, currency, vat_rate, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, "Acme", "CZK", 21.0, fake.Now(), fake.Now(),
	).Error)

	if cfg.PaymentTermDays == 0 {
		cfg.PaymentTermDays = 14
	}

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Cfg:   config.Config{Billing: cfg},
		GenID: node,
		Clock: fake,

		Repo:        invoicerepository.Provide(),
		TenantRepo:  tenantrepository.Provide(),
		PackageRepo: catalogrepository.Provide(),
	})

	return &fixture{
		db:       db,
		node:     node,
		clock:    fake,
		svc:      svc,
		tenantID: tenantID,
		clientID: node.Generate(),
	}
}

func (f *fixture) ctx() context.Context {
	return tenantctx.WithTenantID(context.Background(), f.tenantID)
}

func (f *fixture) subscription(amount int64) subscriptiondomain.Subscription {
	return subscriptiondomain.Subscription{
		ID:              f.node.Generate(),
		TenantID:        f.tenantID,
		ClientID:        f.clientID,
		Amount:          amount,
		Currency:        "CZK",
		Frequency:       subscriptiondomain.FrequencyMonthly,
		Status:          subscriptiondomain.SubscriptionStatusActive,
		StartDate:       f.clock.Now(),
		NextBillingDate: f.clock.Now(),
	}
}

func (f *fixture) generate(t *testing.T, sub subscriptiondomain.Subscription) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = f.svc.GenerateForSubscription(f.ctx(), tx, invoicedomain.GenerateRequest{
			Subscription: sub,
			IssueDate:    f.clock.Now(),
		})
		return err
	})
	require.NoError(t, err)
	return inv
}

func TestGenerateForSubscription(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	inv := f.generate(t, f.subscription(100000))

	assert.Equal(t, int64(1), inv.InvoiceNumber)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, inv.Status)
	assert.Equal(t, int64(100000), inv.SubtotalAmount)
	assert.Equal(t, 21.0, inv.VATRate)
	assert.Equal(t, int64(21000), inv.VATAmount)
	assert.Equal(t, int64(121000), inv.TotalAmount)
	assert.Equal(t, "CZK", inv.Currency)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inv.IssueDate)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), inv.DueDate)

	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Subscription - Recurring charge", inv.Items[0].Description)
	assert.Equal(t, int64(100000), inv.Items[0].Amount)
}

func TestGenerateForSubscription_SequentialNumbers(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	for i := 1; i <= 3; i++ {
		inv := f.generate(t, f.subscription(1000))
		assert.Equal(t, int64(i), inv.InvoiceNumber)
	}
}

func TestGenerateForSubscription_PackageNameOnLine(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	packageID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO packages (id, tenant_id, name, credits, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		packageID, f.tenantID, "Pro Plan", 500, f.clock.Now(), f.clock.Now(),
	).Error)

	sub := f.subscription(100000)
	sub.PackageID = &packageID
	inv := f.generate(t, sub)

	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Subscription - Pro Plan", inv.Items[0].Description)
}

func TestGenerateForSubscription_TenantPaymentTermOverride(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	require.NoError(t, f.db.Exec(
		`UPDATE tenants SET payment_term_days = 30 WHERE id = ?`, f.tenantID,
	).Error)

	inv := f.generate(t, f.subscription(1000))
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), inv.DueDate)
}

func TestGenerateForSubscription_DraftMode(t *testing.T) {
	f := newFixture(t, config.BillingConfig{IssueAsDraft: true})

	inv := f.generate(t, f.subscription(1000))
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, inv.Status)
}

func TestInvoiceNumberUniqueBackstop(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	first := f.generate(t, f.subscription(1000))

	// A second row reusing the same number must trip the unique index.
	dup := first
	dup.ID = f.node.Generate()
	err := invoicerepository.Provide().Insert(f.ctx(), f.db, &dup)
	require.Error(t, err)
	assert.True(t, pkgdb.IsDuplicateKeyErr(err))
}

func TestMarkPaidAndVoid(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	inv := f.generate(t, f.subscription(1000))

	paid, err := f.svc.MarkPaid(f.ctx(), inv.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = f.svc.MarkPaid(f.ctx(), inv.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyPaid)

	_, err = f.svc.Void(f.ctx(), inv.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyPaid)

	second := f.generate(t, f.subscription(1000))
	voided, err := f.svc.Void(f.ctx(), second.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusCancelled, voided.Status)

	_, err = f.svc.Void(f.ctx(), second.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyVoided)
}

func TestGetByID_IncludesItems(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	inv := f.generate(t, f.subscription(5000))

	got, err := f.svc.GetByID(f.ctx(), inv.ID.String())
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(5000), got.Items[0].Amount)
}

func TestList_StatusFilter(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	first := f.generate(t, f.subscription(1000))
	f.generate(t, f.subscription(2000))

	_, err := f.svc.MarkPaid(f.ctx(), first.ID.String())
	require.NoError(t, err)

	resp, err := f.svc.List(f.ctx(), invoicedomain.ListInvoiceRequest{Status: "paid"})
	require.NoError(t, err)
	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, first.ID, resp.Invoices[0].ID)

	resp, err = f.svc.List(f.ctx(), invoicedomain.ListInvoiceRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Invoices, 2)

	_, err = f.svc.List(f.ctx(), invoicedomain.ListInvoiceRequest{Status: "NOPE"})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceStatus)
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t, config.BillingConfig{})

	inv := f.generate(t, f.subscription(1000))

	changed, err := f.svc.SweepOverdue(f.ctx(), f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, changed)

	f.clock.Advance(15 * 24 * time.Hour)
	changed, err = f.svc.SweepOverdue(f.ctx(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	got, err := f.svc.GetByID(f.ctx(), inv.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, got.Status)
}
