package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	catalogrepository "github.com/smallbiznis/renova/internal/catalog/repository"
	clientrepository "github.com/smallbiznis/renova/internal/client/repository"
	"github.com/smallbiznis/renova/internal/clock"
	"github.com/smallbiznis/renova/internal/config"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/renova/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/renova/internal/invoice/service"
	"github.com/smallbiznis/renova/internal/notifier"
	obsmetrics "github.com/smallbiznis/renova/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/renova/internal/subscription/repository"
	tenantrepository "github.com/smallbiznis/renova/internal/tenant/repository"
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
CREATE TABLE clients (
	id INTEGER PRIMARY KEY,
	tenant_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	email TEXT,
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
CREATE TABLE subscriptions (
	id INTEGER PRIMARY KEY,
	tenant_id INTEGER NOT NULL,
	client_id INTEGER NOT NULL,
	package_id INTEGER,
	amount INTEGER NOT NULL,
	currency TEXT NOT NULL,
	frequency TEXT NOT NULL,
	billing_day INTEGER,
	start_date DATETIME NOT NULL,
	end_date DATETIME,
	auto_renew BOOLEAN NOT NULL DEFAULT TRUE,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
	canceled_at DATETIME,
	status TEXT NOT NULL,
	next_billing_date DATETIME NOT NULL,
	metadata TEXT,
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

type captureProvider struct {
	mu   sync.Mutex
	sent []string
}

func (p *captureProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to[0])
	return nil
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	sched      *Scheduler
	provider   *captureProvider
	subRepo    subscriptiondomain.Repository
	invoiceSvc invoicedomain.Service
	tenantID   snowflake.ID
	clientID   snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	tenantID := node.Generate()
	clientID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO tenants (id, name, currency, vat_rate, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, "Acme", "CZK", 21.0, fake.Now(), fake.Now(),
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO clients (id, tenant_id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		clientID, tenantID, "Client A", "a@example.com", fake.Now(), fake.Now(),
	).Error)

	invoiceSvc := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Cfg:   config.Config{Billing: config.BillingConfig{PaymentTermDays: 14}},
		GenID: node,
		Clock: fake,

		Repo:        invoicerepository.Provide(),
		TenantRepo:  tenantrepository.Provide(),
		PackageRepo: catalogrepository.Provide(),
	})

	provider := &captureProvider{}
	dispatcher := notifier.NewDispatcher(zap.NewNop(), provider)
	go dispatcher.Run()
	t.Cleanup(dispatcher.Close)

	subRepo := subscriptionrepository.Provide()
	sched, err := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,

		SubscriptionRepo: subRepo,
		ClientRepo:       clientrepository.Provide(),
		InvoiceSvc:       invoiceSvc,

		Metrics:    obsmetrics.New(prometheus.NewRegistry()),
		Dispatcher: dispatcher,
		Config:     Config{WorkerCount: 1, BatchSize: 10},
	})
	require.NoError(t, err)

	return &fixture{
		db:         db,
		node:       node,
		clock:      fake,
		sched:      sched,
		provider:   provider,
		subRepo:    subRepo,
		invoiceSvc: invoiceSvc,
		tenantID:   tenantID,
		clientID:   clientID,
	}
}

type subOpts struct {
	amount            int64
	frequency         subscriptiondomain.Frequency
	billingDay        *int16
	nextBillingDate   time.Time
	endDate           *time.Time
	autoRenew         bool
	cancelAtPeriodEnd bool
	status            subscriptiondomain.SubscriptionStatus
}

func (f *fixture) insertSub(t *testing.T, opts subOpts) snowflake.ID {
	t.Helper()
	if opts.status == "" {
		opts.status = subscriptiondomain.SubscriptionStatusActive
	}
	if opts.frequency == "" {
		opts.frequency = subscriptiondomain.FrequencyMonthly
	}
	id := f.node.Generate()
	sub := subscriptiondomain.Subscription{
		ID:                id,
		TenantID:          f.tenantID,
		ClientID:          f.clientID,
		Amount:            opts.amount,
		Currency:          "CZK",
		Frequency:         opts.frequency,
		BillingDay:        opts.billingDay,
		StartDate:         opts.nextBillingDate,
		EndDate:           opts.endDate,
		AutoRenew:         opts.autoRenew,
		CancelAtPeriodEnd: opts.cancelAtPeriodEnd,
		Status:            opts.status,
		NextBillingDate:   opts.nextBillingDate,
		CreatedAt:         f.clock.Now(),
		UpdatedAt:         f.clock.Now(),
	}
	require.NoError(t, f.subRepo.Insert(context.Background(), f.db, &sub))
	return id
}

func (f *fixture) loadSub(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subRepo.FindByID(context.Background(), f.db, f.tenantID, id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return *sub
}

func (f *fixture) loadInvoices(t *testing.T, subscriptionID snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	invoices, err := invoicerepository.Provide().List(context.Background(), f.db, f.tenantID, "", subscriptionID)
	require.NoError(t, err)
	return invoices
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func day(d int) *int16 {
	v := int16(d)
	return &v
}

func TestProcessDueSubscriptions_GeneratesInvoiceAndAdvances(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeInvoiced, results[0].Outcome)
	require.NotNil(t, results[0].InvoiceID)

	invoices := f.loadInvoices(t, subID)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, int64(1), inv.InvoiceNumber)
	assert.Equal(t, int64(100000), inv.SubtotalAmount)
	assert.Equal(t, int64(21000), inv.VATAmount)
	assert.Equal(t, int64(121000), inv.TotalAmount)
	assert.Equal(t, date(2024, 1, 1), inv.IssueDate.UTC())
	assert.Equal(t, date(2024, 1, 15), inv.DueDate.UTC())

	sub := f.loadSub(t, subID)
	assert.Equal(t, date(2024, 2, 1), sub.NextBillingDate.UTC())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestProcessDueSubscriptions_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	_, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Len(t, f.loadInvoices(t, subID), 1)
}

func TestProcessDueSubscriptions_NotYetDue(t *testing.T) {
	f := newFixture(t)

	f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 15),
		autoRenew:       true,
	})

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessOne_RecheckSkipsInactive(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
		status:          subscriptiondomain.SubscriptionStatusPaused,
	})

	result := f.sched.processOne(context.Background(), WorkSubscription{ID: subID, TenantID: f.tenantID}, f.clock.Now())
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Empty(t, f.loadInvoices(t, subID))
}

func TestProcessDueSubscriptions_ExpiresPastEndDate(t *testing.T) {
	f := newFixture(t)

	end := date(2023, 12, 15)
	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		endDate:         &end,
		autoRenew:       false,
	})

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeExpired, results[0].Outcome)
	assert.Nil(t, results[0].InvoiceID)

	sub := f.loadSub(t, subID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
	assert.Empty(t, f.loadInvoices(t, subID))
}

func TestProcessDueSubscriptions_PeriodEndCancellationStopsAtBoundary(t *testing.T) {
	f := newFixture(t)

	// Cancel-at-period-end leaves endDate equal to the next billing date;
	// that boundary period must not be billed.
	end := date(2024, 1, 1)
	subID := f.insertSub(t, subOpts{
		amount:            100000,
		nextBillingDate:   date(2024, 1, 1),
		endDate:           &end,
		autoRenew:         false,
		cancelAtPeriodEnd: true,
	})

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeExpired, results[0].Outcome)

	sub := f.loadSub(t, subID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.Empty(t, f.loadInvoices(t, subID))
}

func TestProcessDueSubscriptions_ExpiresOnEndDateBoundary(t *testing.T) {
	f := newFixture(t)

	// The end date is inclusive: a non-renewing subscription whose cycle
	// falls exactly on it expires without a final invoice.
	end := date(2024, 3, 1)
	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 3, 1),
		endDate:         &end,
		autoRenew:       false,
	})

	f.clock.Set(date(2024, 3, 1))
	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeExpired, results[0].Outcome)
	assert.Nil(t, results[0].InvoiceID)

	sub := f.loadSub(t, subID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
	assert.Empty(t, f.loadInvoices(t, subID))
}

func TestProcessDueSubscriptions_EndDateIgnoredWhileAutoRenewing(t *testing.T) {
	f := newFixture(t)

	end := date(2023, 12, 1)
	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		endDate:         &end,
		autoRenew:       true,
	})

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeInvoiced, results[0].Outcome)
	assert.Len(t, f.loadInvoices(t, subID), 1)
}

func TestProcessDueSubscriptions_FailureIsolation(t *testing.T) {
	f := newFixture(t)

	healthy := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	// Point the second subscription at a tenant that has no row, so invoice
	// generation fails and rolls back only that cycle.
	orphanTenant := f.node.Generate()
	orphan := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO subscriptions (id, tenant_id, client_id, amount, currency, frequency, start_date,
		 auto_renew, cancel_at_period_end, status, next_billing_date, created_at, updated_at)
		 VALUES (?, ?, ?, 500, 'CZK', 'MONTHLY', ?, TRUE, FALSE, 'ACTIVE', ?, ?, ?)`,
		orphan, orphanTenant, f.clientID,
		date(2024, 1, 1), date(2024, 1, 1), f.clock.Now(), f.clock.Now(),
	).Error)

	results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.Error(t, err)
	require.Len(t, results, 2)

	outcomes := map[snowflake.ID]Outcome{}
	for _, r := range results {
		outcomes[r.SubscriptionID] = r.Outcome
	}
	assert.Equal(t, OutcomeInvoiced, outcomes[healthy])
	assert.Equal(t, OutcomeFailed, outcomes[orphan])

	// The healthy cycle committed despite the failure next to it.
	assert.Len(t, f.loadInvoices(t, healthy), 1)

	// The failed subscription rolled back whole: still due, no invoice.
	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM invoices WHERE subscription_id = ?`, orphan,
	).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestProcessDueSubscriptions_FailedRowReportedOnce(t *testing.T) {
	f := newFixture(t)

	// BatchSize 1 forces repeated claims. The failing row sorts first and
	// stays due, so without claim exclusion it would be picked up again on
	// every iteration and reported more than once.
	sched, err := New(Params{
		DB:    f.db,
		Log:   zap.NewNop(),
		Clock: f.clock,

		SubscriptionRepo: f.subRepo,
		ClientRepo:       clientrepository.Provide(),
		InvoiceSvc:       f.invoiceSvc,

		Metrics: obsmetrics.New(prometheus.NewRegistry()),
		Config:  Config{WorkerCount: 1, BatchSize: 1},
	})
	require.NoError(t, err)

	orphanTenant := f.node.Generate()
	orphan := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO subscriptions (id, tenant_id, client_id, amount, currency, frequency, start_date,
		 auto_renew, cancel_at_period_end, status, next_billing_date, created_at, updated_at)
		 VALUES (?, ?, ?, 500, 'CZK', 'MONTHLY', ?, TRUE, FALSE, 'ACTIVE', ?, ?, ?)`,
		orphan, orphanTenant, f.clientID,
		date(2023, 12, 1), date(2023, 12, 1), f.clock.Now(), f.clock.Now(),
	).Error)

	healthyA := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})
	healthyB := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	results, err := sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.Error(t, err)
	require.Len(t, results, 3)

	failures := 0
	for _, r := range results {
		if r.SubscriptionID == orphan {
			failures++
			assert.Equal(t, OutcomeFailed, r.Outcome)
		}
	}
	assert.Equal(t, 1, failures)

	// The healthy rows behind the failing one still got billed.
	assert.Len(t, f.loadInvoices(t, healthyA), 1)
	assert.Len(t, f.loadInvoices(t, healthyB), 1)
}

func TestProcessDueSubscriptions_TenantScoped(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	otherTenant := f.node.Generate()
	results, err := f.sched.ProcessDueSubscriptions(context.Background(), &otherTenant, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.loadInvoices(t, subID))
}

func TestProcessDueSubscriptions_MonthlyClampAcrossYear(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		billingDay:      day(31),
		nextBillingDate: date(2024, 1, 31),
		autoRenew:       true,
	})

	expected := []time.Time{
		date(2024, 1, 31),
		date(2024, 2, 29),
		date(2024, 3, 31),
		date(2024, 4, 30),
	}

	for i, issue := range expected {
		// Run the processor a day late each cycle; invoices must still be
		// issued on the scheduled date, not the wall clock.
		f.clock.Set(issue.AddDate(0, 0, 1))
		results, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
		require.NoError(t, err)
		require.Len(t, results, 1, "cycle %d", i)
		require.Equal(t, OutcomeInvoiced, results[0].Outcome)
	}

	invoices := f.loadInvoices(t, subID)
	require.Len(t, invoices, len(expected))
	// List returns newest first.
	for i, inv := range invoices {
		assert.Equal(t, expected[len(expected)-1-i], inv.IssueDate.UTC())
	}

	sub := f.loadSub(t, subID)
	assert.Equal(t, date(2024, 5, 31), sub.NextBillingDate.UTC())
}

func TestProcessDueSubscriptions_EnqueuesReceiptAfterCommit(t *testing.T) {
	f := newFixture(t)

	f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	_, err := f.sched.ProcessDueSubscriptions(context.Background(), nil, f.clock.Now())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		f.provider.mu.Lock()
		defer f.provider.mu.Unlock()
		return len(f.provider.sent) == 1 && f.provider.sent[0] == "a@example.com"
	}, time.Second, 10*time.Millisecond)
}

func TestRunOnce_SweepsOverdueInvoices(t *testing.T) {
	f := newFixture(t)

	subID := f.insertSub(t, subOpts{
		amount:          100000,
		nextBillingDate: date(2024, 1, 1),
		autoRenew:       true,
	})

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.loadInvoices(t, subID), 1)

	// Past the due date the next pass flips the invoice to OVERDUE.
	f.clock.Set(date(2024, 1, 20))
	require.NoError(t, f.sched.RunOnce(context.Background()))

	invoices := f.loadInvoices(t, subID)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, invoices[0].Status)
}
