// Package notifier delivers invoice emails off the billing path. Delivery is
// fire and forget: a failed send is logged, never retried, and never fails
// the billing run that produced the invoice.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/renova/internal/providers/email"
	"go.uber.org/zap"
)

// Receipt carries everything needed to email one generated invoice. It is
// built after the billing transaction commits so no database access happens
// on the delivery side.
type Receipt struct {
	TenantID      snowflake.ID
	InvoiceID     snowflake.ID
	InvoiceNumber int64
	ClientEmail   string
	ClientName    string
	TotalAmount   int64
	Currency      string
	DueDate       string
}

type Dispatcher struct {
	log      *zap.Logger
	provider email.Provider
	queue    chan Receipt
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(log *zap.Logger, provider email.Provider) *Dispatcher {
	return &Dispatcher{
		log:      log.Named("notifier"),
		provider: provider,
		queue:    make(chan Receipt, 256),
		done:     make(chan struct{}),
	}
}

// Enqueue never blocks. When the queue is full, or the dispatcher already
// closed, the receipt is dropped with a log line rather than stalling or
// panicking the billing run.
func (d *Dispatcher) Enqueue(r Receipt) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping email",
			zap.Int64("invoice_id", int64(r.InvoiceID)),
		)
		return
	}
	select {
	case d.queue <- r:
	default:
		d.log.Warn("receipt queue full, dropping email",
			zap.Int64("invoice_id", int64(r.InvoiceID)),
		)
	}
}

// Run drains the queue until Close is called and the queue is empty.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for r := range d.queue {
		d.deliver(r)
	}
}

// Close stops intake and waits for in-flight deliveries to finish. Safe to
// call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	d.mu.Unlock()

	if !alreadyClosed {
		close(d.queue)
	}
	<-d.done
}

func (d *Dispatcher) deliver(r Receipt) {
	if r.ClientEmail == "" {
		return
	}

	subject := fmt.Sprintf("Invoice #%d", r.InvoiceNumber)
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>Your invoice #%d for %d.%02d %s has been issued. Payment is due by %s.</p>",
		r.ClientName, r.InvoiceNumber, r.TotalAmount/100, r.TotalAmount%100, r.Currency, r.DueDate,
	)

	if err := d.provider.Send(context.Background(), []string{r.ClientEmail}, subject, body); err != nil {
		d.log.Warn("invoice email failed",
			zap.Int64("invoice_id", int64(r.InvoiceID)),
			zap.Error(err),
		)
		return
	}
	d.log.Info("invoice email sent",
		zap.Int64("invoice_id", int64(r.InvoiceID)),
		zap.Int64("invoice_number", r.InvoiceNumber),
	)
}
