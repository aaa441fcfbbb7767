package notifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureProvider struct {
	mu    sync.Mutex
	sent  [][]string
	bodys []string
}

func (p *captureProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to)
	p.bodys = append(p.bodys, htmlBody)
	return nil
}

func TestDispatcherDeliversQueuedReceipts(t *testing.T) {
	provider := &captureProvider{}
	d := NewDispatcher(zap.NewNop(), provider)

	go d.Run()
	d.Enqueue(Receipt{
		InvoiceID:     1,
		InvoiceNumber: 42,
		ClientEmail:   "a@example.com",
		ClientName:    "Client A",
		TotalAmount:   121000,
		Currency:      "CZK",
		DueDate:       "2024-01-15",
	})
	d.Enqueue(Receipt{InvoiceID: 2, InvoiceNumber: 43}) // no email, skipped
	d.Close()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.sent, 1)
	assert.Equal(t, []string{"a@example.com"}, provider.sent[0])
	assert.Contains(t, provider.bodys[0], "invoice #42")
	assert.Contains(t, provider.bodys[0], "1210.00 CZK")
}

func TestDispatcherEnqueueAfterCloseIsDropped(t *testing.T) {
	provider := &captureProvider{}
	d := NewDispatcher(zap.NewNop(), provider)

	go d.Run()
	d.Close()

	// A billing cycle committing during shutdown must drop its receipt, not
	// panic on the closed queue.
	d.Enqueue(Receipt{InvoiceID: 1, InvoiceNumber: 42, ClientEmail: "a@example.com"})
	d.Close()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Empty(t, provider.sent)
}
