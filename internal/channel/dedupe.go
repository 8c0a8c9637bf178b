package channel

import (
	"context"
	"sync"

	"healthalert/internal/domain"
)

// Deduper suppresses duplicate sends for already-successful idempotency keys.
// Params: wrapped adapter and completed-key memory.
// Returns: adapter where retried or re-triggered keys become no-ops.
type Deduper struct {
	mu        sync.Mutex
	inner     Adapter
	completed map[string]SendResult
}

// NewDeduper wraps one adapter with idempotency-key suppression.
// Params: inner adapter.
// Returns: deduplicating adapter.
func NewDeduper(inner Adapter) *Deduper {
	return &Deduper{inner: inner, completed: make(map[string]SendResult)}
}

// Channel returns wrapped adapter channel key.
// Params: none.
// Returns: inner channel.
func (d *Deduper) Channel() domain.Channel {
	return d.inner.Channel()
}

// Send forwards delivery unless the key already succeeded.
// Params: context and delivery payload.
// Returns: cached result flagged duplicate, or the inner send result.
func (d *Deduper) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	d.mu.Lock()
	if cached, ok := d.completed[delivery.Key]; ok {
		d.mu.Unlock()
		cached.Duplicate = true
		return cached, nil
	}
	d.mu.Unlock()

	result, err := d.inner.Send(ctx, delivery)
	if err != nil {
		return SendResult{}, err
	}

	d.mu.Lock()
	d.completed[delivery.Key] = result
	d.mu.Unlock()
	return result, nil
}
