package channel

import (
	"context"
	"fmt"
	"net/http"

	"healthalert/internal/domain"
	"healthalert/internal/permanent"
	"healthalert/internal/render"
)

// Delivery is one rendered payload bound to a destination address.
// Params: idempotency key, alert/recipient references, and content.
// Returns: adapter send input.
type Delivery struct {
	Key         string
	AlertID     string
	RecipientID string
	Channel     domain.Channel
	Address     string
	Content     render.Rendered
}

// SendResult returns provider metadata after successful delivery.
// Params: external message id for idempotency and correlation.
// Returns: optional provider identifiers.
type SendResult struct {
	ExternalID string
	Duplicate  bool
}

// Adapter sends one delivery on one medium.
// Params: context and delivery payload.
// Returns: provider metadata or classified transport error.
type Adapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, delivery Delivery) (SendResult, error)
}

// IsPermanent reports whether a send error must not be retried.
// Params: adapter error.
// Returns: true for invalid-address/unsubscribed style failures.
func IsPermanent(err error) bool {
	return permanent.Is(err)
}

// classifyStatus wraps an HTTP provider status into a send error.
// Params: operation label and response status code.
// Returns: permanent-marked error for non-retryable 4xx, plain error otherwise.
func classifyStatus(op string, status int) error {
	err := fmt.Errorf("%s: unexpected status %d", op, status)
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return err
	case status >= 400 && status < 500:
		return permanent.Mark(err)
	default:
		return err
	}
}
