package tracker

import (
	"context"
	"fmt"

	"healthalert/internal/clock"
	"healthalert/internal/domain"
	"healthalert/internal/store"
)

// Tracker folds delivery outcomes into recipient entries and counters.
// Params: store backend and clock.
// Returns: single write-path for per-recipient delivery state.
type Tracker struct {
	store store.Store
	clock clock.Clock
}

// New creates tracker over one store backend.
// Params: alert store and clock.
// Returns: initialized tracker.
func New(backend store.Store, clk clock.Clock) *Tracker {
	return &Tracker{store: backend, clock: clk}
}

// RecordOutcome updates per-channel state and recomputes counters.
// Params: alert/recipient/channel references and send outcome.
// Returns: store error or ErrRecipientNotFound.
func (t *Tracker) RecordOutcome(ctx context.Context, alertID, recipientID string, channel domain.Channel, outcome domain.SendOutcome) error {
	_, err := store.Mutate(ctx, t.store, alertID, func(alert *domain.Alert) error {
		entry := alert.FindRecipient(recipientID)
		if entry == nil {
			return fmt.Errorf("alert %s user %s: %w", alertID, recipientID, domain.ErrRecipientNotFound)
		}
		entry.ApplyOutcome(channel, outcome)
		alert.RecomputeCounters()
		return nil
	})
	return err
}

// RecordRead marks one channel read for a targeted recipient.
// Params: alert/recipient/channel references.
// Returns: store error or ErrRecipientNotFound.
func (t *Tracker) RecordRead(ctx context.Context, alertID, recipientID string, channel domain.Channel) error {
	now := t.clock.Now()
	_, err := store.Mutate(ctx, t.store, alertID, func(alert *domain.Alert) error {
		entry := alert.FindRecipient(recipientID)
		if entry == nil {
			return fmt.Errorf("alert %s user %s: %w", alertID, recipientID, domain.ErrRecipientNotFound)
		}
		if entry.MarkRead(channel, now) {
			alert.RecomputeCounters()
		}
		return nil
	})
	return err
}

// RecordAcknowledgment records one recipient acknowledgment.
// Params: alert/recipient references plus notes and actions taken.
// Returns: updated alert; repeat acknowledgments are idempotent no-ops,
// non-targeted users fail with ErrRecipientNotFound, terminal alerts
// reject first-time acknowledgments with ErrInvalidTransition.
func (t *Tracker) RecordAcknowledgment(ctx context.Context, alertID, recipientID, notes string, actions []string) (domain.Alert, error) {
	now := t.clock.Now()
	return store.Mutate(ctx, t.store, alertID, func(alert *domain.Alert) error {
		entry := alert.FindRecipient(recipientID)
		if entry == nil {
			return fmt.Errorf("alert %s user %s: %w", alertID, recipientID, domain.ErrRecipientNotFound)
		}
		if entry.Acknowledged {
			return nil
		}
		if alert.Status.Terminal() {
			return fmt.Errorf("alert %s is %s: %w", alertID, alert.Status, domain.ErrInvalidTransition)
		}
		entry.Acknowledge(notes, actions, now)
		alert.RecomputeCounters()
		return nil
	})
}

// DeliverySummary returns counters consistent with recipient entries.
// Params: alert id.
// Returns: recomputed aggregate counters.
func (t *Tracker) DeliverySummary(ctx context.Context, alertID string) (domain.Counters, error) {
	alert, _, err := t.store.GetAlert(ctx, alertID)
	if err != nil {
		return domain.Counters{}, err
	}
	alert.RecomputeCounters()
	return alert.Counters, nil
}
