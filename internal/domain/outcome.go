package domain

import "time"

// OutcomeStatus classifies one channel send attempt result.
// Params: sent/delivered/failed/skipped constants.
// Returns: tracker state transition selector.
type OutcomeStatus string

const (
	// OutcomeSent marks a successful handoff to the channel provider.
	OutcomeSent OutcomeStatus = "sent"
	// OutcomeDelivered marks provider-confirmed delivery.
	OutcomeDelivered OutcomeStatus = "delivered"
	// OutcomeFailed marks a permanent failure or exhausted retries.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeSkipped marks a unit not started (cancelled alert, deferred).
	OutcomeSkipped OutcomeStatus = "skipped"
)

// SendOutcome is the terminal result of one dispatch unit.
// Params: status, failure reason, provider message id, and attempt count.
// Returns: record consumed by the delivery tracker.
type SendOutcome struct {
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ExternalID string        `json:"external_id,omitempty"`
	Attempts   int           `json:"attempts"`
	At         time.Time     `json:"at"`
}

// ApplyOutcome folds one send outcome into per-channel state.
// Params: channel key and outcome record.
// Returns: none (mutates recipient entry in place).
func (r *RecipientEntry) ApplyOutcome(channel Channel, outcome SendOutcome) {
	state := r.State(channel)
	at := outcome.At
	switch outcome.Status {
	case OutcomeSent:
		state.Sent = true
		state.SentAt = &at
		state.Failed = false
		state.FailureReason = ""
	case OutcomeDelivered:
		state.Sent = true
		if state.SentAt == nil {
			state.SentAt = &at
		}
		state.Delivered = true
		state.DeliveredAt = &at
		state.Failed = false
		state.FailureReason = ""
	case OutcomeFailed:
		state.Failed = true
		state.FailedAt = &at
		state.FailureReason = outcome.Reason
	case OutcomeSkipped:
		// no delivery state change for skipped units
	}
	if outcome.ExternalID != "" {
		state.ExternalID = outcome.ExternalID
	}
	if outcome.Attempts > state.Attempts {
		state.Attempts = outcome.Attempts
	}
	r.SetState(channel, state)
}

// MarkRead records read receipt for one channel.
// Params: channel key and read time.
// Returns: true when state changed.
func (r *RecipientEntry) MarkRead(channel Channel, at time.Time) bool {
	state := r.State(channel)
	if state.Read {
		return false
	}
	state.Read = true
	state.ReadAt = &at
	r.SetState(channel, state)
	return true
}
