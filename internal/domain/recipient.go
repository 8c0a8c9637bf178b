package domain

import "time"

// ChannelState holds per-channel delivery progress for one recipient.
// Params: sent/delivered/read flags with timestamps and failure reason.
// Returns: delivery progress record updated by the tracker.
type ChannelState struct {
	Sent          bool       `json:"sent"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	Delivered     bool       `json:"delivered"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	Failed        bool       `json:"failed"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ExternalID    string     `json:"external_id,omitempty"`
	Attempts      int        `json:"attempts,omitempty"`
}

// RecipientEntry is per-user delivery/acknowledgment state for one alert.
// Params: user reference, assigned channels, and per-channel state.
// Returns: child record owned by the alert.
type RecipientEntry struct {
	UserID              string                   `json:"user_id"`
	Channels            []Channel                `json:"channels"`
	UnpreferredOverride bool                     `json:"unpreferred_override,omitempty"`
	States              map[Channel]ChannelState `json:"states,omitempty"`

	Acknowledged bool       `json:"acknowledged"`
	AckAt        *time.Time `json:"ack_at,omitempty"`
	AckNotes     string     `json:"ack_notes,omitempty"`
	AckActions   []string   `json:"ack_actions,omitempty"`
}

// HasChannel reports whether channel is assigned to this recipient.
// Params: candidate channel.
// Returns: true when channel is in the assigned set.
func (r *RecipientEntry) HasChannel(channel Channel) bool {
	for _, assigned := range r.Channels {
		if assigned == channel {
			return true
		}
	}
	return false
}

// State returns the current channel state value.
// Params: channel key.
// Returns: stored state or zero value.
func (r *RecipientEntry) State(channel Channel) ChannelState {
	if r.States == nil {
		return ChannelState{}
	}
	return r.States[channel]
}

// SetState stores channel state, allocating the map lazily.
// Params: channel key and replacement state.
// Returns: none (mutates entry in place).
func (r *RecipientEntry) SetState(channel Channel, state ChannelState) {
	if r.States == nil {
		r.States = make(map[Channel]ChannelState, len(r.Channels))
	}
	r.States[channel] = state
}

// Acknowledge records acknowledgment metadata once.
// Params: notes, actions taken, and acknowledgment time.
// Returns: true when entry changed, false for the idempotent repeat.
func (r *RecipientEntry) Acknowledge(notes string, actions []string, at time.Time) bool {
	if r.Acknowledged {
		return false
	}
	r.Acknowledged = true
	ackAt := at
	r.AckAt = &ackAt
	r.AckNotes = notes
	r.AckActions = actions
	return true
}

// Counters are denormalized alert-level delivery aggregates.
// Params: per-dimension recipient counts.
// Returns: cache recomputable from recipient entries.
type Counters struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Read         int `json:"read"`
	Failed       int `json:"failed"`
	Acknowledged int `json:"acknowledged"`
}

// RecomputeCounters rebuilds aggregate counters from recipient entries.
// Params: none.
// Returns: none (replaces the cached counters on the alert).
func (a *Alert) RecomputeCounters() {
	counters := Counters{Total: len(a.Recipients)}
	for i := range a.Recipients {
		entry := &a.Recipients[i]
		var sent, delivered, read, failed bool
		for _, state := range entry.States {
			sent = sent || state.Sent
			delivered = delivered || state.Delivered
			read = read || state.Read
			failed = failed || state.Failed
		}
		if sent {
			counters.Sent++
		}
		if delivered {
			counters.Delivered++
		}
		if read {
			counters.Read++
		}
		if failed {
			counters.Failed++
		}
		if entry.Acknowledged {
			counters.Acknowledged++
		}
	}
	a.Counters = counters
}
