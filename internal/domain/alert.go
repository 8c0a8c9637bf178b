package domain

import "time"

// AlertType classifies the originating health/administrative event.
// Params: enumerated type constants below.
// Returns: template selection and filtering key.
type AlertType string

const (
	// AlertTypeHealthEmergency marks an acute health emergency.
	AlertTypeHealthEmergency AlertType = "health_emergency"
	// AlertTypeDiseaseOutbreak marks a suspected or confirmed outbreak.
	AlertTypeDiseaseOutbreak AlertType = "disease_outbreak"
	// AlertTypeWaterContamination marks a failed water-quality test.
	AlertTypeWaterContamination AlertType = "water_contamination"
	// AlertTypeVaccinationReminder marks a vaccination schedule reminder.
	AlertTypeVaccinationReminder AlertType = "vaccination_reminder"
	// AlertTypeAppointment marks an appointment notification.
	AlertTypeAppointment AlertType = "appointment"
	// AlertTypeSystem marks an internal system notice.
	AlertTypeSystem AlertType = "system"
	// AlertTypeAdministrative marks an administrative notice.
	AlertTypeAdministrative AlertType = "administrative"
)

// AlertTypeNames returns all known alert types in stable order.
// Params: none.
// Returns: deterministic type list for validation and templates.
func AlertTypeNames() []AlertType {
	return []AlertType{
		AlertTypeHealthEmergency,
		AlertTypeDiseaseOutbreak,
		AlertTypeWaterContamination,
		AlertTypeVaccinationReminder,
		AlertTypeAppointment,
		AlertTypeSystem,
		AlertTypeAdministrative,
	}
}

// Severity is the alert level shown to recipients.
// Params: info/warning/urgent/emergency constants.
// Returns: rendering and filtering severity value.
type Severity string

const (
	// SeverityInfo marks informational alerts.
	SeverityInfo Severity = "info"
	// SeverityWarning marks alerts requiring attention.
	SeverityWarning Severity = "warning"
	// SeverityUrgent marks alerts requiring prompt action.
	SeverityUrgent Severity = "urgent"
	// SeverityEmergency marks alerts requiring immediate action.
	SeverityEmergency Severity = "emergency"
)

// Priority drives scheduling and escalation policy.
// Params: low..emergency scale constants.
// Returns: ordered priority level.
type Priority string

const (
	// PriorityLow is the lowest delivery priority.
	PriorityLow Priority = "low"
	// PriorityMedium is the default delivery priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh marks alerts above routine traffic.
	PriorityHigh Priority = "high"
	// PriorityUrgent marks alerts subject to auto-escalation.
	PriorityUrgent Priority = "urgent"
	// PriorityEmergency bypasses quiet hours and deferral.
	PriorityEmergency Priority = "emergency"
)

var priorityRank = map[Priority]int{
	PriorityLow:       0,
	PriorityMedium:    1,
	PriorityHigh:      2,
	PriorityUrgent:    3,
	PriorityEmergency: 4,
}

// Rank returns numeric position on the priority scale.
// Params: none.
// Returns: 0-based rank, -1 for unknown priority.
func (p Priority) Rank() int {
	rank, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return rank
}

// Raise returns the next priority level capped at emergency.
// Params: none.
// Returns: one-step raised priority.
func (p Priority) Raise() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh:
		return PriorityUrgent
	default:
		return PriorityEmergency
	}
}

// Status is the alert lifecycle state.
// Params: draft/active/escalated/resolved/cancelled/expired constants.
// Returns: lifecycle state for registry transitions.
type Status string

const (
	// StatusDraft marks a created alert waiting for its scheduled time.
	StatusDraft Status = "draft"
	// StatusActive marks a dispatched or dispatchable alert.
	StatusActive Status = "active"
	// StatusEscalated marks an alert re-routed to a broader recipient set.
	StatusEscalated Status = "escalated"
	// StatusResolved marks a closed alert.
	StatusResolved Status = "resolved"
	// StatusCancelled marks an alert withdrawn before resolution.
	StatusCancelled Status = "cancelled"
	// StatusExpired marks an unacknowledged alert past its expiry.
	StatusExpired Status = "expired"
)

// Terminal reports whether status accepts no further mutation.
// Params: none.
// Returns: true for resolved/cancelled/expired.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[Status][]Status{
	StatusDraft:     {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:    {StatusEscalated, StatusResolved, StatusCancelled, StatusExpired},
	StatusEscalated: {StatusResolved, StatusCancelled, StatusExpired},
}

// CanTransition reports whether lifecycle allows moving to next status.
// Params: candidate next status.
// Returns: true when the transition table permits the change.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Channel is one delivery medium.
// Params: sms/email/push/chat/voice constants.
// Returns: adapter routing key.
type Channel string

const (
	// ChannelSMS delivers a text message.
	ChannelSMS Channel = "sms"
	// ChannelEmail delivers electronic mail.
	ChannelEmail Channel = "email"
	// ChannelPush delivers a mobile push notification.
	ChannelPush Channel = "push"
	// ChannelChat delivers a chat message.
	ChannelChat Channel = "chat"
	// ChannelVoice delivers a voice call.
	ChannelVoice Channel = "voice"
)

// ChannelNames returns all known channels in stable order.
// Params: none.
// Returns: deterministic channel list for validation.
func ChannelNames() []Channel {
	return []Channel{ChannelSMS, ChannelEmail, ChannelPush, ChannelChat, ChannelVoice}
}

// StatusChange is one append-only status history record.
// Params: resulting status, acting user, reason, and time.
// Returns: audit entry on the alert.
type StatusChange struct {
	Status Status    `json:"status"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// EscalationRecord is one append-only escalation history record.
// Params: actor, target description, level, reason, and automatic marker.
// Returns: audit entry on the alert.
type EscalationRecord struct {
	By        string    `json:"by"`
	To        string    `json:"to"`
	Level     int       `json:"level"`
	Reason    string    `json:"reason"`
	Automatic bool      `json:"automatic,omitempty"`
	At        time.Time `json:"at"`
}

// Alert is one raised notification event with targeting and lifecycle.
// Params: classification, content, targeting, channel set, and histories.
// Returns: unit of work for the delivery and escalation pipeline.
type Alert struct {
	ID             string            `json:"id"`
	Type           AlertType         `json:"type"`
	Severity       Severity          `json:"severity"`
	Priority       Priority          `json:"priority"`
	PriorityReason string            `json:"priority_reason,omitempty"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	Targeting    TargetingSpec `json:"targeting"`
	Channels     []Channel     `json:"channels"`
	RequiresAck  bool          `json:"requires_ack"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`

	Status       Status    `json:"status"`
	CreatedBy    string    `json:"created_by"`
	SourceEntity string    `json:"source_entity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	StatusHistory     []StatusChange     `json:"status_history,omitempty"`
	EscalationHistory []EscalationRecord `json:"escalation_history,omitempty"`

	Recipients []RecipientEntry `json:"recipients,omitempty"`
	Counters   Counters         `json:"counters"`
}

// FindRecipient returns pointer to recipient entry by user id.
// Params: user id from the resolved recipient set.
// Returns: entry pointer or nil when user is not targeted.
func (a *Alert) FindRecipient(userID string) *RecipientEntry {
	for i := range a.Recipients {
		if a.Recipients[i].UserID == userID {
			return &a.Recipients[i]
		}
	}
	return nil
}

// AppendStatus applies status change and records history entry.
// Params: next status, acting user, reason, and change time.
// Returns: none (mutates alert in place).
func (a *Alert) AppendStatus(next Status, actor, reason string, at time.Time) {
	a.Status = next
	a.StatusHistory = append(a.StatusHistory, StatusChange{
		Status: next,
		Actor:  actor,
		Reason: reason,
		At:     at,
	})
}

// ExpiredAt reports whether alert expiry has passed.
// Params: evaluation time.
// Returns: true when expires_at is set and not after now.
func (a *Alert) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// DueAt reports whether scheduled-for allows dispatch at now.
// Params: evaluation time.
// Returns: true when no schedule is set or schedule has passed.
func (a *Alert) DueAt(now time.Time) bool {
	return a.ScheduledFor == nil || !a.ScheduledFor.After(now)
}
