package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlertRequest is the inbound payload from triggering subsystems.
// Params: classification, content, targeting, channel set, and timing hints.
// Returns: validated creation request for the alert registry.
type AlertRequest struct {
	Type           AlertType         `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Severity       Severity          `json:"severity"`
	Priority       Priority          `json:"priority"`
	PriorityReason string            `json:"priority_reason,omitempty"`
	Targeting      TargetingSpec     `json:"targeting"`
	Channels       []Channel         `json:"channels"`
	RequiresAck    bool              `json:"requires_ack"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	ScheduledFor   *time.Time        `json:"scheduled_for,omitempty"`
	SourceEntity   string            `json:"source_entity,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DecodeAlertRequest decodes and validates one request payload.
// Params: JSON document bytes.
// Returns: validated request or decode/validation error.
func DecodeAlertRequest(raw []byte) (AlertRequest, error) {
	var req AlertRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return AlertRequest{}, fmt.Errorf("decode alert request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return AlertRequest{}, err
	}
	return req, nil
}

// DecodeAlertRequests decodes one batch of requests. Items are not
// validated here; bulk creation validates each item so one bad request
// cannot poison the rest of the batch.
// Params: JSON array bytes.
// Returns: request slice or decode error.
func DecodeAlertRequests(raw []byte) ([]AlertRequest, error) {
	var reqs []AlertRequest
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("decode alert request batch: %w", err)
	}
	if len(reqs) == 0 {
		return nil, errors.New("alert request batch must contain at least one request")
	}
	return reqs, nil
}

// Validate validates one request against the contract.
// Params: request fields parsed from transport.
// Returns: validation error when schema is violated.
func (r AlertRequest) Validate() error {
	typeKnown := false
	for _, known := range AlertTypeNames() {
		if r.Type == known {
			typeKnown = true
			break
		}
	}
	if !typeKnown {
		return fmt.Errorf("unsupported alert type %q", r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityUrgent, SeverityEmergency:
	case "":
		return errors.New("severity is required")
	default:
		return fmt.Errorf("unsupported severity %q", r.Severity)
	}
	if r.Priority != "" && r.Priority.Rank() < 0 {
		return fmt.Errorf("unsupported priority %q", r.Priority)
	}
	if len(r.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	for _, channel := range r.Channels {
		known := false
		for _, candidate := range ChannelNames() {
			if channel == candidate {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unsupported channel %q", channel)
		}
	}
	if err := r.Targeting.Validate(); err != nil {
		return err
	}
	if r.ExpiresAt != nil && r.ScheduledFor != nil && !r.ExpiresAt.After(*r.ScheduledFor) {
		return errors.New("expires_at must be after scheduled_for")
	}
	return nil
}

// EffectivePriority returns request priority with severity-derived default.
// Params: none.
// Returns: explicit priority or severity-mapped fallback.
func (r AlertRequest) EffectivePriority() Priority {
	if r.Priority != "" {
		return r.Priority
	}
	switch r.Severity {
	case SeverityEmergency:
		return PriorityEmergency
	case SeverityUrgent:
		return PriorityUrgent
	case SeverityWarning:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}
