package domain

import "errors"

var (
	// ErrInvalidTargeting indicates malformed or empty targeting spec.
	ErrInvalidTargeting = errors.New("invalid targeting")
	// ErrInvalidTransition indicates a status change violating the lifecycle.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidEscalation indicates an escalation to an invalid recipient set.
	ErrInvalidEscalation = errors.New("invalid escalation")
	// ErrRecipientNotFound indicates an acknowledgment/read for a non-targeted user.
	ErrRecipientNotFound = errors.New("recipient not found")
)
