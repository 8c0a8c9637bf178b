package registry

import (
	"fmt"
	"strings"
)

// Capability names one operation a role may perform on the registry.
// Params: string constant per guarded operation.
// Returns: authorization check key.
type Capability string

const (
	// CapCreate allows creating alerts, including bulk creation.
	CapCreate Capability = "alert.create"
	// CapRead allows reading and listing alerts.
	CapRead Capability = "alert.read"
	// CapTransition allows lifecycle status updates.
	CapTransition Capability = "alert.transition"
	// CapEscalate allows manual escalation.
	CapEscalate Capability = "alert.escalate"
	// CapAcknowledge allows acknowledging on one's own behalf.
	CapAcknowledge Capability = "alert.acknowledge"
)

// ErrForbidden reports a role lacking the capability for an operation.
// Params: role and capability.
// Returns: typed authorization error.
type ErrForbidden struct {
	Role       string
	Capability Capability
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("role %q lacks capability %q", e.Role, e.Capability)
}

// roleCapabilities maps each known role to its fixed capability set.
// Unknown roles get the field-worker baseline.
var roleCapabilities = map[string][]Capability{
	"admin":           {CapCreate, CapRead, CapTransition, CapEscalate, CapAcknowledge},
	"health_official": {CapCreate, CapRead, CapTransition, CapEscalate, CapAcknowledge},
	"supervisor":      {CapCreate, CapRead, CapTransition, CapAcknowledge},
	"anm":             {CapCreate, CapRead, CapAcknowledge},
	"asha":            {CapRead, CapAcknowledge},
	"clinic_staff":    {CapRead, CapAcknowledge},
}

var baselineCapabilities = []Capability{CapRead, CapAcknowledge}

// Allowed reports whether a role carries a capability.
// Params: role name (case-insensitive) and capability.
// Returns: true when the role's set contains the capability.
func Allowed(role string, capability Capability) bool {
	set, ok := roleCapabilities[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		set = baselineCapabilities
	}
	for _, c := range set {
		if c == capability {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden when a role lacks a capability.
// Params: role name and capability.
// Returns: nil when allowed.
func Require(role string, capability Capability) error {
	if Allowed(role, capability) {
		return nil
	}
	return &ErrForbidden{Role: role, Capability: capability}
}
