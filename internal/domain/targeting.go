package domain

import (
	"fmt"
	"sort"
	"strings"
)

// TargetingKind selects one recipient expansion strategy.
// Params: explicit/roles/geographic/custom constants.
// Returns: resolver branch selector.
type TargetingKind string

const (
	// TargetingExplicit targets a direct user id list.
	TargetingExplicit TargetingKind = "explicit"
	// TargetingRoles targets all active users in a role set.
	TargetingRoles TargetingKind = "roles"
	// TargetingGeographic targets active users under a geographic scope.
	TargetingGeographic TargetingKind = "geographic"
	// TargetingCustom targets active users matching predicate filters.
	TargetingCustom TargetingKind = "custom"
)

// GeoScope narrows targeting to one administrative area.
// Params: at most one of village/block/district.
// Returns: geographic containment filter.
type GeoScope struct {
	Village  string `json:"village,omitempty"`
	Block    string `json:"block,omitempty"`
	District string `json:"district,omitempty"`
}

// Empty reports whether no area is set.
// Params: none.
// Returns: true when all scope fields are blank.
func (g GeoScope) Empty() bool {
	return strings.TrimSpace(g.Village) == "" &&
		strings.TrimSpace(g.Block) == "" &&
		strings.TrimSpace(g.District) == ""
}

// Predicate is one declarative attribute-equality filter.
// Params: demographic attribute name and required value.
// Returns: custom targeting filter.
type Predicate struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// TargetingSpec declares which users an alert must reach.
// Params: kind plus kind-specific selection fields.
// Returns: immutable targeting declaration resolved once per alert.
type TargetingSpec struct {
	Kind       TargetingKind `json:"kind"`
	UserIDs    []string      `json:"user_ids,omitempty"`
	Roles      []string      `json:"roles,omitempty"`
	Scope      GeoScope      `json:"scope,omitempty"`
	ScopeRoles []string      `json:"scope_roles,omitempty"`
	Predicates []Predicate   `json:"predicates,omitempty"`
}

// Validate checks spec shape for the declared kind.
// Params: none.
// Returns: ErrInvalidTargeting-wrapped error on malformed spec.
func (t TargetingSpec) Validate() error {
	switch t.Kind {
	case TargetingExplicit:
		if len(t.UserIDs) == 0 {
			return fmt.Errorf("%w: explicit targeting requires user ids", ErrInvalidTargeting)
		}
		for _, id := range t.UserIDs {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: explicit targeting contains empty user id", ErrInvalidTargeting)
			}
		}
	case TargetingRoles:
		if len(t.Roles) == 0 {
			return fmt.Errorf("%w: role targeting requires roles", ErrInvalidTargeting)
		}
	case TargetingGeographic:
		if t.Scope.Empty() {
			return fmt.Errorf("%w: geographic targeting requires scope", ErrInvalidTargeting)
		}
	case TargetingCustom:
		if len(t.Predicates) == 0 {
			return fmt.Errorf("%w: custom targeting requires predicates", ErrInvalidTargeting)
		}
		for _, p := range t.Predicates {
			if strings.TrimSpace(p.Attribute) == "" {
				return fmt.Errorf("%w: predicate attribute is required", ErrInvalidTargeting)
			}
		}
	default:
		return fmt.Errorf("%w: unknown targeting kind %q", ErrInvalidTargeting, t.Kind)
	}
	return nil
}

// Describe returns short human-readable targeting summary.
// Params: none.
// Returns: summary string stored in escalation history.
func (t TargetingSpec) Describe() string {
	switch t.Kind {
	case TargetingExplicit:
		return fmt.Sprintf("users[%d]", len(t.UserIDs))
	case TargetingRoles:
		roles := append([]string(nil), t.Roles...)
		sort.Strings(roles)
		return "roles:" + strings.Join(roles, ",")
	case TargetingGeographic:
		parts := make([]string, 0, 3)
		if t.Scope.Village != "" {
			parts = append(parts, "village="+t.Scope.Village)
		}
		if t.Scope.Block != "" {
			parts = append(parts, "block="+t.Scope.Block)
		}
		if t.Scope.District != "" {
			parts = append(parts, "district="+t.Scope.District)
		}
		return "scope:" + strings.Join(parts, ",")
	case TargetingCustom:
		return fmt.Sprintf("custom[%d]", len(t.Predicates))
	default:
		return string(t.Kind)
	}
}
