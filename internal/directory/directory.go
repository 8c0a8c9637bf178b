package directory

import (
	"context"
	"errors"
	"strings"

	"healthalert/internal/domain"
)

// ErrUserNotFound indicates absent user id in the directory.
var ErrUserNotFound = errors.New("user not found")

// QuietHours is a recipient-configured delivery suppression window.
// Params: start/end minute offsets from midnight; window may wrap midnight.
// Returns: quiet-hours preference consumed by the scheduler.
type QuietHours struct {
	Enabled     bool
	StartMinute int
	EndMinute   int
}

// Location is the user's assigned administrative area.
// Params: village/block/district names.
// Returns: geographic attributes for scope targeting.
type Location struct {
	Village  string
	Block    string
	District string
}

// User is one identity directory record consumed by the engine.
// Params: identity, contacts, role, location, and delivery preferences.
// Returns: read-only recipient data.
type User struct {
	ID                string
	Name              string
	Role              string
	Active            bool
	Phone             string
	Email             string
	PushToken         string
	ChatID            string
	Location          Location
	PreferredChannels []domain.Channel
	Quiet             QuietHours
	Attributes        map[string]string
}

// Address returns the contact address for one channel.
// Params: delivery channel.
// Returns: channel-specific destination or empty string.
func (u User) Address(channel domain.Channel) string {
	switch channel {
	case domain.ChannelSMS, domain.ChannelVoice:
		return u.Phone
	case domain.ChannelEmail:
		return u.Email
	case domain.ChannelPush:
		return u.PushToken
	case domain.ChannelChat:
		return u.ChatID
	default:
		return ""
	}
}

// InScope reports whether user location falls under a geographic scope.
// Params: scope with at most one populated level per field.
// Returns: true when every set scope field matches the user location.
func (u User) InScope(scope domain.GeoScope) bool {
	if scope.Village != "" && !strings.EqualFold(scope.Village, u.Location.Village) {
		return false
	}
	if scope.Block != "" && !strings.EqualFold(scope.Block, u.Location.Block) {
		return false
	}
	if scope.District != "" && !strings.EqualFold(scope.District, u.Location.District) {
		return false
	}
	return true
}

// Directory resolves users, roles, and geographic scopes.
// Params: read-only identity lookups used by the recipient resolver.
// Returns: recipient data for targeting expansion.
type Directory interface {
	UserByID(ctx context.Context, id string) (User, error)
	ActiveByRoles(ctx context.Context, roles []string) ([]User, error)
	ActiveByScope(ctx context.Context, scope domain.GeoScope, roleFilter []string) ([]User, error)
	ActiveByPredicates(ctx context.Context, predicates []domain.Predicate) ([]User, error)
}
