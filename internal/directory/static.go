package directory

import (
	"context"
	"sort"
	"strings"

	"healthalert/internal/config"
	"healthalert/internal/domain"
)

// StaticDirectory serves directory lookups from a config-seeded user list.
// Params: indexed user records.
// Returns: directory implementation for single mode and tests.
type StaticDirectory struct {
	byID  map[string]User
	order []string
}

// NewStaticDirectory builds directory from config seed records.
// Params: directory section from config snapshot.
// Returns: initialized static directory.
func NewStaticDirectory(cfg config.DirectoryConfig) *StaticDirectory {
	dir := &StaticDirectory{byID: make(map[string]User, len(cfg.User))}
	for _, raw := range cfg.User {
		user := fromConfig(raw)
		dir.byID[user.ID] = user
		dir.order = append(dir.order, user.ID)
	}
	sort.Strings(dir.order)
	return dir
}

// NewStaticDirectoryFromUsers builds directory from explicit records.
// Params: user slice, typically test fixtures.
// Returns: initialized static directory.
func NewStaticDirectoryFromUsers(users []User) *StaticDirectory {
	dir := &StaticDirectory{byID: make(map[string]User, len(users))}
	for _, user := range users {
		dir.byID[user.ID] = user
		dir.order = append(dir.order, user.ID)
	}
	sort.Strings(dir.order)
	return dir
}

// fromConfig converts one seeded TOML record into a directory user.
// Params: raw config record with validated quiet-hours strings.
// Returns: runtime user record.
func fromConfig(raw config.UserConfig) User {
	user := User{
		ID:        raw.ID,
		Name:      raw.Name,
		Role:      strings.ToLower(strings.TrimSpace(raw.Role)),
		Active:    raw.Active,
		Phone:     raw.Phone,
		Email:     raw.Email,
		PushToken: raw.PushToken,
		ChatID:    raw.ChatID,
		Location: Location{
			Village:  raw.Village,
			Block:    raw.Block,
			District: raw.District,
		},
		Attributes: raw.Attributes,
	}
	for _, channel := range raw.PreferredChannels {
		user.PreferredChannels = append(user.PreferredChannels, domain.Channel(strings.ToLower(strings.TrimSpace(channel))))
	}
	if raw.QuietEnabled {
		start, errStart := config.ParseClock(raw.QuietStart)
		end, errEnd := config.ParseClock(raw.QuietEnd)
		if errStart == nil && errEnd == nil {
			user.Quiet = QuietHours{Enabled: true, StartMinute: start, EndMinute: end}
		}
	}
	return user
}

// UserByID returns one user by id.
// Params: user id.
// Returns: user record or ErrUserNotFound.
func (d *StaticDirectory) UserByID(_ context.Context, id string) (User, error) {
	user, ok := d.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// ActiveByRoles lists active users whose role is in the given set.
// Params: role names (case-insensitive).
// Returns: matching users in id order.
func (d *StaticDirectory) ActiveByRoles(_ context.Context, roles []string) ([]User, error) {
	wanted := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		wanted[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	var out []User
	for _, id := range d.order {
		user := d.byID[id]
		if !user.Active {
			continue
		}
		if _, ok := wanted[user.Role]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

// ActiveByScope lists active users under a geographic scope.
// Params: scope and optional role filter.
// Returns: matching users in id order.
func (d *StaticDirectory) ActiveByScope(_ context.Context, scope domain.GeoScope, roleFilter []string) ([]User, error) {
	wanted := make(map[string]struct{}, len(roleFilter))
	for _, role := range roleFilter {
		wanted[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	var out []User
	for _, id := range d.order {
		user := d.byID[id]
		if !user.Active || !user.InScope(scope) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[user.Role]; !ok {
				continue
			}
		}
		out = append(out, user)
	}
	return out, nil
}

// ActiveByPredicates lists active users matching all attribute predicates.
// Params: attribute-equality predicate list.
// Returns: matching users in id order.
func (d *StaticDirectory) ActiveByPredicates(_ context.Context, predicates []domain.Predicate) ([]User, error) {
	var out []User
	for _, id := range d.order {
		user := d.byID[id]
		if !user.Active {
			continue
		}
		matched := true
		for _, p := range predicates {
			if !strings.EqualFold(user.Attributes[p.Attribute], p.Value) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, user)
		}
	}
	return out, nil
}
