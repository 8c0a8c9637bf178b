package resolver

import (
	"context"
	"fmt"
	"sort"

	"healthalert/internal/directory"
	"healthalert/internal/domain"
)

// ResolvedRecipient is one targeted user with assigned delivery channels.
// Params: directory user plus channel assignment metadata.
// Returns: dispatch input produced by targeting expansion.
type ResolvedRecipient struct {
	User                directory.User
	Channels            []domain.Channel
	UnpreferredOverride bool
}

// Resolver expands targeting specs against the identity directory.
// Params: read-only directory dependency.
// Returns: recipient expansion behavior.
type Resolver struct {
	dir directory.Directory
}

// New creates resolver over one directory.
// Params: identity directory implementation.
// Returns: initialized resolver.
func New(dir directory.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve expands one targeting spec into concrete recipients.
// Params: context, targeting spec, and the alert's requested channel set.
// Returns: deduplicated recipients or ErrInvalidTargeting-wrapped error.
func (r *Resolver) Resolve(ctx context.Context, spec domain.TargetingSpec, requested []domain.Channel) ([]ResolvedRecipient, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var (
		users []directory.User
		err   error
	)
	switch spec.Kind {
	case domain.TargetingExplicit:
		users, err = r.explicitUsers(ctx, spec.UserIDs)
	case domain.TargetingRoles:
		users, err = r.dir.ActiveByRoles(ctx, spec.Roles)
	case domain.TargetingGeographic:
		users, err = r.dir.ActiveByScope(ctx, spec.Scope, spec.ScopeRoles)
	case domain.TargetingCustom:
		users, err = r.dir.ActiveByPredicates(ctx, spec.Predicates)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(users))
	out := make([]ResolvedRecipient, 0, len(users))
	for _, user := range users {
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		out = append(out, assignChannels(user, requested))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out, nil
}

// explicitUsers looks up a direct id list with deduplication.
// Params: context and explicit user ids.
// Returns: found users; unknown ids are skipped, not errors.
func (r *Resolver) explicitUsers(ctx context.Context, ids []string) ([]directory.User, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]directory.User, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		user, err := r.dir.UserByID(ctx, id)
		if err != nil {
			if err == directory.ErrUserNotFound {
				continue
			}
			return nil, fmt.Errorf("lookup user %q: %w", id, err)
		}
		out = append(out, user)
	}
	return out, nil
}

// assignChannels intersects user preference with the requested channel set.
// Params: user record and alert's requested channels.
// Returns: recipient with assigned channels; empty intersection falls back
// to the first requested channel flagged as unpreferred-channel-override.
func assignChannels(user directory.User, requested []domain.Channel) ResolvedRecipient {
	preferred := make(map[domain.Channel]struct{}, len(user.PreferredChannels))
	for _, channel := range user.PreferredChannels {
		preferred[channel] = struct{}{}
	}

	assigned := make([]domain.Channel, 0, len(requested))
	for _, channel := range requested {
		if _, ok := preferred[channel]; ok {
			assigned = append(assigned, channel)
		}
	}
	if len(assigned) > 0 {
		return ResolvedRecipient{User: user, Channels: assigned}
	}
	if len(requested) == 0 {
		return ResolvedRecipient{User: user}
	}
	return ResolvedRecipient{
		User:                user,
		Channels:            []domain.Channel{requested[0]},
		UnpreferredOverride: true,
	}
}

// Entries converts resolved recipients into alert recipient entries.
// Params: resolved recipient list.
// Returns: fresh recipient entries without delivery state.
func Entries(recipients []ResolvedRecipient) []domain.RecipientEntry {
	out := make([]domain.RecipientEntry, 0, len(recipients))
	for _, recipient := range recipients {
		out = append(out, domain.RecipientEntry{
			UserID:              recipient.User.ID,
			Channels:            append([]domain.Channel(nil), recipient.Channels...),
			UnpreferredOverride: recipient.UnpreferredOverride,
		})
	}
	return out
}

// Union merges newly resolved entries into existing ones as a set union.
// Params: existing alert entries and re-resolution result; existing
// entries keep their delivery and acknowledgment state untouched.
// Returns: merged entry list plus the delta of genuinely new recipients.
func Union(existing []domain.RecipientEntry, next []domain.RecipientEntry) ([]domain.RecipientEntry, []domain.RecipientEntry) {
	present := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		present[entry.UserID] = struct{}{}
	}
	merged := append([]domain.RecipientEntry(nil), existing...)
	var delta []domain.RecipientEntry
	for _, entry := range next {
		if _, ok := present[entry.UserID]; ok {
			continue
		}
		present[entry.UserID] = struct{}{}
		merged = append(merged, entry)
		delta = append(delta, entry)
	}
	return merged, delta
}
