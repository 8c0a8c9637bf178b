package resolver

import (
	"context"
	"testing"

	"healthalert/internal/directory"
	"healthalert/internal/domain"
)

func testDirectory() *directory.StaticDirectory {
	return directory.NewStaticDirectoryFromUsers([]directory.User{
		{
			ID: "u-asha-1", Name: "Meena", Role: "asha", Active: true,
			Phone:             "+911111111111",
			Location:          directory.Location{Village: "Rampur", Block: "Hanskhali", District: "Nadia"},
			PreferredChannels: []domain.Channel{domain.ChannelSMS},
		},
		{
			ID: "u-asha-2", Name: "Sita", Role: "asha", Active: false,
			Phone:             "+912222222222",
			Location:          directory.Location{Village: "Rampur", Block: "Hanskhali", District: "Nadia"},
			PreferredChannels: []domain.Channel{domain.ChannelSMS},
		},
		{
			ID: "u-off-1", Name: "Dr. Rao", Role: "health_official", Active: true,
			Phone: "+913333333333", Email: "rao@example.org",
			Location:          directory.Location{Village: "Krishnanagar", Block: "Sadar", District: "Nadia"},
			PreferredChannels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		},
		{
			ID: "u-anm-1", Name: "Lakshmi", Role: "anm", Active: true,
			Phone:             "+914444444444",
			Location:          directory.Location{Village: "Rampur", Block: "Hanskhali", District: "Nadia"},
			PreferredChannels: []domain.Channel{domain.ChannelChat},
			Attributes:        map[string]string{"vaccinator": "true"},
		},
	})
}

func TestResolveRolesSkipsInactiveUsers(t *testing.T) {
	t.Parallel()

	res := New(testDirectory())
	spec := domain.TargetingSpec{Kind: domain.TargetingRoles, Roles: []string{"asha"}}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelSMS})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].User.ID != "u-asha-1" {
		t.Fatalf("expected only the active asha, got %+v", got)
	}
}

func TestResolveExplicitSkipsUnknownIDs(t *testing.T) {
	t.Parallel()

	res := New(testDirectory())
	spec := domain.TargetingSpec{
		Kind:    domain.TargetingExplicit,
		UserIDs: []string{"u-off-1", "u-ghost", "u-off-1"},
	}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelEmail})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].User.ID != "u-off-1" {
		t.Fatalf("expected deduplicated known user, got %+v", got)
	}
}

func TestResolveGeographicWithRoleFilter(t *testing.T) {
	t.Parallel()

	res := New(testDirectory())
	spec := domain.TargetingSpec{
		Kind:       domain.TargetingGeographic,
		Scope:      domain.GeoScope{Village: "Rampur"},
		ScopeRoles: []string{"anm"},
	}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelChat})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].User.ID != "u-anm-1" {
		t.Fatalf("expected the village anm, got %+v", got)
	}
}

func TestResolveCustomPredicates(t *testing.T) {
	t.Parallel()

	res := New(testDirectory())
	spec := domain.TargetingSpec{
		Kind:       domain.TargetingCustom,
		Predicates: []domain.Predicate{{Attribute: "vaccinator", Value: "true"}},
	}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelChat})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].User.ID != "u-anm-1" {
		t.Fatalf("expected attribute match, got %+v", got)
	}
}

func TestChannelAssignmentIntersectsPreference(t *testing.T) {
	t.Parallel()

	res := New(testDirectory())
	spec := domain.TargetingSpec{Kind: domain.TargetingExplicit, UserIDs: []string{"u-off-1"}}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelSMS, domain.ChannelEmail})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("recipient count: %d", len(got))
	}
	if len(got[0].Channels) != 2 || got[0].UnpreferredOverride {
		t.Fatalf("expected both preferred channels without override, got %+v", got[0])
	}
}

func TestChannelAssignmentFallsBackWithOverrideFlag(t *testing.T) {
	t.Parallel()

	// u-anm-1 prefers chat only; request carries sms and email.
	res := New(testDirectory())
	spec := domain.TargetingSpec{Kind: domain.TargetingExplicit, UserIDs: []string{"u-anm-1"}}
	got, err := res.Resolve(context.Background(), spec, []domain.Channel{domain.ChannelSMS, domain.ChannelEmail})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("recipient count: %d", len(got))
	}
	recipient := got[0]
	if !recipient.UnpreferredOverride {
		t.Fatal("override flag not set")
	}
	if len(recipient.Channels) != 1 || recipient.Channels[0] != domain.ChannelSMS {
		t.Fatalf("expected fallback to first requested channel, got %+v", recipient.Channels)
	}
}

func TestUnionPreservesExistingStateAndReturnsDelta(t *testing.T) {
	t.Parallel()

	existing := []domain.RecipientEntry{{UserID: "u-1", Acknowledged: true}}
	next := []domain.RecipientEntry{{UserID: "u-1"}, {UserID: "u-2"}}

	merged, delta := Union(existing, next)
	if len(merged) != 2 {
		t.Fatalf("merged length: %d", len(merged))
	}
	if !merged[0].Acknowledged {
		t.Fatal("existing acknowledgment state lost in union")
	}
	if len(delta) != 1 || delta[0].UserID != "u-2" {
		t.Fatalf("delta should contain only the new recipient, got %+v", delta)
	}

	again, emptyDelta := Union(merged, next)
	if len(again) != 2 || len(emptyDelta) != 0 {
		t.Fatal("repeated union should be idempotent")
	}
}
