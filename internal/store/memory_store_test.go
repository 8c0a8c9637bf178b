package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"healthalert/internal/domain"
)

func TestNextAlertIDIsSequential(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	first, err := store.NextAlertID(context.Background())
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	second, err := store.NextAlertID(context.Background())
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if first != "HA-000001" || second != "HA-000002" {
		t.Fatalf("ids: %s, %s", first, second)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, _, err := store.GetAlert(context.Background(), "HA-000099"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAlertRejectsStaleRevision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	alert := domain.Alert{ID: "HA-000001", Title: "one"}
	rev, err := store.PutAlert(ctx, alert.ID, alert)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	alert.Title = "two"
	if _, err := store.UpdateAlert(ctx, alert.ID, rev, alert); err != nil {
		t.Fatalf("update: %v", err)
	}
	alert.Title = "three"
	if _, err := store.UpdateAlert(ctx, alert.ID, rev, alert); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetAlertReturnsDetachedCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	alert := domain.Alert{
		ID:         "HA-000001",
		Metadata:   map[string]string{"location": "Rampur"},
		Recipients: []domain.RecipientEntry{{UserID: "u-1", Channels: []domain.Channel{domain.ChannelSMS}}},
	}
	if _, err := store.PutAlert(ctx, alert.ID, alert); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, _, err := store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loaded.Metadata["location"] = "elsewhere"
	loaded.Recipients[0].Acknowledged = true

	reloaded, _, err := store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Metadata["location"] != "Rampur" || reloaded.Recipients[0].Acknowledged {
		t.Fatal("store state aliased by returned copy")
	}
}

func TestMutateAppliesUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	alert := domain.Alert{ID: "HA-000001", Recipients: []domain.RecipientEntry{
		{UserID: "u-1"}, {UserID: "u-2"}, {UserID: "u-3"}, {UserID: "u-4"},
	}}
	if _, err := store.PutAlert(ctx, alert.ID, alert); err != nil {
		t.Fatalf("put: %v", err)
	}

	var wg sync.WaitGroup
	for _, userID := range []string{"u-1", "u-2", "u-3", "u-4"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := Mutate(ctx, store, alert.ID, func(a *domain.Alert) error {
				entry := a.FindRecipient(userID)
				entry.Acknowledged = true
				a.RecomputeCounters()
				return nil
			})
			if err != nil {
				t.Errorf("mutate %s: %v", userID, err)
			}
		}(userID)
	}
	wg.Wait()

	final, _, err := store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Counters.Acknowledged != 4 {
		t.Fatalf("concurrent mutations lost updates: %+v", final.Counters)
	}
}

func TestMutateSurfacesCallbackError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.PutAlert(ctx, "HA-000001", domain.Alert{ID: "HA-000001"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	boom := errors.New("boom")
	if _, err := Mutate(ctx, store, "HA-000001", func(*domain.Alert) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("callback error not surfaced: %v", err)
	}
}
