package store

import (
	"context"
	"errors"
	"fmt"

	"healthalert/internal/domain"
)

var (
	// ErrNotFound indicates absent alert id.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// mutateMaxRetries bounds CAS retry loops under write contention.
const mutateMaxRetries = 16

// Store provides alert persistence operations.
// Params: CRUD with revision CAS plus sequential id allocation.
// Returns: backend persistence behavior.
type Store interface {
	NextAlertID(ctx context.Context) (string, error)
	GetAlert(ctx context.Context, alertID string) (domain.Alert, uint64, error)
	PutAlert(ctx context.Context, alertID string, alert domain.Alert) (uint64, error)
	UpdateAlert(ctx context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error)
	ListAlerts(ctx context.Context) ([]domain.Alert, error)
	Close() error
}

// Mutate applies fn to one alert under a revision CAS retry loop.
// Params: store backend, alert id, and mutation callback; fn sees the
// freshest snapshot on every retry, so concurrent writers recompute
// aggregates from entries instead of racing blind increments.
// Returns: updated alert or first non-conflict error.
func Mutate(ctx context.Context, backend Store, alertID string, fn func(*domain.Alert) error) (domain.Alert, error) {
	for attempt := 0; attempt < mutateMaxRetries; attempt++ {
		alert, revision, err := backend.GetAlert(ctx, alertID)
		if err != nil {
			return domain.Alert{}, err
		}
		if err := fn(&alert); err != nil {
			return domain.Alert{}, err
		}
		if _, err := backend.UpdateAlert(ctx, alertID, revision, alert); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return domain.Alert{}, err
		}
		return alert, nil
	}
	return domain.Alert{}, fmt.Errorf("alert %s: %w after %d attempts", alertID, ErrConflict, mutateMaxRetries)
}
