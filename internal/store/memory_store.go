package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"healthalert/internal/domain"
)

// MemoryStore keeps alerts in process memory for single-instance mode.
// Params: in-memory alert map and sequence counter.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	alerts map[string]memoryAlert
}

type memoryAlert struct {
	alert    domain.Alert
	revision uint64
}

// NewMemoryStore creates in-memory alert store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]memoryAlert)}
}

// NextAlertID allocates the next sequential human-readable id.
// Params: context (unused for in-memory backend).
// Returns: id in HA-NNNNNN form.
func (s *MemoryStore) NextAlertID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("HA-%06d", s.seq), nil
}

// GetAlert returns alert payload and revision.
// Params: alert id key.
// Returns: deep-ish copy of stored alert, revision, or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return cloneAlert(entry.alert), entry.revision, nil
}

// PutAlert writes alert payload unconditionally.
// Params: alert id key and alert payload.
// Returns: new revision.
func (s *MemoryStore) PutAlert(_ context.Context, alertID string, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.alerts[alertID].revision + 1
	s.alerts[alertID] = memoryAlert{alert: cloneAlert(alert), revision: rev}
	return rev, nil
}

// UpdateAlert updates alert payload using expected revision CAS.
// Params: alert id key, expected revision, and replacement payload.
// Returns: new revision or ErrConflict.
func (s *MemoryStore) UpdateAlert(_ context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.alerts[alertID] = memoryAlert{alert: cloneAlert(alert), revision: rev}
	return rev, nil
}

// ListAlerts returns all stored alerts ordered by id.
// Params: context (unused for in-memory backend).
// Returns: alert snapshot list.
func (s *MemoryStore) ListAlerts(_ context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.alerts))
	for id := range s.alerts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Alert, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAlert(s.alerts[id].alert))
	}
	return out, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

// cloneAlert copies mutable reference fields so callers cannot alias store state.
// Params: source alert.
// Returns: detached copy.
func cloneAlert(alert domain.Alert) domain.Alert {
	out := alert
	if alert.Metadata != nil {
		out.Metadata = make(map[string]string, len(alert.Metadata))
		for k, v := range alert.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Channels = append([]domain.Channel(nil), alert.Channels...)
	out.StatusHistory = append([]domain.StatusChange(nil), alert.StatusHistory...)
	out.EscalationHistory = append([]domain.EscalationRecord(nil), alert.EscalationHistory...)
	if alert.Recipients != nil {
		out.Recipients = make([]domain.RecipientEntry, len(alert.Recipients))
		for i, entry := range alert.Recipients {
			copied := entry
			copied.Channels = append([]domain.Channel(nil), entry.Channels...)
			copied.AckActions = append([]string(nil), entry.AckActions...)
			if entry.States != nil {
				copied.States = make(map[domain.Channel]domain.ChannelState, len(entry.States))
				for channel, state := range entry.States {
					copied.States[channel] = state
				}
			}
			out.Recipients[i] = copied
		}
	}
	return out
}
