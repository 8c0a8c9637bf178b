package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"healthalert/internal/config"
	"healthalert/internal/domain"

	"github.com/nats-io/nats.go"
)

const sequenceKey = "alert_counter"

// NATSStore persists alerts in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles.
// Returns: KV-backed alert store implementation.
type NATSStore struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	alertKV nats.KeyValue
	seqKV   nats.KeyValue
}

// NewNATSStore creates KV buckets and returns NATS alert backend.
// Params: store settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.StoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	alertKV, err := openBucket(js, settings.AlertBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	seqKV, err := openBucket(js, settings.SequenceBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{nc: nc, js: js, alertKV: alertKV, seqKV: seqKV}, nil
}

// openBucket opens or optionally creates one KV bucket.
// Params: JetStream context, bucket name, and create permission.
// Returns: bucket handle or setup error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// NextAlertID allocates the next sequential id via counter-key CAS.
// Params: context for cancellation between retries.
// Returns: id in HA-NNNNNN form.
func (s *NATSStore) NextAlertID(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		entry, err := s.seqKV.Get(sequenceKey)
		if err != nil {
			if !errors.Is(err, nats.ErrKeyNotFound) {
				return "", fmt.Errorf("get sequence: %w", err)
			}
			if _, err := s.seqKV.Create(sequenceKey, []byte("1")); err != nil {
				if isRevisionConflict(err) {
					continue
				}
				return "", fmt.Errorf("create sequence: %w", err)
			}
			return "HA-000001", nil
		}

		current, err := strconv.ParseUint(string(entry.Value()), 10, 64)
		if err != nil {
			return "", fmt.Errorf("decode sequence: %w", err)
		}
		next := current + 1
		if _, err := s.seqKV.Update(sequenceKey, []byte(strconv.FormatUint(next, 10)), entry.Revision()); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return "", fmt.Errorf("update sequence: %w", err)
		}
		return fmt.Sprintf("HA-%06d", next), nil
	}
}

// GetAlert reads one alert and its KV revision.
// Params: alert id key.
// Returns: alert payload, revision, or ErrNotFound.
func (s *NATSStore) GetAlert(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	entry, err := s.alertKV.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// PutAlert writes alert payload unconditionally.
// Params: alert id key and alert payload.
// Returns: new KV revision.
func (s *NATSStore) PutAlert(_ context.Context, alertID string, alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Put(alertID, body)
	if err != nil {
		return 0, fmt.Errorf("put alert: %w", err)
	}
	return rev, nil
}

// UpdateAlert updates alert payload using expected revision CAS.
// Params: alert id key, expected revision, and replacement payload.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) UpdateAlert(_ context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Update(alertID, body, expectedRevision)
	if err != nil {
		if isRevisionConflict(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alert: %w", err)
	}
	return rev, nil
}

// ListAlerts reads all alerts from the bucket.
// Params: context passed for interface symmetry.
// Returns: alert list or read error.
func (s *NATSStore) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]domain.Alert, 0, len(keys))
	for _, key := range keys {
		alert, _, err := s.GetAlert(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, alert)
	}
	return out, nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// isRevisionConflict classifies KV CAS failures across server versions.
// Params: KV operation error.
// Returns: true for wrong-revision style failures.
func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}
