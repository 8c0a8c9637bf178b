package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"healthalert/internal/clock"
	"healthalert/internal/dispatch"
	"healthalert/internal/domain"
	"healthalert/internal/resolver"
	"healthalert/internal/store"
)

// Actor identifies who performs a registry operation.
// Params: user id and role from the request context.
// Returns: audit and authorization subject.
type Actor struct {
	ID   string
	Role string
}

// Registry owns the alert lifecycle from creation through terminal states.
// Params: store, resolver, dispatcher, clock, and logger.
// Returns: lifecycle operations with capability checks at the boundary.
type Registry struct {
	store      store.Store
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
}

// New builds the registry.
// Params: store backend, recipient resolver, dispatcher, clock, logger.
// Returns: initialized registry.
func New(backend store.Store, res *resolver.Resolver, disp *dispatch.Dispatcher, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{store: backend, resolver: res, dispatcher: disp, clock: clk, logger: logger}
}

// Create validates one request, persists the alert, and dispatches it
// when immediately active. Alerts scheduled for the future stay draft
// with no recipients until the promotion sweep.
// Params: context, decoded request, and acting user.
// Returns: stored alert or validation/authorization error.
func (r *Registry) Create(ctx context.Context, req domain.AlertRequest, actor Actor) (domain.Alert, error) {
	if err := Require(actor.Role, CapCreate); err != nil {
		return domain.Alert{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.Alert{}, err
	}

	id, err := r.store.NextAlertID(ctx)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("assign alert id: %w", err)
	}

	now := r.clock.Now()
	alert := domain.Alert{
		ID:             id,
		Type:           req.Type,
		Severity:       req.Severity,
		Priority:       req.EffectivePriority(),
		PriorityReason: req.PriorityReason,
		Title:          req.Title,
		Message:        req.Message,
		Metadata:       req.Metadata,
		Targeting:      req.Targeting,
		Channels:       req.Channels,
		RequiresAck:    req.RequiresAck,
		ExpiresAt:      req.ExpiresAt,
		ScheduledFor:   req.ScheduledFor,
		Status:         domain.StatusDraft,
		CreatedBy:      actor.ID,
		SourceEntity:   req.SourceEntity,
		CreatedAt:      now,
	}
	alert.AppendStatus(domain.StatusDraft, actor.ID, "created", now)

	scheduled := req.ScheduledFor != nil && req.ScheduledFor.After(now)
	if scheduled {
		if _, err := r.store.PutAlert(ctx, alert.ID, alert); err != nil {
			return domain.Alert{}, err
		}
		r.logger.Info("alert scheduled",
			"alert_id", alert.ID, "type", alert.Type, "scheduled_for", req.ScheduledFor.Format(time.RFC3339))
		return alert, nil
	}

	return r.activate(ctx, alert, actor.ID)
}

// activate resolves recipients, moves the freshly created alert to
// active, stores it, and dispatches. The alert id is newly allocated so
// this first write cannot race another writer; promoted drafts go
// through promoteOne instead.
func (r *Registry) activate(ctx context.Context, alert domain.Alert, actor string) (domain.Alert, error) {
	recipients, err := r.resolver.Resolve(ctx, alert.Targeting, alert.Channels)
	if err != nil {
		return domain.Alert{}, err
	}

	now := r.clock.Now()
	alert.Recipients = resolver.Entries(recipients)
	alert.AppendStatus(domain.StatusActive, actor, "activated", now)
	alert.RecomputeCounters()

	if _, err := r.store.PutAlert(ctx, alert.ID, alert); err != nil {
		return domain.Alert{}, err
	}
	r.logger.Info("alert activated",
		"alert_id", alert.ID, "type", alert.Type, "priority", alert.Priority,
		"recipients", len(alert.Recipients))

	return r.dispatchActivated(ctx, alert)
}

// dispatchActivated sends to the activated alert's recipients and
// returns the freshest stored state.
func (r *Registry) dispatchActivated(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	report, err := r.dispatcher.Dispatch(ctx, alert, alert.Recipients)
	if err != nil {
		r.logger.Error("dispatch failed", "alert_id", alert.ID, "error", err.Error())
	} else {
		r.logger.Info("dispatch finished",
			"alert_id", alert.ID, "sent", report.Sent, "failed", report.Failed,
			"deferred", report.Deferred, "skipped", report.Skipped)
	}

	stored, _, err := r.store.GetAlert(ctx, alert.ID)
	if err != nil {
		return alert, nil
	}
	return stored, nil
}

// Get loads one alert with counters freshly recomputed.
// Params: context, alert id, and acting user.
// Returns: alert or store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string, actor Actor) (domain.Alert, error) {
	if err := Require(actor.Role, CapRead); err != nil {
		return domain.Alert{}, err
	}
	alert, _, err := r.store.GetAlert(ctx, id)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.RecomputeCounters()
	return alert, nil
}

// Filter narrows List results. Zero-valued fields match everything.
// Params: optional type/status/severity/recipient/date-range/ack filters.
// Returns: list predicate.
type Filter struct {
	Type         domain.AlertType
	Status       domain.Status
	Severity     domain.Severity
	RecipientID  string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Acknowledged *bool
}

func (f Filter) matches(alert domain.Alert) bool {
	if f.Type != "" && alert.Type != f.Type {
		return false
	}
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	if f.Severity != "" && alert.Severity != f.Severity {
		return false
	}
	if f.RecipientID != "" && alert.FindRecipient(f.RecipientID) == nil {
		return false
	}
	if f.CreatedFrom != nil && alert.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && alert.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Acknowledged != nil {
		anyAck := alert.Counters.Acknowledged > 0
		if anyAck != *f.Acknowledged {
			return false
		}
	}
	return true
}

// Page bounds one List result window.
// Params: offset into the filtered set and maximum item count.
// Returns: pagination settings; Limit <= 0 means no cap.
type Page struct {
	Offset int
	Limit  int
}

// List returns alerts matching the filter, newest first, paginated.
// Params: context, filter, page window, and acting user.
// Returns: page of alerts plus the total filtered count.
func (r *Registry) List(ctx context.Context, filter Filter, page Page, actor Actor) ([]domain.Alert, int, error) {
	if err := Require(actor.Role, CapRead); err != nil {
		return nil, 0, err
	}
	all, err := r.store.ListAlerts(ctx)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]domain.Alert, 0, len(all))
	for _, alert := range all {
		if filter.matches(alert) {
			alert.RecomputeCounters()
			matched = append(matched, alert)
		}
	}
	sortNewestFirst(matched)

	total := len(matched)
	if page.Offset > total {
		return []domain.Alert{}, total, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, total, nil
}

func sortNewestFirst(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}

// Transition moves one alert through its lifecycle.
// Params: context, alert id, next status, acting user, and reason.
// Returns: updated alert; domain.ErrInvalidTransition when the move is
// not in the lifecycle table or the alert is already terminal.
func (r *Registry) Transition(ctx context.Context, id string, next domain.Status, actor Actor, reason string) (domain.Alert, error) {
	if err := Require(actor.Role, CapTransition); err != nil {
		return domain.Alert{}, err
	}
	now := r.clock.Now()
	return store.Mutate(ctx, r.store, id, func(alert *domain.Alert) error {
		if !alert.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, alert.Status, next)
		}
		alert.AppendStatus(next, actor.ID, reason, now)
		return nil
	})
}

// ActiveForUser returns unexpired active or escalated alerts that
// target the acting user, newest first.
// Params: context and acting user.
// Returns: matching alerts with counters recomputed.
func (r *Registry) ActiveForUser(ctx context.Context, actor Actor) ([]domain.Alert, error) {
	if err := Require(actor.Role, CapRead); err != nil {
		return nil, err
	}
	all, err := r.store.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	matched := make([]domain.Alert, 0)
	for _, alert := range all {
		if alert.Status != domain.StatusActive && alert.Status != domain.StatusEscalated {
			continue
		}
		if alert.ExpiredAt(now) {
			continue
		}
		if alert.FindRecipient(actor.ID) == nil {
			continue
		}
		alert.RecomputeCounters()
		matched = append(matched, alert)
	}
	sortNewestFirst(matched)
	return matched, nil
}

// BulkPolicy controls multi-alert creation.
// Params: delay between items and stop-on-first-failure switch.
// Returns: bulk creation settings.
type BulkPolicy struct {
	InterItemDelay time.Duration
	StopOnFailure  bool
}

// BulkItem is one per-request result in a bulk report.
// Params: input index, created alert id, and failure text.
// Returns: bulk accounting line.
type BulkItem struct {
	Index   int    `json:"index"`
	AlertID string `json:"alert_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BulkReport summarizes one bulk creation run.
// Params: per-item results and aggregate counts.
// Returns: caller-visible bulk summary.
type BulkReport struct {
	Items   []BulkItem `json:"items"`
	Created int        `json:"created"`
	Failed  int        `json:"failed"`
	Stopped bool       `json:"stopped"`
}

// BulkCreate creates alerts one by one with per-item accounting. A
// failure never poisons earlier successes; later items are skipped only
// when the policy says to stop.
// Params: context, requests, policy, and acting user.
// Returns: bulk report; the error is reserved for authorization and
// context cancellation.
func (r *Registry) BulkCreate(ctx context.Context, reqs []domain.AlertRequest, policy BulkPolicy, actor Actor) (BulkReport, error) {
	if err := Require(actor.Role, CapCreate); err != nil {
		return BulkReport{}, err
	}
	report := BulkReport{Items: make([]BulkItem, 0, len(reqs))}
	for i, req := range reqs {
		if i > 0 && policy.InterItemDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(policy.InterItemDelay):
			}
		}
		alert, err := r.Create(ctx, req, actor)
		if err != nil {
			report.Items = append(report.Items, BulkItem{Index: i, Error: err.Error()})
			report.Failed++
			if policy.StopOnFailure {
				report.Stopped = true
				break
			}
			continue
		}
		report.Items = append(report.Items, BulkItem{Index: i, AlertID: alert.ID})
		report.Created++
	}
	return report, nil
}

// errPromotionSkipped aborts a promotion whose draft was transitioned
// between the sweep snapshot and the write.
var errPromotionSkipped = errors.New("alert no longer a due draft")

// PromoteScheduled activates draft alerts whose scheduled time has come.
// Params: context and current time.
// Returns: number of promoted alerts.
func (r *Registry) PromoteScheduled(ctx context.Context, now time.Time) (int, error) {
	all, err := r.store.ListAlerts(ctx)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, alert := range all {
		if alert.Status != domain.StatusDraft || !alert.DueAt(now) {
			continue
		}
		if err := r.promoteOne(ctx, alert.ID, now); err != nil {
			if !errors.Is(err, errPromotionSkipped) {
				r.logger.Error("scheduled promotion failed", "alert_id", alert.ID, "error", err.Error())
			}
			continue
		}
		promoted++
	}
	return promoted, nil
}

// promoteOne activates one due draft under the store's revision check.
// The draft state is re-read inside the mutation so a transition that
// landed after the sweep snapshot, such as a cancellation, wins and the
// promotion is skipped. Dispatch happens only after the write commits.
func (r *Registry) promoteOne(ctx context.Context, id string, now time.Time) error {
	alert, err := store.Mutate(ctx, r.store, id, func(a *domain.Alert) error {
		if a.Status != domain.StatusDraft || !a.DueAt(now) {
			return errPromotionSkipped
		}
		recipients, err := r.resolver.Resolve(ctx, a.Targeting, a.Channels)
		if err != nil {
			return err
		}
		a.Recipients = resolver.Entries(recipients)
		a.AppendStatus(domain.StatusActive, "scheduler", "activated", now)
		a.RecomputeCounters()
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("alert activated",
		"alert_id", alert.ID, "type", alert.Type, "priority", alert.Priority,
		"recipients", len(alert.Recipients))

	_, err = r.dispatchActivated(ctx, alert)
	return err
}

// ExpireOverdue expires acknowledgment-requiring alerts past their
// expiry with no acknowledgments at all.
// Params: context and current time.
// Returns: number of expired alerts.
func (r *Registry) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	all, err := r.store.ListAlerts(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, alert := range all {
		if alert.Status.Terminal() || !alert.RequiresAck || !alert.ExpiredAt(now) {
			continue
		}
		if alert.Counters.Acknowledged > 0 {
			continue
		}
		_, err := store.Mutate(ctx, r.store, alert.ID, func(a *domain.Alert) error {
			if a.Status.Terminal() || a.Counters.Acknowledged > 0 {
				return nil
			}
			a.AppendStatus(domain.StatusExpired, "scheduler", "expiry passed with no acknowledgments", now)
			return nil
		})
		if err != nil {
			r.logger.Error("expiry sweep failed", "alert_id", alert.ID, "error", err.Error())
			continue
		}
		expired++
	}
	return expired, nil
}
