package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"healthalert/internal/clock"
	"healthalert/internal/config"
	"healthalert/internal/dispatch"
	"healthalert/internal/domain"
	"healthalert/internal/registry"
	"healthalert/internal/resolver"
	"healthalert/internal/store"
)

// Engine widens alert audiences when acknowledgment stalls or an
// authorized actor demands it. Prior delivery and acknowledgment state
// is never discarded; escalation only adds recipients.
// Params: store, resolver, dispatcher, escalation policy, clock, logger.
// Returns: manual and automatic escalation operations.
type Engine struct {
	store      store.Store
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	cfg        config.EscalationConfig
	clock      clock.Clock
	logger     *slog.Logger
}

// New builds the escalation engine.
// Params: store backend, resolver, dispatcher, policy config, clock, logger.
// Returns: initialized engine.
func New(backend store.Store, res *resolver.Resolver, disp *dispatch.Dispatcher, cfg config.EscalationConfig, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{store: backend, resolver: res, dispatcher: disp, cfg: cfg, clock: clk, logger: logger}
}

// Escalate widens one alert to a new targeting specification.
// The new set is resolved before any state changes, so an invalid or
// empty specification leaves the alert untouched. Only the delta of
// newly added recipients is dispatched.
// Params: context, alert id, new targeting, acting user, reason, and
// whether to raise priority one level.
// Returns: updated alert; domain.ErrInvalidEscalation when the new set
// resolves to nobody.
func (e *Engine) Escalate(ctx context.Context, id string, targeting domain.TargetingSpec, actor registry.Actor, reason string, raisePriority bool) (domain.Alert, error) {
	if err := registry.Require(actor.Role, registry.CapEscalate); err != nil {
		return domain.Alert{}, err
	}

	current, _, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return domain.Alert{}, err
	}
	if current.Status.Terminal() || current.Status == domain.StatusDraft {
		return domain.Alert{}, fmt.Errorf("%w: alert is %s", domain.ErrInvalidEscalation, current.Status)
	}

	resolved, err := e.resolver.Resolve(ctx, targeting, current.Channels)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", domain.ErrInvalidEscalation, err)
	}
	if len(resolved) == 0 {
		return domain.Alert{}, fmt.Errorf("%w: targeting resolved to no recipients", domain.ErrInvalidEscalation)
	}

	now := e.clock.Now()
	var delta []domain.RecipientEntry
	alert, err := store.Mutate(ctx, e.store, id, func(a *domain.Alert) error {
		if a.Status.Terminal() || a.Status == domain.StatusDraft {
			return fmt.Errorf("%w: alert is %s", domain.ErrInvalidEscalation, a.Status)
		}
		merged, added := resolver.Union(a.Recipients, resolver.Entries(resolved))
		a.Recipients = merged
		delta = added
		a.EscalationHistory = append(a.EscalationHistory, domain.EscalationRecord{
			By:        actor.ID,
			To:        targeting.Describe(),
			Level:     len(a.EscalationHistory) + 1,
			Reason:    reason,
			Automatic: false,
			At:        now,
		})
		if a.Status == domain.StatusActive {
			a.AppendStatus(domain.StatusEscalated, actor.ID, reason, now)
		}
		if raisePriority {
			a.Priority = a.Priority.Raise()
		}
		a.RecomputeCounters()
		return nil
	})
	if err != nil {
		return domain.Alert{}, err
	}

	e.logger.Info("alert escalated",
		"alert_id", alert.ID, "by", actor.ID, "level", len(alert.EscalationHistory),
		"added", len(delta))
	e.dispatchDelta(ctx, alert, delta)

	updated, _, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return alert, nil
	}
	return updated, nil
}

// Evaluate runs the automatic escalation policy over all alerts.
// An alert escalates when it requires acknowledgment, has none, sits
// past its grace period since activation, and carries at least the
// configured minimum priority. Each pass climbs one hierarchy level.
// Params: context and current time.
// Returns: number of alerts escalated this pass.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) (int, error) {
	if !e.cfg.AutoEnabled {
		return 0, nil
	}
	all, err := e.store.ListAlerts(ctx)
	if err != nil {
		return 0, err
	}

	minPriority := domain.Priority(e.cfg.MinPriority)
	escalated := 0
	for _, alert := range all {
		if !e.due(alert, minPriority, now) {
			continue
		}
		level := automaticLevel(alert)
		if level >= len(e.cfg.Level) {
			continue
		}
		roles := e.cfg.Level[level].Roles
		if err := e.autoEscalate(ctx, alert.ID, roles, level, now); err != nil {
			e.logger.Error("automatic escalation failed", "alert_id", alert.ID, "error", err.Error())
			continue
		}
		escalated++
	}
	return escalated, nil
}

// due reports whether one alert qualifies for automatic escalation.
func (e *Engine) due(alert domain.Alert, minPriority domain.Priority, now time.Time) bool {
	if alert.Status != domain.StatusActive && alert.Status != domain.StatusEscalated {
		return false
	}
	if !alert.RequiresAck || alert.Counters.Acknowledged > 0 {
		return false
	}
	if alert.Priority.Rank() < minPriority.Rank() {
		return false
	}
	return now.Sub(e.referenceTime(alert)) >= e.cfg.GracePeriod()
}

// referenceTime returns the moment the grace period counts from: the
// latest activation, escalation status change, or escalation record,
// falling back to creation time. Escalations past the first leave the
// status untouched, so escalation history must count too or later
// hierarchy levels would fire on the next scan instead of after a full
// grace period.
func (e *Engine) referenceTime(alert domain.Alert) time.Time {
	ref := alert.CreatedAt
	for _, change := range alert.StatusHistory {
		if change.Status == domain.StatusActive || change.Status == domain.StatusEscalated {
			if change.At.After(ref) {
				ref = change.At
			}
		}
	}
	for _, record := range alert.EscalationHistory {
		if record.At.After(ref) {
			ref = record.At
		}
	}
	return ref
}

// automaticLevel counts prior automatic escalations, which indexes the
// next hierarchy level to notify.
func automaticLevel(alert domain.Alert) int {
	count := 0
	for _, record := range alert.EscalationHistory {
		if record.Automatic {
			count++
		}
	}
	return count
}

func (e *Engine) autoEscalate(ctx context.Context, id string, roles []string, level int, now time.Time) error {
	current, _, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	targeting := domain.TargetingSpec{Kind: domain.TargetingRoles, Roles: roles}
	resolved, err := e.resolver.Resolve(ctx, targeting, current.Channels)
	if err != nil {
		return err
	}
	if len(resolved) == 0 {
		return fmt.Errorf("hierarchy level %d resolved to no recipients", level+1)
	}

	var delta []domain.RecipientEntry
	alert, err := store.Mutate(ctx, e.store, id, func(a *domain.Alert) error {
		if a.Status.Terminal() || a.Counters.Acknowledged > 0 {
			return fmt.Errorf("%w: alert no longer qualifies", domain.ErrInvalidEscalation)
		}
		merged, added := resolver.Union(a.Recipients, resolver.Entries(resolved))
		a.Recipients = merged
		delta = added
		a.EscalationHistory = append(a.EscalationHistory, domain.EscalationRecord{
			By:        "escalation-policy",
			To:        targeting.Describe(),
			Level:     len(a.EscalationHistory) + 1,
			Reason:    "no acknowledgment within grace period",
			Automatic: true,
			At:        now,
		})
		if a.Status == domain.StatusActive {
			a.AppendStatus(domain.StatusEscalated, "escalation-policy", "automatic escalation", now)
		}
		a.Priority = a.Priority.Raise()
		a.RecomputeCounters()
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Warn("alert escalated automatically",
		"alert_id", alert.ID, "level", level+1, "roles", roles, "added", len(delta))
	e.dispatchDelta(ctx, alert, delta)
	return nil
}

// dispatchDelta sends only to newly added recipients.
func (e *Engine) dispatchDelta(ctx context.Context, alert domain.Alert, delta []domain.RecipientEntry) {
	if len(delta) == 0 {
		return
	}
	report, err := e.dispatcher.Dispatch(ctx, alert, delta)
	if err != nil {
		e.logger.Error("escalation dispatch failed", "alert_id", alert.ID, "error", err.Error())
		return
	}
	e.logger.Info("escalation dispatch finished",
		"alert_id", alert.ID, "sent", report.Sent, "failed", report.Failed,
		"deferred", report.Deferred, "skipped", report.Skipped)
}
