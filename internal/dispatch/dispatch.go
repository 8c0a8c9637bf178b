package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"healthalert/internal/channel"
	"healthalert/internal/clock"
	"healthalert/internal/config"
	"healthalert/internal/directory"
	"healthalert/internal/domain"
	"healthalert/internal/render"
	"healthalert/internal/schedule"
	"healthalert/internal/store"
	"healthalert/internal/tracker"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// UnitStatus classifies one dispatch unit in the report.
// Params: sent/failed/deferred/skipped constants.
// Returns: report accounting key.
type UnitStatus string

const (
	// UnitSent marks a successful send.
	UnitSent UnitStatus = "sent"
	// UnitFailed marks permanent failure or exhausted retries.
	UnitFailed UnitStatus = "failed"
	// UnitDeferred marks a unit queued past quiet hours.
	UnitDeferred UnitStatus = "deferred"
	// UnitSkipped marks a unit not started (cancelled alert, missing user).
	UnitSkipped UnitStatus = "skipped"
)

// UnitResult is one (recipient, channel) unit outcome in the report.
// Params: references, status, and failure detail.
// Returns: report line item.
type UnitResult struct {
	RecipientID string         `json:"recipient_id"`
	Channel     domain.Channel `json:"channel"`
	Status      UnitStatus     `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	RunAt       *time.Time     `json:"run_at,omitempty"`
}

// Report summarizes one dispatch batch.
// Params: per-unit results and aggregate counts.
// Returns: caller-visible dispatch summary.
type Report struct {
	AlertID  string       `json:"alert_id"`
	Units    []UnitResult `json:"units"`
	Sent     int          `json:"sent"`
	Failed   int          `json:"failed"`
	Deferred int          `json:"deferred"`
	Skipped  int          `json:"skipped"`
}

// Dispatcher fans alert deliveries out across adapters with bounded parallelism.
// Params: adapters, renderer, tracker, store, scheduler inputs, and limits.
// Returns: concurrent failure-isolated delivery orchestration.
type Dispatcher struct {
	cfg      config.DispatchConfig
	adapters map[domain.Channel]channel.Adapter
	limiters map[domain.Channel]*rate.Limiter
	renderer *render.Renderer
	tracker  *tracker.Tracker
	store    store.Store
	dir      directory.Directory
	deferred Queue
	logger   *slog.Logger
	clock    clock.Clock
}

// NewDispatcher builds dispatcher from adapters and runtime policy.
// Params: dispatch config, adapter list, renderer, tracker, store, directory,
// deferred queue (nil disables deferral and sends late units immediately),
// logger, and clock.
// Returns: initialized dispatcher.
func NewDispatcher(
	cfg config.DispatchConfig,
	adapters []channel.Adapter,
	renderer *render.Renderer,
	trk *tracker.Tracker,
	backend store.Store,
	dir directory.Directory,
	deferred Queue,
	logger *slog.Logger,
	clk clock.Clock,
) *Dispatcher {
	byChannel := make(map[domain.Channel]channel.Adapter, len(adapters))
	limiters := make(map[domain.Channel]*rate.Limiter, len(adapters))
	for _, adapter := range adapters {
		byChannel[adapter.Channel()] = adapter
		limit := cfg.Rate[string(adapter.Channel())]
		if limit.PerSecond <= 0 {
			limit.PerSecond = 1
		}
		if limit.Burst <= 0 {
			limit.Burst = 1
		}
		limiters[adapter.Channel()] = rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst)
	}
	return &Dispatcher{
		cfg:      cfg,
		adapters: byChannel,
		limiters: limiters,
		renderer: renderer,
		tracker:  trk,
		store:    backend,
		dir:      dir,
		deferred: deferred,
		logger:   logger,
		clock:    clk,
	}
}

// SetDeferred installs the deferred queue after construction. The
// queue's handler needs the dispatcher, so the two are wired in stages.
// Params: queue implementation, nil to disable deferral.
// Returns: none.
func (d *Dispatcher) SetDeferred(queue Queue) {
	d.deferred = queue
}

// BuildKey creates the idempotency key for one dispatch unit.
// Params: alert id, recipient id, and channel.
// Returns: stable "(alertId,recipientId,channel)" key string.
func BuildKey(alertID, recipientID string, ch domain.Channel) string {
	return alertID + "/" + recipientID + "/" + string(ch)
}

// Dispatch fans one alert out to the given recipient entries.
// Params: context, alert snapshot, and target entries (full set on
// creation, delta on escalation).
// Returns: dispatch report; unit failures are isolated and never abort
// the batch, so the error is reserved for report-level breakage.
func (d *Dispatcher) Dispatch(ctx context.Context, alert domain.Alert, recipients []domain.RecipientEntry) (Report, error) {
	report := Report{AlertID: alert.ID}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)

	for _, entry := range recipients {
		for _, ch := range entry.Channels {
			recipientID := entry.UserID
			unitChannel := ch
			group.Go(func() error {
				result := d.runUnit(groupCtx, alert.ID, recipientID, unitChannel)
				mu.Lock()
				report.Units = append(report.Units, result)
				switch result.Status {
				case UnitSent:
					report.Sent++
				case UnitFailed:
					report.Failed++
				case UnitDeferred:
					report.Deferred++
				case UnitSkipped:
					report.Skipped++
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// runUnit executes one (recipient, channel) unit end to end.
// Params: context, alert id, recipient id, and channel.
// Returns: unit result; every terminal outcome is reported to the tracker
// before returning.
func (d *Dispatcher) runUnit(ctx context.Context, alertID, recipientID string, ch domain.Channel) UnitResult {
	result := UnitResult{RecipientID: recipientID, Channel: ch}

	// Cancellation check happens against fresh state before the unit
	// starts; units already in flight complete and are recorded.
	alert, _, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		result.Status = UnitSkipped
		result.Reason = err.Error()
		return result
	}
	if alert.Status.Terminal() {
		result.Status = UnitSkipped
		result.Reason = "alert is " + string(alert.Status)
		return result
	}

	user, err := d.dir.UserByID(ctx, recipientID)
	if err != nil {
		result.Status = UnitFailed
		result.Reason = "directory lookup: " + err.Error()
		d.reportOutcome(ctx, alertID, recipientID, ch, domain.SendOutcome{
			Status: domain.OutcomeFailed,
			Reason: result.Reason,
			At:     d.clock.Now(),
		})
		return result
	}

	now := d.clock.Now()
	runAt := schedule.DeliveryTime(user.Quiet, alert.Priority, now)
	if runAt.After(now) && d.deferred != nil {
		job := Job{
			ID:          BuildKey(alertID, recipientID, ch),
			AlertID:     alertID,
			RecipientID: recipientID,
			Channel:     ch,
			RunAt:       runAt,
		}
		if err := d.deferred.Enqueue(ctx, job); err != nil {
			d.logger.Error("deferred enqueue failed, sending immediately",
				"alert_id", alertID, "user", recipientID, "channel", ch, "error", err.Error())
		} else {
			result.Status = UnitDeferred
			result.RunAt = &runAt
			return result
		}
	}

	outcome, sendErr := d.send(ctx, alert, user, ch)
	d.reportOutcome(ctx, alertID, recipientID, ch, outcome)
	if sendErr != nil {
		result.Status = UnitFailed
		result.Reason = outcome.Reason
		return result
	}
	result.Status = UnitSent
	return result
}

// send renders, throttles, and delivers one unit with bounded retries.
// Params: context, alert snapshot, recipient user, and channel.
// Returns: terminal outcome plus the final error for failed units.
func (d *Dispatcher) send(ctx context.Context, alert domain.Alert, user directory.User, ch domain.Channel) (domain.SendOutcome, error) {
	adapter, ok := d.adapters[ch]
	if !ok {
		reason := fmt.Sprintf("channel %q is not configured", ch)
		return domain.SendOutcome{Status: domain.OutcomeFailed, Reason: reason, At: d.clock.Now()}, errors.New(reason)
	}

	rendered, err := d.renderer.Render(alert.Type, ch, alert, render.RecipientContext{
		Name:     user.Name,
		Role:     user.Role,
		Location: user.Location.Village,
	})
	if err != nil {
		return domain.SendOutcome{Status: domain.OutcomeFailed, Reason: err.Error(), At: d.clock.Now()}, err
	}

	delivery := channel.Delivery{
		Key:         BuildKey(alert.ID, user.ID, ch),
		AlertID:     alert.ID,
		RecipientID: user.ID,
		Channel:     ch,
		Address:     user.Address(ch),
		Content:     rendered,
	}

	if limiter := d.limiters[ch]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return domain.SendOutcome{Status: domain.OutcomeFailed, Reason: err.Error(), At: d.clock.Now()}, err
		}
	}

	var (
		sent     channel.SendResult
		attempts int
	)
	operation := func() error {
		attempts++
		result, err := adapter.Send(ctx, delivery)
		if err != nil {
			if channel.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			d.logger.Warn("send attempt failed",
				"alert_id", alert.ID, "user", user.ID, "channel", ch,
				"attempt", attempts, "error", err.Error())
			return err
		}
		sent = result
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(d.cfg.Retry.InitialMS) * time.Millisecond
	policy.MaxInterval = time.Duration(d.cfg.Retry.MaxMS) * time.Millisecond
	policy.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if d.cfg.Retry.MaxAttempts > 1 {
		maxRetries = uint64(d.cfg.Retry.MaxAttempts - 1)
	}
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
	if err != nil {
		return domain.SendOutcome{
			Status:   domain.OutcomeFailed,
			Reason:   err.Error(),
			Attempts: attempts,
			At:       d.clock.Now(),
		}, err
	}
	return domain.SendOutcome{
		Status:     domain.OutcomeSent,
		ExternalID: sent.ExternalID,
		Attempts:   attempts,
		At:         d.clock.Now(),
	}, nil
}

// reportOutcome forwards one terminal outcome to the tracker.
// Params: unit references and outcome record.
// Returns: none; tracker errors are logged, not propagated, to keep
// units failure-isolated.
func (d *Dispatcher) reportOutcome(ctx context.Context, alertID, recipientID string, ch domain.Channel, outcome domain.SendOutcome) {
	if err := d.tracker.RecordOutcome(ctx, alertID, recipientID, ch, outcome); err != nil {
		d.logger.Error("record outcome failed",
			"alert_id", alertID, "user", recipientID, "channel", ch, "error", err.Error())
	}
}

// RunDeferred executes one due deferred job.
// Params: context and dequeued job.
// Returns: processing error for queue redelivery handling.
func (d *Dispatcher) RunDeferred(ctx context.Context, job Job) error {
	result := d.runUnit(ctx, job.AlertID, job.RecipientID, job.Channel)
	if result.Status == UnitFailed {
		return errors.New(result.Reason)
	}
	return nil
}
