package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"healthalert/internal/channel"
	"healthalert/internal/config"
	"healthalert/internal/directory"
	"healthalert/internal/domain"
	"healthalert/internal/permanent"
	"healthalert/internal/render"
	"healthalert/internal/store"
	"healthalert/internal/tracker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// scriptedAdapter fails each key a scripted number of times before
// succeeding, or permanently when marked so.
type scriptedAdapter struct {
	ch domain.Channel

	mu        sync.Mutex
	sent      []channel.Delivery
	transient map[string]int
	permKeys  map[string]bool
}

func newScriptedAdapter(ch domain.Channel) *scriptedAdapter {
	return &scriptedAdapter{ch: ch, transient: make(map[string]int), permKeys: make(map[string]bool)}
}

func (a *scriptedAdapter) Channel() domain.Channel { return a.ch }

func (a *scriptedAdapter) Send(_ context.Context, delivery channel.Delivery) (channel.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, delivery)
	if a.permKeys[delivery.Key] {
		return channel.SendResult{}, permanent.Mark(errors.New("invalid destination"))
	}
	if a.transient[delivery.Key] > 0 {
		a.transient[delivery.Key]--
		return channel.SendResult{}, errors.New("gateway unavailable")
	}
	return channel.SendResult{ExternalID: "ext-" + delivery.Key}, nil
}

func (a *scriptedAdapter) attempts(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, d := range a.sent {
		if d.Key == key {
			count++
		}
	}
	return count
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func testUsers() []directory.User {
	return []directory.User{
		{
			ID: "u-1", Name: "Meena", Role: "asha", Active: true,
			Phone: "+911111111111", Email: "meena@example.org",
			PreferredChannels: []domain.Channel{domain.ChannelSMS, domain.ChannelEmail},
		},
		{
			ID: "u-quiet", Name: "Sita", Role: "anm", Active: true,
			Phone:             "+912222222222",
			PreferredChannels: []domain.Channel{domain.ChannelSMS},
			Quiet:             directory.QuietHours{Enabled: true, StartMinute: 21 * 60, EndMinute: 7 * 60},
		},
	}
}

func dispatchConfig() config.DispatchConfig {
	rates := make(map[string]config.RateLimitConfig)
	for _, ch := range []string{"sms", "email", "push", "chat", "voice"} {
		rates[ch] = config.RateLimitConfig{PerSecond: 1000, Burst: 1000}
	}
	return config.DispatchConfig{
		Workers: 4,
		Retry:   config.RetryConfig{MaxAttempts: 3, InitialMS: 1, MaxMS: 2},
		Rate:    rates,
	}
}

func testAlert(priority domain.Priority, recipients ...domain.RecipientEntry) domain.Alert {
	return domain.Alert{
		ID:         "HA-000001",
		Type:       domain.AlertTypeDiseaseOutbreak,
		Severity:   domain.SeverityUrgent,
		Priority:   priority,
		Title:      "Cholera cases rising",
		Message:    "Three confirmed cases.",
		Status:     domain.StatusActive,
		Channels:   []domain.Channel{domain.ChannelSMS, domain.ChannelEmail},
		Recipients: recipients,
	}
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	backend    *store.MemoryStore
	sms        *scriptedAdapter
	email      *scriptedAdapter
	queue      *recordingQueue
}

func newFixture(t *testing.T, clk fixedClock) *dispatchFixture {
	t.Helper()
	backend := store.NewMemoryStore()
	renderer, err := render.NewRenderer(nil)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.NewStaticDirectoryFromUsers(testUsers())
	trk := tracker.New(backend, clk)
	sms := newScriptedAdapter(domain.ChannelSMS)
	email := newScriptedAdapter(domain.ChannelEmail)
	queue := &recordingQueue{}
	dispatcher := NewDispatcher(
		dispatchConfig(),
		[]channel.Adapter{sms, email},
		renderer, trk, backend, dir, queue, logger, clk,
	)
	return &dispatchFixture{dispatcher: dispatcher, backend: backend, sms: sms, email: email, queue: queue}
}

func seed(t *testing.T, backend *store.MemoryStore, alert domain.Alert) {
	t.Helper()
	if _, err := backend.PutAlert(context.Background(), alert.ID, alert); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDispatchPermanentFailureIsolatedPerChannel(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityUrgent,
		domain.RecipientEntry{UserID: "u-1", Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelEmail}})
	seed(t, fx.backend, alert)
	fx.sms.permKeys["HA-000001/u-1/sms"] = true

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	if got := fx.sms.attempts("HA-000001/u-1/sms"); got != 1 {
		t.Fatalf("permanent failure retried %d times", got)
	}

	stored, _, err := fx.backend.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	entry := stored.FindRecipient("u-1")
	if smsState := entry.State(domain.ChannelSMS); !smsState.Failed || smsState.FailureReason == "" {
		t.Fatalf("sms state: %+v", smsState)
	}
	if emailState := entry.State(domain.ChannelEmail); !emailState.Sent {
		t.Fatalf("email state: %+v", emailState)
	}
	if stored.Counters.Sent != 1 || stored.Counters.Failed != 1 {
		t.Fatalf("counters: %+v", stored.Counters)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityUrgent,
		domain.RecipientEntry{UserID: "u-1", Channels: []domain.Channel{domain.ChannelSMS}})
	seed(t, fx.backend, alert)
	fx.sms.transient["HA-000001/u-1/sms"] = 2

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("report: %+v", report)
	}
	if got := fx.sms.attempts("HA-000001/u-1/sms"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	stored, _, _ := fx.backend.GetAlert(context.Background(), alert.ID)
	state := stored.FindRecipient("u-1").State(domain.ChannelSMS)
	if !state.Sent || state.Attempts != 3 {
		t.Fatalf("state: %+v", state)
	}
}

func TestDispatchExhaustedRetriesRecordFailure(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityUrgent,
		domain.RecipientEntry{UserID: "u-1", Channels: []domain.Channel{domain.ChannelSMS}})
	seed(t, fx.backend, alert)
	fx.sms.transient["HA-000001/u-1/sms"] = 100

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	if got := fx.sms.attempts("HA-000001/u-1/sms"); got != 3 {
		t.Fatalf("attempt ceiling not honored: %d", got)
	}
}

func TestDispatchSkipsUnitsOfCancelledAlert(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityUrgent,
		domain.RecipientEntry{UserID: "u-1", Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelEmail}})
	cancelled := alert
	cancelled.Status = domain.StatusCancelled
	seed(t, fx.backend, cancelled)

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Skipped != 2 || report.Sent != 0 {
		t.Fatalf("report: %+v", report)
	}
	if len(fx.sms.sent) != 0 || len(fx.email.sent) != 0 {
		t.Fatal("cancelled alert units reached adapters")
	}
}

func TestDispatchDefersDuringQuietHours(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityHigh,
		domain.RecipientEntry{UserID: "u-quiet", Channels: []domain.Channel{domain.ChannelSMS}})
	seed(t, fx.backend, alert)

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Deferred != 1 {
		t.Fatalf("report: %+v", report)
	}
	if len(fx.sms.sent) != 0 {
		t.Fatal("deferred unit reached adapter")
	}
	fx.queue.mu.Lock()
	defer fx.queue.mu.Unlock()
	if len(fx.queue.jobs) != 1 {
		t.Fatalf("queued jobs: %d", len(fx.queue.jobs))
	}
	job := fx.queue.jobs[0]
	want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if !job.RunAt.Equal(want) {
		t.Fatalf("run at: %v, want %v", job.RunAt, want)
	}
}

func TestDispatchEmergencyBypassesQuietHours(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityEmergency,
		domain.RecipientEntry{UserID: "u-quiet", Channels: []domain.Channel{domain.ChannelSMS}})
	seed(t, fx.backend, alert)

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 1 || report.Deferred != 0 {
		t.Fatalf("report: %+v", report)
	}
}

func TestDispatchUnconfiguredChannelFailsUnit(t *testing.T) {
	t.Parallel()

	clk := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := newFixture(t, clk)
	alert := testAlert(domain.PriorityUrgent,
		domain.RecipientEntry{UserID: "u-1", Channels: []domain.Channel{domain.ChannelVoice}})
	seed(t, fx.backend, alert)

	report, err := fx.dispatcher.Dispatch(context.Background(), alert, alert.Recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	stored, _, _ := fx.backend.GetAlert(context.Background(), alert.ID)
	state := stored.FindRecipient("u-1").State(domain.ChannelVoice)
	if !state.Failed {
		t.Fatalf("voice state: %+v", state)
	}
}

func TestBuildKeyShape(t *testing.T) {
	t.Parallel()

	if got := BuildKey("HA-000007", "u-9", domain.ChannelEmail); got != "HA-000007/u-9/email" {
		t.Fatalf("key: %q", got)
	}
}
