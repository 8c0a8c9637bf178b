package schedule

import (
	"testing"
	"time"

	"healthalert/internal/directory"
	"healthalert/internal/domain"
)

func minutes(h, m int) int { return h*60 + m }

func at(h, m int) time.Time {
	return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC)
}

func TestEmergencyNeverDeferred(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(21, 0), EndMinute: minutes(7, 0)}
	now := at(23, 30)
	if got := DeliveryTime(quiet, domain.PriorityEmergency, now); !got.Equal(now) {
		t.Fatalf("emergency deferred to %v", got)
	}
}

func TestDisabledQuietHoursSendNow(t *testing.T) {
	t.Parallel()

	now := at(23, 30)
	if got := DeliveryTime(directory.QuietHours{}, domain.PriorityHigh, now); !got.Equal(now) {
		t.Fatalf("disabled quiet hours deferred to %v", got)
	}
}

func TestOutsideWindowSendsNow(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(21, 0), EndMinute: minutes(7, 0)}
	now := at(12, 0)
	if got := DeliveryTime(quiet, domain.PriorityHigh, now); !got.Equal(now) {
		t.Fatalf("midday send deferred to %v", got)
	}
}

func TestSameDayWindowDefersToWindowEnd(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(13, 0), EndMinute: minutes(15, 0)}
	now := at(14, 0)
	want := at(15, 0)
	if got := DeliveryTime(quiet, domain.PriorityUrgent, now); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWrappingWindowBeforeMidnightDefersToTomorrow(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(21, 0), EndMinute: minutes(7, 0)}
	now := at(23, 30)
	want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if got := DeliveryTime(quiet, domain.PriorityHigh, now); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWrappingWindowAfterMidnightDefersToToday(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(21, 0), EndMinute: minutes(7, 0)}
	now := at(3, 0)
	want := at(7, 0)
	if got := DeliveryTime(quiet, domain.PriorityHigh, now); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWindowBoundariesExclusiveEnd(t *testing.T) {
	t.Parallel()

	quiet := directory.QuietHours{Enabled: true, StartMinute: minutes(13, 0), EndMinute: minutes(15, 0)}
	startEdge := at(13, 0)
	if got := DeliveryTime(quiet, domain.PriorityHigh, startEdge); got.Equal(startEdge) {
		t.Fatal("window start should defer")
	}
	endEdge := at(15, 0)
	if got := DeliveryTime(quiet, domain.PriorityHigh, endEdge); !got.Equal(endEdge) {
		t.Fatal("window end should send immediately")
	}
}
