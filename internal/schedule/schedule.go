package schedule

import (
	"time"

	"healthalert/internal/directory"
	"healthalert/internal/domain"
)

// DeliveryTime decides when one non-started delivery may be sent.
// Params: recipient quiet-hours preference, alert priority, and current time.
// Returns: now for emergencies and outside quiet hours; otherwise the end
// of the quiet-hours window on the correct day. Pure function.
func DeliveryTime(quiet directory.QuietHours, priority domain.Priority, now time.Time) time.Time {
	if priority == domain.PriorityEmergency {
		return now
	}
	if !quiet.Enabled || quiet.StartMinute == quiet.EndMinute {
		return now
	}

	minuteOfDay := now.Hour()*60 + now.Minute()
	if !inWindow(minuteOfDay, quiet.StartMinute, quiet.EndMinute) {
		return now
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := midnight.Add(time.Duration(quiet.EndMinute) * time.Minute)

	if quiet.StartMinute < quiet.EndMinute {
		// Same-day window: end is later today.
		return end
	}
	// Window wraps midnight: before midnight the end belongs to tomorrow,
	// after midnight it belongs to today.
	if minuteOfDay >= quiet.StartMinute {
		return end.AddDate(0, 0, 1)
	}
	return end
}

// inWindow reports whether minute falls inside [start,end) with wrap support.
// Params: minute-of-day plus window bounds.
// Returns: true when the minute is covered by the window.
func inWindow(minute, start, end int) bool {
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}
