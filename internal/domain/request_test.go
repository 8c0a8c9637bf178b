package domain

import (
	"strings"
	"testing"
	"time"
)

func validRequest() AlertRequest {
	return AlertRequest{
		Type:     AlertTypeDiseaseOutbreak,
		Title:    "Cholera cases rising",
		Message:  "Three confirmed cases in Rampur village.",
		Severity: SeverityUrgent,
		Targeting: TargetingSpec{
			Kind:  TargetingRoles,
			Roles: []string{"health_official"},
		},
		Channels: []Channel{ChannelSMS, ChannelEmail},
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	t.Parallel()

	if err := validRequest().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*AlertRequest)
		want   string
	}{
		{"unknown type", func(r *AlertRequest) { r.Type = "earthquake" }, "unsupported alert type"},
		{"blank title", func(r *AlertRequest) { r.Title = "  " }, "title is required"},
		{"blank message", func(r *AlertRequest) { r.Message = "" }, "message is required"},
		{"missing severity", func(r *AlertRequest) { r.Severity = "" }, "severity is required"},
		{"unknown severity", func(r *AlertRequest) { r.Severity = "catastrophic" }, "unsupported severity"},
		{"unknown priority", func(r *AlertRequest) { r.Priority = "maximal" }, "unsupported priority"},
		{"no channels", func(r *AlertRequest) { r.Channels = nil }, "at least one channel"},
		{"unknown channel", func(r *AlertRequest) { r.Channels = []Channel{"fax"} }, "unsupported channel"},
		{"empty targeting", func(r *AlertRequest) { r.Targeting = TargetingSpec{} }, "targeting"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tc.mutate(&req)
			err := req.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateExpiryMustFollowSchedule(t *testing.T) {
	t.Parallel()

	scheduled := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	expires := scheduled.Add(-time.Hour)
	req := validRequest()
	req.ScheduledFor = &scheduled
	req.ExpiresAt = &expires
	if err := req.Validate(); err == nil {
		t.Fatal("expiry before schedule should be rejected")
	}
}

func TestEffectivePriorityDefaults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		severity Severity
		explicit Priority
		want     Priority
	}{
		{SeverityEmergency, "", PriorityEmergency},
		{SeverityUrgent, "", PriorityUrgent},
		{SeverityWarning, "", PriorityHigh},
		{SeverityInfo, "", PriorityMedium},
		{SeverityInfo, PriorityUrgent, PriorityUrgent},
	}
	for _, tc := range cases {
		req := AlertRequest{Severity: tc.severity, Priority: tc.explicit}
		if got := req.EffectivePriority(); got != tc.want {
			t.Errorf("severity %s explicit %q: got %s, want %s", tc.severity, tc.explicit, got, tc.want)
		}
	}
}

func TestDecodeAlertRequestsRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	if _, err := DecodeAlertRequests([]byte(`[]`)); err == nil {
		t.Fatal("empty batch should be rejected")
	}
	if _, err := DecodeAlertRequests([]byte(`not json`)); err == nil {
		t.Fatal("malformed batch should be rejected")
	}
}
