package event

import (
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		trigger Trigger
		want    Status
		allowed bool
	}{
		{"sweep expires draft", StatusDraft, TriggerSweep, StatusExpired, true},
		{"sweep expires active", StatusActive, TriggerSweep, StatusExpired, true},
		{"sweep on expired is noop", StatusExpired, TriggerSweep, StatusExpired, true},
		{"sweep never archives", StatusArchived, TriggerSweep, StatusArchived, false},

		{"approve publishes draft", StatusDraft, TriggerApprove, StatusActive, true},
		{"approve on active is noop", StatusActive, TriggerApprove, StatusActive, true},
		{"approve cannot revive expired", StatusExpired, TriggerApprove, StatusExpired, false},
		{"approve cannot revive archived", StatusArchived, TriggerApprove, StatusArchived, false},

		{"reactivate revives expired", StatusExpired, TriggerReactivate, StatusActive, true},
		{"reactivate on active is noop", StatusActive, TriggerReactivate, StatusActive, true},
		{"reactivate cannot touch draft", StatusDraft, TriggerReactivate, StatusDraft, false},
		{"reactivate cannot touch archived", StatusArchived, TriggerReactivate, StatusArchived, false},

		{"archive retires draft", StatusDraft, TriggerArchive, StatusArchived, true},
		{"archive retires active", StatusActive, TriggerArchive, StatusArchived, true},
		{"archive cannot touch expired", StatusExpired, TriggerArchive, StatusExpired, false},
		{"archive on archived is noop", StatusArchived, TriggerArchive, StatusArchived, true},

		{"force expire on draft", StatusDraft, TriggerForceExpire, StatusExpired, true},
		{"force expire on active", StatusActive, TriggerForceExpire, StatusExpired, true},
		{"force expire on expired is noop", StatusExpired, TriggerForceExpire, StatusExpired, true},
		{"force expire never touches archived", StatusArchived, TriggerForceExpire, StatusArchived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allowed := Next(tt.current, tt.trigger)
			if allowed != tt.allowed {
				t.Errorf("Next(%s, %s) allowed = %v, want %v", tt.current, tt.trigger, allowed, tt.allowed)
			}
			if allowed && got != tt.want {
				t.Errorf("Next(%s, %s) = %s, want %s", tt.current, tt.trigger, got, tt.want)
			}
			if !allowed && got != tt.current {
				t.Errorf("Next(%s, %s) denied but changed status to %s", tt.current, tt.trigger, got)
			}
		})
	}
}

func TestArchivedIsTerminal(t *testing.T) {
	for _, trigger := range []Trigger{TriggerSweep, TriggerApprove, TriggerReactivate, TriggerForceExpire} {
		got, allowed := Next(StatusArchived, trigger)
		if allowed {
			t.Errorf("Next(archived, %s) should be denied, got %s", trigger, got)
		}
	}
}

func TestExpiresAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

	e := New("ra", "ext-1", "Warehouse night", start)
	if !e.ExpiresAt().Equal(start) {
		t.Errorf("ExpiresAt without end date = %v, want start %v", e.ExpiresAt(), start)
	}

	e.EndAt = &end
	if !e.ExpiresAt().Equal(end) {
		t.Errorf("ExpiresAt with end date = %v, want end %v", e.ExpiresAt(), end)
	}

	if e.Expired(end.Add(-time.Minute)) {
		t.Error("event should not be expired before its end date")
	}
	if !e.Expired(end.Add(time.Minute)) {
		t.Error("event should be expired after its end date")
	}
}

func TestNewEventIsDraft(t *testing.T) {
	e := New("songkick", "sk-42", "Open air", time.Now().Add(24*time.Hour))
	if e.Status != StatusDraft {
		t.Errorf("new event status = %s, want draft", e.Status)
	}
	if e.ID == "" {
		t.Error("new event should have an ID")
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"draft", "active", "expired", "archived"} {
		if !IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "deleted", "DRAFT", "pending"} {
		if IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = true, want false", s)
		}
	}
}
