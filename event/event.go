// Package event models aggregated events and their lifecycle.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusArchived Status = "archived"
)

// IsValidStatus returns true if the status string is a known Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusDraft, StatusActive, StatusExpired, StatusArchived:
		return true
	default:
		return false
	}
}

// Trigger identifies what is asking for a status change. The same target
// status can be legal from one trigger and illegal from another: the
// automated sweep may expire events but never archive them.
type Trigger string

const (
	TriggerSweep       Trigger = "sweep"        // automated expiry of past events
	TriggerApprove     Trigger = "approve"      // moderator publishes a draft
	TriggerArchive     Trigger = "archive"      // moderator retires an event
	TriggerForceExpire Trigger = "force-expire" // operator expires regardless of dates
	TriggerReactivate  Trigger = "reactivate"   // operator revives an expired event
)

// Next returns the target status for applying trigger to current, and
// whether the transition is allowed. A transition to the current status
// is a no-op, not an error; callers detect that by comparing states.
//
// Archived is terminal: nothing moves an event out of it.
// Expired returns to active only through an explicit reactivate.
func Next(current Status, trigger Trigger) (Status, bool) {
	switch trigger {
	case TriggerSweep, TriggerForceExpire:
		switch current {
		case StatusDraft, StatusActive:
			return StatusExpired, true
		case StatusExpired:
			return StatusExpired, true
		}
	case TriggerApprove:
		switch current {
		case StatusDraft:
			return StatusActive, true
		case StatusActive:
			return StatusActive, true
		}
	case TriggerReactivate:
		switch current {
		case StatusExpired:
			return StatusActive, true
		case StatusActive:
			return StatusActive, true
		}
	case TriggerArchive:
		switch current {
		case StatusDraft, StatusActive:
			return StatusArchived, true
		case StatusArchived:
			return StatusArchived, true
		}
	}
	return current, false
}

// Event is a single aggregated event from an external source.
// (Source, ExternalID) identifies it across repeated scrapes.
type Event struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title"`
	Venue      string     `json:"venue,omitempty"`
	URL        string     `json:"url,omitempty"`
	StartAt    time.Time  `json:"start_at"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// New creates a draft event. Every event enters the system as a draft;
// only moderation moves it further.
func New(source, externalID, title string, startAt time.Time) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:         uuid.NewString(),
		Source:     source,
		ExternalID: externalID,
		Title:      title,
		StartAt:    startAt.UTC(),
		Status:     StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ExpiresAt is the moment after which the event counts as past:
// the end date when one exists, otherwise the start date.
func (e *Event) ExpiresAt() time.Time {
	if e.EndAt != nil {
		return *e.EndAt
	}
	return e.StartAt
}

// Expired reports whether the event is past at the given time.
func (e *Event) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}
