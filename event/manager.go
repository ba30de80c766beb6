package event

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gigwatch/gigwatch/errors"
)

// StatusManager applies lifecycle transitions to stored events.
type StatusManager struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewStatusManager creates a status manager backed by the given store.
func NewStatusManager(store *Store, log *zap.SugaredLogger) *StatusManager {
	return &StatusManager{
		store:  store,
		logger: log.Named("event"),
	}
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"` // lost to a concurrent sweep; already moved
	Failed  int `json:"failed"`
}

// SweepExpired moves past draft/active events to expired. Each event is
// committed independently: one failure is recorded and the sweep moves
// on, so a bad row cannot block the rest. Safe to run concurrently; the
// conditional status update makes overlapping sweeps idempotent.
//
// The sweep never archives and never reactivates. An expired event whose
// dates move into the future stays expired until an operator reactivates it.
func (m *StatusManager) SweepExpired(ctx context.Context, now time.Time) (*SweepResult, error) {
	candidates, err := m.store.ListExpirable(now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expirable events")
	}

	result := &SweepResult{Scanned: len(candidates)}
	for _, e := range candidates {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		target, ok := Next(e.Status, TriggerSweep)
		if !ok || target == e.Status {
			result.Skipped++
			continue
		}

		updated, err := m.store.UpdateStatusIf(e.ID, e.Status, target)
		if err != nil {
			result.Failed++
			m.logger.Errorw("Failed to expire event",
				"event_id", e.ID,
				"title", e.Title,
				"error", err)
			continue
		}
		if !updated {
			// A concurrent sweep got here first
			result.Skipped++
			continue
		}
		result.Updated++
	}

	m.logger.Infow("Expiry sweep complete",
		"scanned", result.Scanned,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

// ForceExpire expires an event regardless of its dates. Returns true only
// when the status actually changed; a missing event, an already-expired
// event, or an archived one all report false without error.
func (m *StatusManager) ForceExpire(id string) (bool, error) {
	return m.apply(id, TriggerForceExpire)
}

// ForceReactivate revives an expired event. Date-unconditional: operators
// reactivate events whose dates were corrected upstream. Returns false
// for any event that is not currently expired.
func (m *StatusManager) ForceReactivate(id string) (bool, error) {
	return m.apply(id, TriggerReactivate)
}

// Approve publishes a draft event.
func (m *StatusManager) Approve(id string) (bool, error) {
	return m.apply(id, TriggerApprove)
}

// Archive retires an event. Terminal; only moderators call this.
func (m *StatusManager) Archive(id string) (bool, error) {
	return m.apply(id, TriggerArchive)
}

// apply reports whether a transition happened. Illegal and same-state
// transitions are no-ops, not errors: two moderators racing on the same
// event is normal, and the loser simply sees false. Errors are reserved
// for the store.
func (m *StatusManager) apply(id string, trigger Trigger) (bool, error) {
	e, err := m.store.GetByID(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}

	target, ok := Next(e.Status, trigger)
	if !ok || target == e.Status {
		return false, nil
	}

	updated, err := m.store.UpdateStatusIf(e.ID, e.Status, target)
	if err != nil {
		return false, err
	}
	if updated {
		m.logger.Infow("Event status changed",
			"event_id", e.ID,
			"from", e.Status,
			"to", target,
			"trigger", trigger)
	}
	return updated, nil
}

// Statistics holds per-status event counts. Rows with unrecognized
// status values land in Unknown and still count toward Total.
type Statistics struct {
	Draft    int `json:"draft"`
	Active   int `json:"active"`
	Expired  int `json:"expired"`
	Archived int `json:"archived"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Statistics returns event counts per lifecycle status.
func (m *StatusManager) Statistics() (*Statistics, error) {
	counts, err := m.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &Statistics{}
	for status, count := range counts {
		switch Status(status) {
		case StatusDraft:
			stats.Draft = count
		case StatusActive:
			stats.Active = count
		case StatusExpired:
			stats.Expired = count
		case StatusArchived:
			stats.Archived = count
		default:
			stats.Unknown += count
		}
		stats.Total += count
	}

	return stats, nil
}
