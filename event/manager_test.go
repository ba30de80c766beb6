package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gigwatch/gigwatch/event"
	gigtest "github.com/gigwatch/gigwatch/internal/testing"
)

func newManager(t *testing.T) (*event.StatusManager, *event.Store) {
	t.Helper()
	conn := gigtest.CreateTestDB(t)
	store := event.NewStore(conn)
	return event.NewStatusManager(store, zap.NewNop().Sugar()), store
}

func seedEvent(t *testing.T, store *event.Store, source, extID string, status event.Status, startAt time.Time, endAt *time.Time) *event.Event {
	t.Helper()
	e := event.New(source, extID, "Test gig "+extID, startAt)
	e.EndAt = endAt
	require.NoError(t, store.Upsert(e))
	if status != event.StatusDraft {
		updated, err := store.UpdateStatusIf(e.ID, event.StatusDraft, status)
		require.NoError(t, err)
		require.True(t, updated)
		e.Status = status
	}
	return e
}

func TestSweepExpired(t *testing.T) {
	manager, store := newManager(t)
	now := time.Now().UTC()
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	pastDraft := seedEvent(t, store, "ra", "past-draft", event.StatusDraft, past, nil)
	pastActive := seedEvent(t, store, "ra", "past-active", event.StatusActive, past, nil)
	futureActive := seedEvent(t, store, "ra", "future-active", event.StatusActive, future, nil)
	// Started in the past but runs until tomorrow; the end date governs
	endTomorrow := now.Add(24 * time.Hour)
	ongoing := seedEvent(t, store, "ra", "ongoing", event.StatusActive, past, &endTomorrow)
	pastArchived := seedEvent(t, store, "ra", "past-archived", event.StatusArchived, past, nil)

	result, err := manager.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	for _, tc := range []struct {
		e    *event.Event
		want event.Status
	}{
		{pastDraft, event.StatusExpired},
		{pastActive, event.StatusExpired},
		{futureActive, event.StatusActive},
		{ongoing, event.StatusActive},
		{pastArchived, event.StatusArchived},
	} {
		got, err := store.GetByID(tc.e.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status, "event %s", tc.e.ExternalID)
	}
}

func TestSweepExpiredIdempotent(t *testing.T) {
	manager, store := newManager(t)
	now := time.Now().UTC()
	seedEvent(t, store, "ra", "past-1", event.StatusActive, now.Add(-time.Hour), nil)

	first, err := manager.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	second, err := manager.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Equal(t, 0, second.Updated)
}

func TestSweepRespectsContext(t *testing.T) {
	manager, store := newManager(t)
	now := time.Now().UTC()
	seedEvent(t, store, "ra", "past-1", event.StatusActive, now.Add(-time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := manager.SweepExpired(ctx, now)
	require.Error(t, err)
	assert.Equal(t, 0, result.Updated)
}

func TestForceExpire(t *testing.T) {
	manager, store := newManager(t)
	future := time.Now().UTC().Add(72 * time.Hour)
	e := seedEvent(t, store, "ra", "upcoming", event.StatusActive, future, nil)

	// Dates do not matter for a forced expiry
	applied, err := manager.ForceExpire(e.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetByID(e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusExpired, got.Status)

	// Already expired: nothing to do, reported as unchanged
	applied, err = manager.ForceExpire(e.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestForceExpireMissingEvent(t *testing.T) {
	manager, _ := newManager(t)

	applied, err := manager.ForceExpire("no-such-id")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestForceReactivate(t *testing.T) {
	manager, store := newManager(t)
	past := time.Now().UTC().Add(-72 * time.Hour)
	e := seedEvent(t, store, "ra", "postponed", event.StatusExpired, past, nil)

	// Reactivation ignores dates; the operator decides
	applied, err := manager.ForceReactivate(e.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetByID(e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusActive, got.Status)
}

func TestForceReactivateOnlyTouchesExpired(t *testing.T) {
	manager, store := newManager(t)
	now := time.Now().UTC()
	draft := seedEvent(t, store, "ra", "draft-1", event.StatusDraft, now, nil)
	active := seedEvent(t, store, "ra", "active-1", event.StatusActive, now, nil)

	for _, e := range []*event.Event{draft, active} {
		applied, err := manager.ForceReactivate(e.ID)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := store.GetByID(e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Status, got.Status)
	}
}

func TestArchiveIsTerminal(t *testing.T) {
	manager, store := newManager(t)
	e := seedEvent(t, store, "ra", "done", event.StatusActive, time.Now().UTC(), nil)

	applied, err := manager.Archive(e.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = manager.ForceReactivate(e.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = manager.ForceExpire(e.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetByID(e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusArchived, got.Status)
}

func TestStatistics(t *testing.T) {
	manager, store := newManager(t)

	now := time.Now().UTC()
	seedEvent(t, store, "ra", "d1", event.StatusDraft, now, nil)
	seedEvent(t, store, "ra", "d2", event.StatusDraft, now, nil)
	seedEvent(t, store, "ra", "a1", event.StatusActive, now, nil)
	seedEvent(t, store, "ra", "e1", event.StatusExpired, now, nil)
	seedEvent(t, store, "ra", "x1", event.StatusArchived, now, nil)

	stats, err := manager.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Draft)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 0, stats.Unknown)
	assert.Equal(t, 5, stats.Total)
}

func TestStatisticsUnknownStatus(t *testing.T) {
	conn := gigtest.CreateTestDB(t)
	store := event.NewStore(conn)
	manager := event.NewStatusManager(store, zap.NewNop().Sugar())

	now := time.Now().UTC()
	seedEvent(t, store, "ra", "d1", event.StatusDraft, now, nil)

	// A row written by an older schema version
	_, err := conn.Exec(`
		INSERT INTO events (id, source, external_id, title, start_at, status, created_at, updated_at)
		VALUES ('legacy-1', 'ra', 'legacy-1', 'Legacy', ?, 'published', ?, ?)`,
		now, now, now)
	require.NoError(t, err)

	stats, err := manager.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Draft)
	assert.Equal(t, 1, stats.Unknown)
	assert.Equal(t, 2, stats.Total)
}
