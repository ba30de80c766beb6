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
	"github.com/gigwatch/gigwatch/jobs"
)

func TestStatusUpdateHandler(t *testing.T) {
	conn := gigtest.CreateTestDB(t)
	store := event.NewStore(conn)
	manager := event.NewStatusManager(store, zap.NewNop().Sugar())
	handler := event.NewStatusUpdateHandler(manager)

	assert.Equal(t, "status-update", handler.Name())

	past := time.Now().UTC().Add(-24 * time.Hour)
	seedEvent(t, store, "ra", "old-1", event.StatusActive, past, nil)
	seedEvent(t, store, "ra", "old-2", event.StatusDraft, past, nil)

	inst, err := jobs.NewInstance(event.StatusUpdateHandlerName, nil, time.Now())
	require.NoError(t, err)

	require.NoError(t, handler.Execute(context.Background(), inst))
	assert.Contains(t, inst.Result, "expired 2")

	// The sweep is idempotent; running the job again changes nothing
	rerun, err := jobs.NewInstance(event.StatusUpdateHandlerName, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, handler.Execute(context.Background(), rerun))
	assert.Contains(t, rerun.Result, "expired 0")
}
