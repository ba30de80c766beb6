package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gigtest "github.com/gigwatch/gigwatch/internal/testing"
)

// expireLease rewinds an instance's lease so it looks abandoned.
func expireLease(t *testing.T, store *Store, instanceID string) {
	t.Helper()
	_, err := store.db.Exec(
		`UPDATE job_instances SET lease_expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Second), instanceID)
	require.NoError(t, err)
}

func TestClaimCandidateRejectsRenewedLease(t *testing.T) {
	store := NewStore(gigtest.CreateTestDB(t))

	inst, err := NewInstance("scrape", nil, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	inserted, err := store.Enqueue(inst)
	require.NoError(t, err)
	require.True(t, inserted)

	claimed, err := store.Claim("w1", time.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// w1's heartbeats stall and the lease lapses; w2 selects the instance
	// as a reclaim candidate.
	expireLease(t, store, claimed.ID)
	snapshot, err := store.Get(claimed.ID)
	require.NoError(t, err)

	// w1's delayed heartbeat lands before w2's guarded update. Status and
	// holder are unchanged, so only the lease re-check can stop w2.
	require.NoError(t, store.RenewLease(claimed.ID, "w1", time.Minute))

	taken, err := store.claimCandidate(snapshot, "w2", time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	assert.False(t, taken, "a renewed lease must keep its owner")

	current, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", current.LockedBy)
	assert.Equal(t, StatusActive, current.Status)
}

func TestClaimCandidateTakesExpiredLease(t *testing.T) {
	store := NewStore(gigtest.CreateTestDB(t))

	inst, err := NewInstance("scrape", nil, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Enqueue(inst)
	require.NoError(t, err)

	claimed, err := store.Claim("w1", time.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	expireLease(t, store, claimed.ID)
	snapshot, err := store.Get(claimed.ID)
	require.NoError(t, err)

	taken, err := store.claimCandidate(snapshot, "w2", time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	assert.True(t, taken)

	current, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "w2", current.LockedBy)
}
