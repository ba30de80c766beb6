package jobs

import (
	"database/sql"
	"strings"
	"time"

	"github.com/gigwatch/gigwatch/errors"
)

// Store handles persistence of job instances.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job instance store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const instanceColumns = `
	id, definition_id, kind, payload, slot, status,
	attempt, max_attempts, run_at, locked_by, lease_expires_at,
	result, error, enqueued_at, started_at, finished_at, updated_at`

// Enqueue inserts a new pending instance. For scheduled instances the
// (definition, slot, attempt) constraint makes the insert idempotent:
// a duplicate enqueue is silently dropped and Enqueue returns false.
func (s *Store) Enqueue(inst *Instance) (bool, error) {
	query := `
		INSERT INTO job_instances (
			id, definition_id, kind, payload, slot, status,
			attempt, max_attempts, run_at,
			enqueued_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(definition_id, slot, attempt) DO NOTHING
	`

	definitionID := sql.NullString{String: inst.DefinitionID, Valid: inst.DefinitionID != ""}
	slot := sql.NullString{String: inst.Slot, Valid: inst.Slot != ""}
	payload := "{}"
	if len(inst.Payload) > 0 {
		payload = string(inst.Payload)
	}

	result, err := s.db.Exec(query,
		inst.ID,
		definitionID,
		inst.Kind,
		payload,
		slot,
		inst.Status,
		inst.Attempt,
		inst.MaxAttempts,
		inst.RunAt.UTC(),
		inst.EnqueuedAt.UTC(),
		inst.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to enqueue instance")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// Claim atomically hands the next due instance to a worker. Candidates are
// pending instances whose run time has passed, plus active instances whose
// lease has expired (their worker died without releasing them).
//
// Returns (nil, nil) when no instance is due or another worker won the
// race. The conditional UPDATE with rows-affected arbitration guarantees
// exactly one winner per instance.
func (s *Store) Claim(workerID string, now time.Time, leaseTTL time.Duration) (*Instance, error) {
	now = now.UTC()

	query := `SELECT ` + instanceColumns + `
		FROM job_instances
		WHERE (status = 'pending' AND run_at <= ?)
		   OR (status = 'active' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?)
		ORDER BY run_at ASC
		LIMIT 1`

	var inst Instance
	row := s.db.QueryRow(query, now, now)
	if err := scanInstance(row, &inst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to select claim candidate")
	}

	claimed, err := s.claimCandidate(&inst, workerID, now, leaseTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race to another worker
		return nil, nil
	}
	return &inst, nil
}

// claimCandidate runs the guarded UPDATE for a selected candidate. Besides
// status and holder, the guard re-checks that an active candidate's lease
// is still expired: a heartbeat landing between the select and this update
// changes neither status nor locked_by, only the lease, and must keep the
// original owner.
func (s *Store) claimCandidate(inst *Instance, workerID string, now time.Time, leaseTTL time.Duration) (bool, error) {
	leaseExpiry := now.Add(leaseTTL)
	update := `
		UPDATE job_instances
		SET status = 'active',
		    locked_by = ?,
		    lease_expires_at = ?,
		    started_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND COALESCE(locked_by, '') = COALESCE(?, '')
		  AND (status = 'pending' OR (lease_expires_at IS NOT NULL AND lease_expires_at < ?))
	`

	result, err := s.db.Exec(update,
		workerID, leaseExpiry, now, now,
		inst.ID, inst.Status, inst.LockedBy, now,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim instance")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return false, nil
	}

	inst.Status = StatusActive
	inst.LockedBy = workerID
	inst.LeaseExpiresAt = &leaseExpiry
	inst.StartedAt = &now
	inst.UpdatedAt = now
	return true, nil
}

// RenewLease extends the lease on an instance held by workerID.
func (s *Store) RenewLease(instanceID, workerID string, leaseTTL time.Duration) error {
	now := time.Now().UTC()
	query := `
		UPDATE job_instances
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND locked_by = ?
	`

	result, err := s.db.Exec(query, now.Add(leaseTTL), now, instanceID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to renew lease")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("lease not held: instance %s worker %s", instanceID, workerID)
	}

	return nil
}

// Release puts an active instance back to pending without consuming an
// attempt. Used during graceful shutdown for work that did not finish
// before the drain deadline.
func (s *Store) Release(instanceID, workerID string) error {
	now := time.Now().UTC()
	query := `
		UPDATE job_instances
		SET status = 'pending',
		    locked_by = NULL,
		    lease_expires_at = NULL,
		    started_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND locked_by = ?
	`

	if _, err := s.db.Exec(query, now, instanceID, workerID); err != nil {
		return errors.Wrap(err, "failed to release instance")
	}
	return nil
}

// ReleaseOwned releases every active instance held by workerID back to
// pending. Nothing is lost on shutdown: unfinished work is picked up by
// the next claim.
func (s *Store) ReleaseOwned(workerID string) (int, error) {
	now := time.Now().UTC()
	query := `
		UPDATE job_instances
		SET status = 'pending',
		    locked_by = NULL,
		    lease_expires_at = NULL,
		    started_at = NULL,
		    updated_at = ?
		WHERE status = 'active' AND locked_by = ?
	`

	result, err := s.db.Exec(query, now, workerID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to release owned instances")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// MarkCompleted records a successful run.
func (s *Store) MarkCompleted(instanceID, workerID, result string) error {
	now := time.Now().UTC()
	query := `
		UPDATE job_instances
		SET status = 'completed',
		    result = ?,
		    locked_by = NULL,
		    lease_expires_at = NULL,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND locked_by = ?
	`

	res, err := s.db.Exec(query, result, now, now, instanceID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to mark instance completed")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("instance not active under worker: %s", instanceID)
	}
	return nil
}

// MarkFailed records a failed run.
func (s *Store) MarkFailed(instanceID, workerID string, runErr error) error {
	now := time.Now().UTC()
	query := `
		UPDATE job_instances
		SET status = 'failed',
		    error = ?,
		    locked_by = NULL,
		    lease_expires_at = NULL,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND locked_by = ?
	`

	res, err := s.db.Exec(query, runErr.Error(), now, now, instanceID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to mark instance failed")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("instance not active under worker: %s", instanceID)
	}
	return nil
}

// Get retrieves an instance by ID
func (s *Store) Get(id string) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM job_instances WHERE id = ?`

	var inst Instance
	err := scanInstance(s.db.QueryRow(query, id), &inst)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("instance not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get instance")
	}

	return &inst, nil
}

// ListByStatus returns instances in the given status, newest first.
func (s *Store) ListByStatus(status Status, limit int) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM job_instances
		WHERE status = ?
		ORDER BY enqueued_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list instances")
	}
	defer rows.Close()

	return scanInstances(rows)
}

// Stats summarizes instance counts per status.
type Stats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetStats returns instance counts grouped by status.
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job_instances GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query instance stats")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan instance stats")
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusActive:
			stats.Active = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating instance stats")
	}

	return stats, nil
}

// CleanupOld removes completed/failed instances older than the specified duration
func (s *Store) CleanupOld(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		DELETE FROM job_instances
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old instances")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner, inst *Instance) error {
	var (
		definitionID sql.NullString
		payload      sql.NullString
		slot         sql.NullString
		lockedBy     sql.NullString
		leaseExpires sql.NullTime
		result       sql.NullString
		errMsg       sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&inst.ID,
		&definitionID,
		&inst.Kind,
		&payload,
		&slot,
		&inst.Status,
		&inst.Attempt,
		&inst.MaxAttempts,
		&inst.RunAt,
		&lockedBy,
		&leaseExpires,
		&result,
		&errMsg,
		&inst.EnqueuedAt,
		&startedAt,
		&finishedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return err
	}

	inst.DefinitionID = definitionID.String
	if payload.Valid && strings.TrimSpace(payload.String) != "" {
		inst.Payload = []byte(payload.String)
	}
	inst.Slot = slot.String
	inst.LockedBy = lockedBy.String
	if leaseExpires.Valid {
		t := leaseExpires.Time
		inst.LeaseExpiresAt = &t
	}
	inst.Result = result.String
	inst.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		inst.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		inst.FinishedAt = &t
	}

	return nil
}

func scanInstances(rows *sql.Rows) ([]*Instance, error) {
	var instances []*Instance
	for rows.Next() {
		var inst Instance
		if err := scanInstance(rows, &inst); err != nil {
			return nil, errors.Wrap(err, "failed to scan instance")
		}
		instances = append(instances, &inst)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating instances")
	}

	return instances, nil
}
