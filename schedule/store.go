package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gigwatch/gigwatch/errors"
)

// Store handles persistence of recurring job definitions.
type Store struct {
	db *sql.DB
}

// NewStore creates a new definition store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const definitionColumns = `
	id, kind, payload, spec, active,
	next_run_at, last_run_at, created_at, updated_at`

// Upsert inserts or updates a definition keyed by logical ID. The update
// only fires when something actually changed, so re-registering an
// unchanged definition neither duplicates it nor disturbs its schedule.
// Returns true when a row was inserted or modified.
func (s *Store) Upsert(def *Definition) (bool, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO job_definitions (
			id, kind, payload, spec, active, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			spec = excluded.spec,
			active = 1,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
		WHERE job_definitions.kind != excluded.kind
		   OR job_definitions.payload != excluded.payload
		   OR job_definitions.spec != excluded.spec
		   OR job_definitions.active != 1
	`

	payload := "{}"
	if len(def.Payload) > 0 {
		payload = string(def.Payload)
	}

	result, err := s.db.Exec(query,
		def.ID,
		def.Kind,
		payload,
		def.Spec,
		def.NextRunAt.UTC(),
		now,
		now,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to upsert definition")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// Get retrieves a definition by ID
func (s *Store) Get(id string) (*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM job_definitions WHERE id = ?`

	var def Definition
	err := scanDefinition(s.db.QueryRow(query, id), &def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("definition not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get definition")
	}

	return &def, nil
}

// List returns all definitions ordered by ID.
func (s *Store) List() ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM job_definitions ORDER BY id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list definitions")
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// ListDue returns active definitions whose next run time has passed.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM job_definitions
		WHERE active = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC`

	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due definitions")
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// AdvanceNextRun records a fire and schedules the next one.
func (s *Store) AdvanceNextRun(id string, firedAt, nextRunAt time.Time) error {
	query := `
		UPDATE job_definitions
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.Exec(query, firedAt.UTC(), nextRunAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to advance next run")
	}
	return nil
}

// Deactivate stops a definition from firing without deleting its history.
func (s *Store) Deactivate(id string) error {
	query := `UPDATE job_definitions SET active = 0, updated_at = ? WHERE id = ?`

	result, err := s.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate definition")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("definition not found: %s", id)
	}

	return nil
}

// DeactivateMissing deactivates every active definition whose ID is not in
// keep. Used after a config reload so removed sources stop firing.
func (s *Store) DeactivateMissing(keep []string) (int, error) {
	query := `UPDATE job_definitions SET active = 0, updated_at = ?`
	args := []interface{}{time.Now().UTC()}

	if len(keep) > 0 {
		placeholders := strings.Repeat("?,", len(keep))
		query += ` WHERE active = 1 AND id NOT IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	} else {
		query += ` WHERE active = 1`
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to deactivate missing definitions")
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

func scanDefinition(row rowScanner, def *Definition) error {
	var (
		payload   sql.NullString
		lastRunAt sql.NullTime
	)

	err := row.Scan(
		&def.ID,
		&def.Kind,
		&payload,
		&def.Spec,
		&def.Active,
		&def.NextRunAt,
		&lastRunAt,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if payload.Valid && payload.String != "" {
		def.Payload = []byte(payload.String)
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		def.LastRunAt = &t
	}

	return nil
}

func scanDefinitions(rows *sql.Rows) ([]*Definition, error) {
	var defs []*Definition
	for rows.Next() {
		var def Definition
		if err := scanDefinition(rows, &def); err != nil {
			return nil, errors.Wrap(err, "failed to scan definition")
		}
		defs = append(defs, &def)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating definitions")
	}

	return defs, nil
}
