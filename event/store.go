package event

import (
	"database/sql"
	"time"

	"github.com/gigwatch/gigwatch/errors"
)

// Store handles persistence of events.
type Store struct {
	db *sql.DB
}

// NewStore creates a new event store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `
	id, source, external_id, title, venue, url,
	start_at, end_at, status, created_at, updated_at`

// Upsert inserts or refreshes an event keyed by (source, external_id).
// A re-scraped event updates its details but never its lifecycle status:
// moderation decisions survive scrapes. On conflict the stored row keeps
// its original id, and e.ID is rewritten to match it.
func (s *Store) Upsert(e *Event) error {
	now := time.Now().UTC()
	e.UpdatedAt = now

	query := `
		INSERT INTO events (
			id, source, external_id, title, venue, url,
			start_at, end_at, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, external_id) DO UPDATE SET
			title = excluded.title,
			venue = excluded.venue,
			url = excluded.url,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var endAt interface{}
	if e.EndAt != nil {
		endAt = e.EndAt.UTC()
	}

	err := s.db.QueryRow(query,
		e.ID,
		e.Source,
		e.ExternalID,
		e.Title,
		e.Venue,
		e.URL,
		e.StartAt.UTC(),
		endAt,
		e.Status,
		e.CreatedAt.UTC(),
		e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		return errors.Wrap(err, "failed to upsert event")
	}

	return nil
}

// GetByID retrieves an event by ID
func (s *Store) GetByID(id string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	var e Event
	err := scanEvent(s.db.QueryRow(query, id), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("event not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}

	return &e, nil
}

// ListByStatus returns events in the given status ordered by start date.
func (s *Store) ListByStatus(status Status, limit int) ([]*Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status = ?
		ORDER BY start_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListExpirable returns draft and active events that are past at the
// given time. Archived events are never candidates.
func (s *Store) ListExpirable(now time.Time) ([]*Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status IN ('draft', 'active')
		  AND COALESCE(end_at, start_at) < ?
		ORDER BY start_at ASC`

	rows, err := s.db.Query(query, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expirable events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// UpdateStatusIf moves an event from one status to another only if it is
// still in the expected status. Returns false when the event was already
// moved by a concurrent writer; concurrent sweeps stay idempotent this way.
func (s *Store) UpdateStatusIf(id string, from, to Status) (bool, error) {
	query := `
		UPDATE events
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.Exec(query, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, errors.Wrap(err, "failed to update event status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// CountByStatus returns event counts grouped by raw status value,
// including values outside the known lifecycle.
func (s *Store) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count events by status")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan event counts")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating event counts")
	}

	return counts, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner, e *Event) error {
	var (
		venue sql.NullString
		url   sql.NullString
		endAt sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.Source,
		&e.ExternalID,
		&e.Title,
		&venue,
		&url,
		&e.StartAt,
		&endAt,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return err
	}

	e.Venue = venue.String
	e.URL = url.String
	if endAt.Valid {
		t := endAt.Time
		e.EndAt = &t
	}

	return nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating events")
	}

	return events, nil
}
