package schedule

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/gigwatch/gigwatch/errors"
)

// Execution records one fire of a recurring definition.
//
// Each time the ticker materializes a definition, an Execution row tracks
// timing, outcome, and the instance it produced. This gives operators a
// per-fire history for debugging and monitoring.
type Execution struct {
	ID           string     `json:"id"`
	DefinitionID string     `json:"definition_id"`
	InstanceID   string     `json:"instance_id"`
	Status       string     `json:"status"` // "completed", "failed"
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   *int       `json:"duration_ms,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Execution status constants
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// ExecutionStore handles persistence of fire history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Record inserts an execution row.
func (s *ExecutionStore) Record(exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO job_executions (
			id, definition_id, instance_id, status,
			started_at, completed_at, duration_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var startedAt, completedAt, durationMs interface{}
	if exec.StartedAt != nil {
		startedAt = exec.StartedAt.UTC()
	}
	if exec.CompletedAt != nil {
		completedAt = exec.CompletedAt.UTC()
	}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}

	var errMsg interface{}
	if exec.Error != "" {
		errMsg = exec.Error
	}

	_, err := s.db.Exec(query,
		exec.ID,
		exec.DefinitionID,
		exec.InstanceID,
		exec.Status,
		startedAt,
		completedAt,
		durationMs,
		errMsg,
		exec.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record execution")
	}

	return nil
}

// ListByDefinition returns recent executions for a definition, newest first.
func (s *ExecutionStore) ListByDefinition(definitionID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, definition_id, instance_id, status,
		       started_at, completed_at, duration_ms, error, created_at
		FROM job_executions
		WHERE definition_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, definitionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var exec Execution
		var startedAt, completedAt sql.NullTime
		var durationMs sql.NullInt64
		var errMsg sql.NullString

		err := rows.Scan(
			&exec.ID,
			&exec.DefinitionID,
			&exec.InstanceID,
			&exec.Status,
			&startedAt,
			&completedAt,
			&durationMs,
			&errMsg,
			&exec.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}

		if startedAt.Valid {
			t := startedAt.Time
			exec.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			exec.CompletedAt = &t
		}
		if durationMs.Valid {
			d := int(durationMs.Int64)
			exec.DurationMs = &d
		}
		exec.Error = errMsg.String

		execs = append(execs, &exec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}

	return execs, nil
}
