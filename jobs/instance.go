// Package jobs provides durable background job processing with a worker pool.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gigwatch/gigwatch/errors"
)

// Status represents the current state of a job instance
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts is how many times an instance runs before it is
// permanently failed.
const DefaultMaxAttempts = 3

// Instance represents a single execution of a job.
//
// ARCHITECTURE: Generic job system with handler-based execution
// - Infrastructure (jobs package) is domain-agnostic
// - Domain packages provide handlers and payloads
// - Kind identifies which handler executes the instance
// - Payload contains handler-specific data (domain logic controls structure)
//
// Instances enqueued by the scheduler carry a DefinitionID and Slot; the
// store deduplicates on (definition, slot, attempt) so each fire time
// produces at most one instance per attempt.
type Instance struct {
	ID             string          `json:"id"`
	DefinitionID   string          `json:"definition_id,omitempty"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Slot           string          `json:"slot,omitempty"`
	Status         Status          `json:"status"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	RunAt          time.Time       `json:"run_at"`
	LockedBy       string          `json:"locked_by,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewInstance creates a pending instance for the given handler kind.
func NewInstance(kind string, payload json.RawMessage, runAt time.Time) (*Instance, error) {
	if kind == "" {
		return nil, errors.New("kind cannot be empty")
	}

	now := time.Now().UTC()
	return &Instance{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Status:      StatusPending,
		Attempt:     0,
		MaxAttempts: DefaultMaxAttempts,
		RunAt:       runAt.UTC(),
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}, nil
}

// NewScheduledInstance creates a pending instance bound to a recurring
// definition and fire-time slot. The slot key makes enqueues idempotent.
func NewScheduledInstance(definitionID, kind string, payload json.RawMessage, slot string, runAt time.Time) (*Instance, error) {
	inst, err := NewInstance(kind, payload, runAt)
	if err != nil {
		return nil, err
	}
	if definitionID == "" {
		return nil, errors.New("definitionID cannot be empty")
	}
	if slot == "" {
		return nil, errors.New("slot cannot be empty")
	}
	inst.DefinitionID = definitionID
	inst.Slot = slot
	return inst, nil
}

// Retryable reports whether a failed run of this instance should produce
// a successor attempt.
func (i *Instance) Retryable() bool {
	return i.Attempt+1 < i.MaxAttempts
}

// Successor builds the next-attempt instance after a failure. The caller
// supplies the backoff-delayed run time.
func (i *Instance) Successor(runAt time.Time) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:           uuid.NewString(),
		DefinitionID: i.DefinitionID,
		Kind:         i.Kind,
		Payload:      i.Payload,
		Slot:         i.Slot,
		Status:       StatusPending,
		Attempt:      i.Attempt + 1,
		MaxAttempts:  i.MaxAttempts,
		RunAt:        runAt.UTC(),
		EnqueuedAt:   now,
		UpdatedAt:    now,
	}
}
