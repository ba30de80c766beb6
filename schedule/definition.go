// Package schedule provides idempotent recurring job registration and the
// ticker that materializes due definitions into job instances.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
)

// Definition is a recurring job: a logical ID, the handler kind it fires,
// a payload, and a cron spec. Registering the same ID twice yields one
// recurring series, not two.
type Definition struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Spec      string          `json:"spec"`
	Active    bool            `json:"active"`
	NextRunAt time.Time       `json:"next_run_at"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Parser accepts standard five-field cron specs plus descriptors
// like @hourly and @every 2h.
var Parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)
