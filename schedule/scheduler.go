package schedule

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gigwatch/gigwatch/errors"
)

// Scheduler registers recurring job definitions.
type Scheduler struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewScheduler creates a scheduler backed by the given store.
func NewScheduler(store *Store, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: log.Named("schedule"),
	}
}

// Register upserts a recurring definition keyed by logical ID. Calling it
// again with the same arguments is a no-op; calling it with a new spec or
// payload replaces the definition without duplicating the series. Crash
// between enqueue and registration is safe to replay.
//
// A malformed cron spec returns an error marked ErrScheduleInvalid. A
// store failure returns an error marked ErrStoreUnavailable so callers
// know the job is NOT registered; swallowing that would mean a recurring
// job that silently never runs.
func (s *Scheduler) Register(id, kind string, payload json.RawMessage, spec string) error {
	if id == "" {
		return errors.New("definition id cannot be empty")
	}
	if kind == "" {
		return errors.New("definition kind cannot be empty")
	}

	sched, err := Parser.Parse(spec)
	if err != nil {
		return errors.Mark(
			errors.Wrapf(err, "invalid cron spec %q for definition %s", spec, id),
			errors.ErrScheduleInvalid,
		)
	}

	def := &Definition{
		ID:        id,
		Kind:      kind,
		Payload:   payload,
		Spec:      spec,
		Active:    true,
		NextRunAt: sched.Next(time.Now().UTC()),
	}

	changed, err := s.store.Upsert(def)
	if err != nil {
		return errors.Mark(
			errors.Wrapf(err, "failed to register definition %s", id),
			errors.ErrStoreUnavailable,
		)
	}

	if changed {
		s.logger.Infow("Definition registered",
			"definition_id", id,
			"kind", kind,
			"spec", spec,
			"next_run_at", def.NextRunAt)
	} else {
		s.logger.Debugw("Definition unchanged",
			"definition_id", id,
			"kind", kind,
			"spec", spec)
	}

	return nil
}

// PruneExcept deactivates every active definition whose ID is not in keep.
// Runs after a config reload so removed sources stop firing; their history
// and a later re-registration both survive.
func (s *Scheduler) PruneExcept(keep []string) (int, error) {
	pruned, err := s.store.DeactivateMissing(keep)
	if err != nil {
		return 0, errors.Mark(
			errors.Wrap(err, "failed to prune definitions"),
			errors.ErrStoreUnavailable,
		)
	}
	if pruned > 0 {
		s.logger.Infow("Stale definitions deactivated", "count", pruned)
	}
	return pruned, nil
}

// Deactivate stops a recurring definition from firing.
func (s *Scheduler) Deactivate(id string) error {
	if err := s.store.Deactivate(id); err != nil {
		return err
	}
	s.logger.Infow("Definition deactivated", "definition_id", id)
	return nil
}
