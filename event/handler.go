package event

import (
	"context"
	"fmt"
	"time"

	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/jobs"
)

// StatusUpdateHandlerName is the job kind for the recurring expiry sweep.
const StatusUpdateHandlerName = "status-update"

// StatusUpdateHandler runs the expiry sweep as a background job.
type StatusUpdateHandler struct {
	manager *StatusManager
}

// NewStatusUpdateHandler creates the sweep job handler.
func NewStatusUpdateHandler(manager *StatusManager) *StatusUpdateHandler {
	return &StatusUpdateHandler{manager: manager}
}

// Name implements jobs.Handler.
func (h *StatusUpdateHandler) Name() string {
	return StatusUpdateHandlerName
}

// Execute implements jobs.Handler. The sweep takes no payload.
func (h *StatusUpdateHandler) Execute(ctx context.Context, inst *jobs.Instance) error {
	result, err := h.manager.SweepExpired(ctx, time.Now())
	if err != nil {
		return err
	}

	inst.Result = fmt.Sprintf("scanned %d, expired %d, skipped %d, failed %d",
		result.Scanned, result.Updated, result.Skipped, result.Failed)

	if result.Failed > 0 {
		// Partial failure: the sweep finished but some events stayed put.
		// Surface it so the attempt is retried; the conditional update
		// makes the rerun idempotent.
		return errors.Newf("sweep completed with %d failures", result.Failed)
	}
	return nil
}
