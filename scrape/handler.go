package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/jobs"
)

// HandlerName is the job kind for scrape instances.
const HandlerName = "scrape"

// upsertConcurrency bounds how many scraped events are persisted at once.
const upsertConcurrency = 4

// Payload is the scrape job payload: which source to scrape and its
// opaque per-source options.
type Payload struct {
	Source  string            `json:"source"`
	Options map[string]string `json:"options,omitempty"`
}

// Handler runs a registered scraper and upserts what it found.
type Handler struct {
	registry *Registry
	events   *event.Store
	logger   *zap.SugaredLogger
}

// NewHandler creates the scrape job handler.
func NewHandler(registry *Registry, events *event.Store, log *zap.SugaredLogger) *Handler {
	return &Handler{
		registry: registry,
		events:   events,
		logger:   log.Named("scrape"),
	}
}

// Name implements jobs.Handler.
func (h *Handler) Name() string {
	return HandlerName
}

// Execute implements jobs.Handler. A failed scraper run is transient and
// retried by the pool; a payload that cannot identify a source is a data
// error and is not.
func (h *Handler) Execute(ctx context.Context, inst *jobs.Instance) error {
	var payload Payload
	if err := json.Unmarshal(inst.Payload, &payload); err != nil {
		return errors.Mark(
			errors.Wrap(err, "malformed scrape payload"),
			errors.ErrInvalidPayload,
		)
	}
	if payload.Source == "" {
		return errors.Mark(
			errors.New("scrape payload missing source"),
			errors.ErrInvalidPayload,
		)
	}

	scraper := h.registry.Get(payload.Source)
	if scraper == nil {
		return errors.Mark(
			errors.Newf("no scraper registered for source: %s", payload.Source),
			errors.ErrInvalidPayload,
		)
	}

	// Respect the per-source rate cap before touching the source at all
	if limiter := h.registry.Limiter(payload.Source); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit wait cancelled")
		}
	}

	result, err := scraper.Run(ctx, payload.Source, payload.Options)
	if err != nil {
		return errors.Wrapf(err, "scraper run failed for source %s", payload.Source)
	}

	upserted, failed, err := h.persist(ctx, result.Events)
	if err != nil {
		// Shutdown landed between the scrape and the upserts. The
		// instance must not be recorded as done with events missing.
		return errors.Wrapf(err, "persist interrupted for source %s", payload.Source)
	}

	h.logger.Infow("Scrape complete",
		"source", payload.Source,
		"events_found", result.EventsFound,
		"upserted", upserted,
		"failed", failed)

	inst.Result = fmt.Sprintf("source %s: found %d, upserted %d, failed %d",
		payload.Source, result.EventsFound, upserted, failed)

	if failed > 0 {
		return errors.Newf("scrape persisted with %d upsert failures", failed)
	}
	return nil
}

// persist upserts scraped events with bounded concurrency. One bad event
// does not abort the batch; failures are counted and logged. Cancellation
// does abort it, and is returned so the caller never mistakes an
// interrupted batch for a finished one.
func (h *Handler) persist(ctx context.Context, events []*event.Event) (upserted, failed int, err error) {
	var okCount, failCount atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)

	for _, e := range events {
		e := e
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := h.events.Upsert(e); err != nil {
				failCount.Add(1)
				h.logger.Warnw("Failed to upsert scraped event",
					"source", e.Source,
					"external_id", e.ExternalID,
					"title", e.Title,
					"error", err)
				return nil
			}
			okCount.Add(1)
			return nil
		})
	}

	// Workers only return ctx.Err(); upsert failures are counted, not raised
	err = g.Wait()

	return int(okCount.Load()), int(failCount.Load()), err
}
