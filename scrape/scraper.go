// Package scrape runs per-source scrapers as background jobs and upserts
// their results into the event store.
package scrape

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gigwatch/gigwatch/event"
)

// Result is what a scraper run produced.
type Result struct {
	EventsFound int
	Events      []*event.Event
}

// Scraper fetches events from one external source. Implementations own
// the per-source fetching and parsing; the handler owns persistence,
// retries, and rate limiting.
type Scraper interface {
	Run(ctx context.Context, source string, options map[string]string) (*Result, error)
}

// ScraperFunc adapts a function to the Scraper interface.
type ScraperFunc func(ctx context.Context, source string, options map[string]string) (*Result, error)

// Run implements Scraper.
func (f ScraperFunc) Run(ctx context.Context, source string, options map[string]string) (*Result, error) {
	return f(ctx, source, options)
}

// Registry maps source names to scrapers and their rate limiters.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	scrapers map[string]Scraper
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRegistry creates an empty scraper registry.
func NewRegistry() *Registry {
	return &Registry{
		scrapers: make(map[string]Scraper),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register binds a scraper to a source name with a request rate cap.
// ratePerSecond <= 0 means unlimited.
func (r *Registry) Register(source string, scraper Scraper, ratePerSecond float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scrapers[source] = scraper
	if ratePerSecond > 0 {
		r.limiters[source] = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
}

// Get returns the scraper for a source, or nil.
func (r *Registry) Get(source string) Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scrapers[source]
}

// Limiter returns the rate limiter for a source, or nil when unlimited.
func (r *Registry) Limiter(source string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[source]
}

// Sources returns all registered source names.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		sources = append(sources, name)
	}
	return sources
}
