package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/internal/httpclient"
)

// feedItem is one entry in a JSON event feed.
type feedItem struct {
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title"`
	Venue      string     `json:"venue"`
	URL        string     `json:"url"`
	StartAt    time.Time  `json:"start_at"`
	EndAt      *time.Time `json:"end_at"`
}

// FeedScraper fetches a JSON feed of events over HTTP. It is the default
// collaborator for sources that publish a structured feed; sources that
// need real HTML parsing register their own Scraper instead.
//
// The feed URL comes from the source options under "url".
type FeedScraper struct {
	client *httpclient.Client
}

// NewFeedScraper creates a feed scraper with a bounded request timeout.
// Feed URLs come from operator config, so the client refuses requests to
// loopback and private addresses.
func NewFeedScraper(timeout time.Duration) *FeedScraper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedScraper{client: httpclient.New(timeout)}
}

// NewFeedScraperWithClient creates a feed scraper on a specific client.
// Lets operators whose feeds live inside their own network pass an
// unguarded client.
func NewFeedScraperWithClient(client *httpclient.Client) *FeedScraper {
	return &FeedScraper{client: client}
}

// Run implements Scraper.
func (f *FeedScraper) Run(ctx context.Context, source string, options map[string]string) (*Result, error) {
	feedURL := options["url"]
	if feedURL == "" {
		return nil, errors.Mark(
			errors.Newf("source %s has no feed url configured", source),
			errors.ErrInvalidPayload,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build feed request for %s", source)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "feed fetch failed for %s", source)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("feed fetch for %s returned status %d", source, resp.StatusCode)
	}

	var items []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, errors.Wrapf(err, "failed to decode feed for %s", source)
	}

	result := &Result{EventsFound: len(items)}
	for _, item := range items {
		if item.ExternalID == "" || item.Title == "" || item.StartAt.IsZero() {
			continue
		}
		e := event.New(source, item.ExternalID, item.Title, item.StartAt)
		e.Venue = item.Venue
		e.URL = item.URL
		if item.EndAt != nil {
			endAt := item.EndAt.UTC()
			e.EndAt = &endAt
		}
		result.Events = append(result.Events, e)
	}

	return result, nil
}
