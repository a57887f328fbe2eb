package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/jobsink/jobsink/pkg/domain"
	"github.com/jobsink/jobsink/pkg/feed"
)

// maxRecordedFailures caps the failures list persisted with a result so a
// pathological feed cannot blow up the record size
const maxRecordedFailures = 100

// Fetcher retrieves and parses a feed document
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// ResultStore persists import results
type ResultStore interface {
	Create(ctx context.Context, result *domain.ImportResult) error
}

// Publisher announces completed import results
type Publisher interface {
	Publish(ctx context.Context, result *domain.ImportResult) error
}

// Coordinator executes one ingestion task end to end: fetch, normalize,
// reconcile in batches, persist the result record and announce it. It is
// the queue handler; the returned error is what engages the queue's retry
// policy.
type Coordinator struct {
	fetcher    Fetcher
	aggregator *Aggregator
	results    ResultStore
	notifier   Publisher
}

// NewCoordinator creates a coordinator from its collaborators
func NewCoordinator(fetcher Fetcher, aggregator *Aggregator, results ResultStore, notifier Publisher) *Coordinator {
	return &Coordinator{fetcher: fetcher, aggregator: aggregator, results: results, notifier: notifier}
}

// Process handles one task. Every execution, including a failed fetch,
// produces exactly one persisted and published result record; only a fetch
// failure is propagated so the queue re-attempts the whole task.
func (c *Coordinator) Process(ctx context.Context, task domain.Task) error {
	lgr.Printf("[INFO] importing feed %s (trigger %s, attempt %d)", task.URL, task.Trigger, task.Attempt)
	started := time.Now()

	result := &domain.ImportResult{
		SourceURL: task.URL,
		Timestamp: time.Now().UTC(),
	}

	parsed, err := c.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		// top-level failure path: one synthetic failure, nothing processed
		result.FailedJobs = 1
		result.Failures = []domain.EntryFailure{{Reason: err.Error()}}
		c.finalize(ctx, result)
		return fmt.Errorf("fetch %s: %w", task.URL, err)
	}

	entries := feed.Normalize(parsed, task.URL)
	result.TotalFetched = len(entries)

	summary := c.aggregator.Run(ctx, entries)
	result.NewJobs = summary.New
	result.UpdatedJobs = summary.Updated
	result.TotalImported = summary.New + summary.Updated
	result.FailedJobs = len(summary.Failures)
	if len(summary.Failures) > maxRecordedFailures {
		summary.Failures = summary.Failures[:maxRecordedFailures]
	}
	result.Failures = summary.Failures

	c.finalize(ctx, result)

	lgr.Printf("[INFO] imported feed %s in %v: %d fetched, %d new, %d updated, %d failed",
		task.URL, time.Since(started).Round(time.Millisecond),
		result.TotalFetched, result.NewJobs, result.UpdatedJobs, result.FailedJobs)
	return nil
}

// finalize persists the result record once and publishes it best-effort
func (c *Coordinator) finalize(ctx context.Context, result *domain.ImportResult) {
	if err := c.results.Create(ctx, result); err != nil {
		lgr.Printf("[ERROR] failed to persist import result for %s: %v", result.SourceURL, err)
	}

	// notification is best-effort and never affects the task outcome
	if err := c.notifier.Publish(ctx, result); err != nil {
		lgr.Printf("[WARN] failed to publish import result for %s: %v", result.SourceURL, err)
	}
}
