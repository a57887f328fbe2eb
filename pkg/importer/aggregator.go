package importer

import (
	"context"
	"sync"

	"github.com/jobsink/jobsink/pkg/domain"
)

// EntryReconciler persists one canonical entry and classifies the outcome
type EntryReconciler interface {
	Reconcile(ctx context.Context, entry domain.Entry) (Outcome, error)
}

// Summary aggregates per-entry outcomes across all batches of one task
type Summary struct {
	New      int
	Updated  int
	Failures []domain.EntryFailure
}

// Aggregator runs entries through the reconciler in bounded consecutive
// batches. Entries within a batch run in parallel; a batch completes only
// when every entry's outcome is known, then the next batch starts.
type Aggregator struct {
	reconciler EntryReconciler
	batchSize  int
}

// NewAggregator creates an aggregator with the given batch size
func NewAggregator(reconciler EntryReconciler, batchSize int) *Aggregator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Aggregator{reconciler: reconciler, batchSize: batchSize}
}

// Run reconciles all entries and returns the aggregated totals. A failing
// entry is recorded with its identifier and reason and never aborts the
// batch or the batches after it. The failures list is returned uncapped,
// truncation is the caller's concern.
func (a *Aggregator) Run(ctx context.Context, entries []domain.Entry) Summary {
	var summary Summary

	for start := 0; start < len(entries); start += a.batchSize {
		end := start + a.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		a.runBatch(ctx, entries[start:end], &summary)
	}

	return summary
}

// entryResult is the settled outcome of one entry within a batch
type entryResult struct {
	outcome Outcome
	err     error
}

// runBatch reconciles one batch concurrently and folds the outcomes, in
// entry order, into the summary
func (a *Aggregator) runBatch(ctx context.Context, batch []domain.Entry, summary *Summary) {
	results := make([]entryResult, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := a.reconciler.Reconcile(ctx, batch[i])
			results[i] = entryResult{outcome: outcome, err: err}
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.err != nil {
			summary.Failures = append(summary.Failures, domain.EntryFailure{
				ExternalID: batch[i].ExternalID,
				Link:       batch[i].Link,
				Reason:     res.err.Error(),
			})
			continue
		}
		switch res.outcome {
		case OutcomeNew:
			summary.New++
		case OutcomeUpdated:
			summary.Updated++
		}
	}
}
