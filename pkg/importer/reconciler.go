// Package importer implements the feed ingestion pipeline: reconciling
// normalized entries against the job store, aggregating per-entry outcomes
// in bounded batches, coordinating one ingestion task end to end, and
// producing queued work.
package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jobsink/jobsink/pkg/domain"
	"github.com/jobsink/jobsink/pkg/repository"
)

// Outcome classifies one reconciled entry
type Outcome int

// reconciliation outcomes
const (
	OutcomeNew Outcome = iota
	OutcomeUpdated
)

// JobStore is the storage surface the reconciler needs
type JobStore interface {
	Find(ctx context.Context, sourceURL, externalID, link string) (*domain.Job, error)
	Create(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, id int64, job *domain.Job) error
}

// Reconciler classifies and persists canonical entries against the job
// store: create on first sighting of a dedup key, wholesale update on every
// later one. Exactly one write per call on both branches.
type Reconciler struct {
	jobs JobStore
}

// NewReconciler creates a reconciler on top of the given job store
func NewReconciler(jobs JobStore) *Reconciler {
	return &Reconciler{jobs: jobs}
}

// Reconcile persists one entry and reports whether it was new or updated.
// The lookup and the write are not atomic; when a concurrent task wins the
// create race the resulting uniqueness conflict is resolved by retrying the
// entry as an update instead of surfacing it as a failure.
func (r *Reconciler) Reconcile(ctx context.Context, entry domain.Entry) (Outcome, error) {
	existing, err := r.jobs.Find(ctx, entry.SourceURL, entry.ExternalID, entry.Link)
	if err != nil {
		return 0, fmt.Errorf("lookup job: %w", err)
	}

	job := jobFromEntry(entry)

	if existing == nil {
		createErr := r.jobs.Create(ctx, job)
		if createErr == nil {
			return OutcomeNew, nil
		}
		if !errors.Is(createErr, repository.ErrConflict) {
			return 0, fmt.Errorf("create job: %w", createErr)
		}

		// lost the create race, the record exists now
		existing, err = r.jobs.Find(ctx, entry.SourceURL, entry.ExternalID, entry.Link)
		if err != nil {
			return 0, fmt.Errorf("lookup job after conflict: %w", err)
		}
		if existing == nil {
			return 0, fmt.Errorf("create job: %w", createErr)
		}
	}

	if err := r.jobs.Update(ctx, existing.ID, job); err != nil {
		return 0, fmt.Errorf("update job: %w", err)
	}
	return OutcomeUpdated, nil
}

// jobFromEntry maps a canonical entry onto a persistable job record
func jobFromEntry(entry domain.Entry) *domain.Job {
	return &domain.Job{
		ExternalID:  entry.ExternalID,
		SourceURL:   entry.SourceURL,
		Title:       entry.Title,
		Company:     entry.Company,
		Location:    entry.Location,
		Type:        entry.Type,
		Description: entry.Description,
		Link:        entry.Link,
		PublishedAt: entry.PublishedAt,
		Raw:         entry.Raw,
	}
}
