package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jobsink/jobsink/pkg/domain"
)

// JobRepository handles job listing database operations
type JobRepository struct {
	db *sqlx.DB
}

// jobSQL represents a job for SQL operations
type jobSQL struct {
	ID          int64      `db:"id"`
	ExternalID  string     `db:"external_id"`
	SourceURL   string     `db:"source_url"`
	Title       string     `db:"title"`
	Company     string     `db:"company"`
	Location    string     `db:"location"`
	Type        string     `db:"type"`
	Description string     `db:"description"`
	Link        string     `db:"link"`
	PublishedAt *time.Time `db:"published_at"`
	Raw         string     `db:"raw"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// NewJobRepository creates a new job repository
func NewJobRepository(database *sqlx.DB) *JobRepository {
	return &JobRepository{db: database}
}

// Find looks up a job by its dedup key: (sourceURL, externalID) when the
// external id is present, (sourceURL, link) otherwise. Returns nil without
// error when no record matches.
func (r *JobRepository) Find(ctx context.Context, sourceURL, externalID, link string) (*domain.Job, error) {
	var sqlJob jobSQL
	var err error

	if externalID != "" {
		err = r.db.GetContext(ctx, &sqlJob,
			"SELECT * FROM jobs WHERE source_url = ? AND external_id = ?", sourceURL, externalID)
	} else {
		err = r.db.GetContext(ctx, &sqlJob,
			"SELECT * FROM jobs WHERE source_url = ? AND link = ?", sourceURL, link)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return toDomainJob(&sqlJob), nil
}

// Create inserts a new job. A violation of the (source_url, external_id)
// uniqueness constraint is reported as ErrConflict.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	sqlJob := fromDomainJob(job)

	query := `
		INSERT INTO jobs (
			external_id, source_url, title, company, location, type,
			description, link, published_at, raw
		) VALUES (
			:external_id, :source_url, :title, :company, :location, :type,
			:description, :link, :published_at, :raw
		)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlJob)
	if err != nil {
		if isConflictError(err) {
			return fmt.Errorf("create job: %w", ErrConflict)
		}
		return fmt.Errorf("create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	job.ID = id
	return nil
}

// Update overwrites all mutable fields of an existing job, wholesale
// replacement rather than field-level merge.
func (r *JobRepository) Update(ctx context.Context, id int64, job *domain.Job) error {
	sqlJob := fromDomainJob(job)
	sqlJob.ID = id

	query := `
		UPDATE jobs
		SET title = :title,
		    company = :company,
		    location = :location,
		    type = :type,
		    description = :description,
		    link = :link,
		    published_at = :published_at,
		    raw = :raw,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = :id
	`
	if _, err := r.db.NamedExecContext(ctx, query, sqlJob); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Search performs a free-text search across title, company and description
func (r *JobRepository) Search(ctx context.Context, query string, limit, offset int) ([]domain.Job, error) {
	sqlQuery := `
		SELECT j.* FROM jobs j
		JOIN jobs_fts fts ON j.id = fts.rowid
		WHERE jobs_fts MATCH ?
		ORDER BY rank
		LIMIT ? OFFSET ?
	`
	var sqlJobs []jobSQL
	if err := r.db.SelectContext(ctx, &sqlJobs, sqlQuery, query, limit, offset); err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}

	jobs := make([]domain.Job, len(sqlJobs))
	for i, j := range sqlJobs {
		jobs[i] = *toDomainJob(&j)
	}
	return jobs, nil
}

// Count returns the total number of persisted jobs
func (r *JobRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM jobs"); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// toDomainJob converts jobSQL to domain.Job
func toDomainJob(sqlJob *jobSQL) *domain.Job {
	job := &domain.Job{
		ID:          sqlJob.ID,
		ExternalID:  sqlJob.ExternalID,
		SourceURL:   sqlJob.SourceURL,
		Title:       sqlJob.Title,
		Company:     sqlJob.Company,
		Location:    sqlJob.Location,
		Type:        sqlJob.Type,
		Description: sqlJob.Description,
		Link:        sqlJob.Link,
		PublishedAt: sqlJob.PublishedAt,
		CreatedAt:   sqlJob.CreatedAt,
		UpdatedAt:   sqlJob.UpdatedAt,
	}
	if sqlJob.Raw != "" {
		job.Raw = json.RawMessage(sqlJob.Raw)
	}
	return job
}

// fromDomainJob converts domain.Job to jobSQL
func fromDomainJob(job *domain.Job) *jobSQL {
	return &jobSQL{
		ID:          job.ID,
		ExternalID:  job.ExternalID,
		SourceURL:   job.SourceURL,
		Title:       job.Title,
		Company:     job.Company,
		Location:    job.Location,
		Type:        job.Type,
		Description: job.Description,
		Link:        job.Link,
		PublishedAt: job.PublishedAt,
		Raw:         string(job.Raw),
	}
}
