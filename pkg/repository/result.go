package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jobsink/jobsink/pkg/domain"
)

// ResultRepository handles import result database operations. Results are
// append-only: records are created once at the end of a task and never
// updated afterwards.
type ResultRepository struct {
	db *sqlx.DB
}

// resultSQL represents an import result for SQL operations
type resultSQL struct {
	ID            int64       `db:"id"`
	SourceURL     string      `db:"source_url"`
	Timestamp     time.Time   `db:"timestamp"`
	TotalFetched  int         `db:"total_fetched"`
	TotalImported int         `db:"total_imported"`
	NewJobs       int         `db:"new_jobs"`
	UpdatedJobs   int         `db:"updated_jobs"`
	FailedJobs    int         `db:"failed_jobs"`
	Failures      failuresSQL `db:"failures"`
}

// failuresSQL is a JSON array of entry failures for SQL operations
type failuresSQL []domain.EntryFailure

// Value implements driver.Valuer for database storage
func (f failuresSQL) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval
func (f *failuresSQL) Scan(value interface{}) error {
	if value == nil {
		*f = failuresSQL{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		*f = failuresSQL{}
		return nil
	}

	return json.Unmarshal(data, f)
}

// ResultFilter defines criteria for listing import results
type ResultFilter struct {
	SourceURL  string // substring match
	Since      *time.Time
	Until      *time.Time
	FailedOnly bool
	Limit      int
	Offset     int
}

// NewResultRepository creates a new result repository
func NewResultRepository(database *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: database}
}

// Create persists an import result and sets its ID. Lock errors are
// retried with backoff so a finished task doesn't lose its audit record
// to a transient busy database.
func (r *ResultRepository) Create(ctx context.Context, result *domain.ImportResult) error {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	sqlResult := &resultSQL{
		SourceURL:     result.SourceURL,
		Timestamp:     result.Timestamp,
		TotalFetched:  result.TotalFetched,
		TotalImported: result.TotalImported,
		NewJobs:       result.NewJobs,
		UpdatedJobs:   result.UpdatedJobs,
		FailedJobs:    result.FailedJobs,
		Failures:      failuresSQL(result.Failures),
	}

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			INSERT INTO import_results (
				source_url, timestamp, total_fetched, total_imported,
				new_jobs, updated_jobs, failed_jobs, failures
			) VALUES (
				:source_url, :timestamp, :total_fetched, :total_imported,
				:new_jobs, :updated_jobs, :failed_jobs, :failures
			)
		`
		res, err := r.db.NamedExecContext(ctx, query, sqlResult)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("create import result: %w", err)}
		}

		id, err := res.LastInsertId()
		if err != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
		}
		result.ID = id
		return nil
	})
}

// Get retrieves a single import result by ID. Returns nil without error
// when no record matches.
func (r *ResultRepository) Get(ctx context.Context, id int64) (*domain.ImportResult, error) {
	var sqlResult resultSQL
	err := r.db.GetContext(ctx, &sqlResult, "SELECT * FROM import_results WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get import result: %w", err)
	}
	return toDomainResult(&sqlResult), nil
}

// List retrieves import results matching the filter, newest first,
// along with the total number of matching records.
func (r *ResultRepository) List(ctx context.Context, filter ResultFilter) ([]domain.ImportResult, int, error) {
	where, args := buildResultWhere(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM import_results" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count import results: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT * FROM import_results" + where + " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	var sqlResults []resultSQL
	if err := r.db.SelectContext(ctx, &sqlResults, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list import results: %w", err)
	}

	results := make([]domain.ImportResult, len(sqlResults))
	for i, res := range sqlResults {
		results[i] = *toDomainResult(&res)
	}
	return results, total, nil
}

// buildResultWhere assembles the WHERE clause for List and its args
func buildResultWhere(filter ResultFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.SourceURL != "" {
		conds = append(conds, "source_url LIKE ?")
		args = append(args, "%"+filter.SourceURL+"%")
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, *filter.Until)
	}
	if filter.FailedOnly {
		conds = append(conds, "failed_jobs > 0")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// toDomainResult converts resultSQL to domain.ImportResult
func toDomainResult(sqlResult *resultSQL) *domain.ImportResult {
	return &domain.ImportResult{
		ID:            sqlResult.ID,
		SourceURL:     sqlResult.SourceURL,
		Timestamp:     sqlResult.Timestamp,
		TotalFetched:  sqlResult.TotalFetched,
		TotalImported: sqlResult.TotalImported,
		NewJobs:       sqlResult.NewJobs,
		UpdatedJobs:   sqlResult.UpdatedJobs,
		FailedJobs:    sqlResult.FailedJobs,
		Failures:      []domain.EntryFailure(sqlResult.Failures),
	}
}
