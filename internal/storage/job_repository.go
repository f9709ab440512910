package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"medianest/internal/models"
)

// JobRepository is the data access layer for download jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, source_url, kind, format,
	title, thumbnail_ref, author_name, duration_seconds, item_count,
	status, progress_percent, transfer_rate, eta_seconds, queue_position,
	error_message, result_ref, created_at, updated_at, completed_at`

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *models.DownloadJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `INSERT INTO download_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.SourceURL, job.Kind, job.Format,
		job.Title, job.ThumbnailRef, job.AuthorName, job.DurationSeconds, job.ItemCount,
		job.Status, job.ProgressPercent, job.TransferRate, job.EtaSeconds, job.QueuePosition,
		job.ErrorMessage, job.ResultRef, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	return err
}

// GetByID fetches a job by ID. Returns nil when the job does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.DownloadJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM download_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update writes all mutable fields of the job back to the store.
func (r *JobRepository) Update(ctx context.Context, job *models.DownloadJob) error {
	job.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `UPDATE download_jobs SET
		title = ?, thumbnail_ref = ?, author_name = ?, duration_seconds = ?, item_count = ?,
		status = ?, progress_percent = ?, transfer_rate = ?, eta_seconds = ?, queue_position = ?,
		error_message = ?, result_ref = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		job.Title, job.ThumbnailRef, job.AuthorName, job.DurationSeconds, job.ItemCount,
		job.Status, job.ProgressPercent, job.TransferRate, job.EtaSeconds, job.QueuePosition,
		job.ErrorMessage, job.ResultRef, job.UpdatedAt, job.CompletedAt,
		job.ID)
	return err
}

// UpdateQueuePosition rewrites only the queue position of a job.
func (r *JobRepository) UpdateQueuePosition(ctx context.Context, id string, position *int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE download_jobs SET queue_position = ?, updated_at = ? WHERE id = ?`,
		position, time.Now().UTC(), id)
	return err
}

// Delete removes a job record.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM download_jobs WHERE id = ?`, id)
	return err
}

// ListOptions filters a job listing.
type ListOptions struct {
	Status string
	Query  string
	Limit  int
	Offset int
}

// ListByUser returns the user's jobs, newest first, with optional filters.
func (r *JobRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*models.DownloadJob, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM download_jobs WHERE user_id = ?`
	args := []any{userID}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	if opts.Query != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+opts.Query+"%")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListUnfinished returns all jobs in a non-terminal state, oldest first.
// Used to recover the queue on startup.
func (r *JobRepository) ListUnfinished(ctx context.Context) ([]*models.DownloadJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM download_jobs
		WHERE status IN (?, ?, ?, ?) ORDER BY created_at ASC`,
		models.StatusValidating, models.StatusQueued, models.StatusDownloading, models.StatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus returns the user's job counts keyed by status.
func (r *JobRepository) CountByStatus(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM download_jobs WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.DownloadJob, error) {
	var job models.DownloadJob
	var transferRate, etaSeconds sql.NullInt64
	var queuePosition sql.NullInt64
	var errorMessage, resultRef sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.UserID, &job.SourceURL, &job.Kind, &job.Format,
		&job.Title, &job.ThumbnailRef, &job.AuthorName, &job.DurationSeconds, &job.ItemCount,
		&job.Status, &job.ProgressPercent, &transferRate, &etaSeconds, &queuePosition,
		&errorMessage, &resultRef, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if transferRate.Valid {
		job.TransferRate = &transferRate.Int64
	}
	if etaSeconds.Valid {
		job.EtaSeconds = &etaSeconds.Int64
	}
	if queuePosition.Valid {
		pos := int(queuePosition.Int64)
		job.QueuePosition = &pos
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if resultRef.Valid {
		job.ResultRef = &resultRef.String
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.DownloadJob, error) {
	var jobs []*models.DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
