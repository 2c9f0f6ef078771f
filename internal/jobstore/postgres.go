package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `seq, job_id, version, payload, priority, status, worker_id, result, error_message,
	created_at, started_at, finished_at, last_heartbeat_at, updated_at`

// jobRow is the jobs table row layout
type jobRow struct {
	Seq             int64          `db:"seq"`
	JobID           string         `db:"job_id"`
	Version         int64          `db:"version"`
	Payload         domain.Payload `db:"payload"`
	Priority        int            `db:"priority"`
	Status          string         `db:"status"`
	WorkerID        sql.NullString `db:"worker_id"`
	Result          []byte         `db:"result"`
	ErrorMessage    sql.NullString `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
	LastHeartbeatAt sql.NullTime   `db:"last_heartbeat_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *jobRow) toJob() *domain.Job {
	job := &domain.Job{
		ID:        r.JobID,
		Seq:       r.Seq,
		Version:   r.Version,
		Payload:   r.Payload,
		Priority:  r.Priority,
		State:     domain.State(r.Status),
		WorkerID:  r.WorkerID.String,
		Error:     r.ErrorMessage.String,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Result) > 0 {
		job.Result = append([]byte(nil), r.Result...)
	}
	job.StartedAt = nullTime(r.StartedAt)
	job.FinishedAt = nullTime(r.FinishedAt)
	job.HeartbeatAt = nullTime(r.LastHeartbeatAt)
	return job
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// PostgresRepository stores jobs in PostgreSQL
type PostgresRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository instance
func NewPostgresRepository(db *sqlx.DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresRepository) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (job_id, payload, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, version
	`

	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.Payload,
		job.Priority,
		string(job.State),
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.Seq, &job.Version)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

func (s *PostgresRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob(), nil
}

func (s *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(states))
		argIdx++
	}

	if filter.AfterSeq > 0 {
		query += fmt.Sprintf(" AND seq > $%d", argIdx)
		args = append(args, filter.AfterSeq)
		argIdx++
	}

	// Insertion order, which is also insertion order within each state
	query += " ORDER BY seq ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

func (s *PostgresRepository) Delete(ctx context.Context, jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ErrJobNotFound
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

func (s *PostgresRepository) Reenqueue(ctx context.Context, jobID, newID string, at time.Time) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old jobRow
	err = tx.GetContext(ctx, &old, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO jobs (job_id, payload, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+jobColumns,
		newID, old.Payload, old.Priority, string(domain.StateQueued), at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit restart: %w", err)
	}

	return row.toJob(), nil
}

// ClaimNext locks the best queued row with SKIP LOCKED so concurrent workers
// never receive the same job
func (s *PostgresRepository) ClaimNext(ctx context.Context, workerID string, at time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    version = version + 1,
		    worker_id = $2,
		    started_at = $3,
		    last_heartbeat_at = $3,
		    updated_at = $3
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $4
			ORDER BY priority DESC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(domain.StateRunning), workerID, at, string(domain.StateQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", row.JobID),
		slog.String("worker_id", workerID),
		slog.Int("priority", row.Priority),
	)

	return row.toJob(), nil
}

func (s *PostgresRepository) Transition(ctx context.Context, jobID string, to domain.State, upd TransitionUpdate) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	sources := domain.SourcesOf(to)
	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = $1::text,
		    version = version + 1,
		    result = COALESCE($2::jsonb, result),
		    error_message = COALESCE(NULLIF($3::text, ''), error_message),
		    finished_at = CASE
				WHEN $1::text IN ('%s', '%s', '%s') THEN $4
				ELSE finished_at
			END,
		    updated_at = $4
		WHERE job_id = $5
		  AND status = ANY($6)
		  AND ($7::text = '' OR worker_id = $7::text)
		RETURNING %s
	`, domain.StateCompleted, domain.StateFailed, domain.StateCancelled, jobColumns)

	result := sql.NullString{String: string(upd.Result), Valid: len(upd.Result) > 0}

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(to), result, upd.Error, upd.At, jobID, pq.Array(from), upd.WorkerID)
	if err == nil {
		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", string(to)),
		)
		return row.toJob(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	// Nothing matched: tell a missing row apart from a refused transition
	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return nil, domain.NewTransitionError(jobID, domain.State(current), to)
}

// Touch updates the last_heartbeat_at timestamp for a running job
func (s *PostgresRepository) Touch(ctx context.Context, jobID string, at time.Time) (domain.State, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", domain.ErrJobNotFound
	}

	query := `
		UPDATE jobs
		SET last_heartbeat_at = $2,
		    updated_at = $2
		WHERE job_id = $1 AND status = $3
		RETURNING status
	`

	var status string
	err := s.db.GetContext(ctx, &status, query, jobID, at, string(domain.StateRunning))
	if err == nil {
		return domain.State(status), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	err = s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}

	s.logger.Warn("Job heartbeat update - job is not running",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return domain.State(status), nil
}

func (s *PostgresRepository) CountByState(ctx context.Context) (map[domain.State]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.State]int, len(rows))
	for _, r := range rows {
		counts[domain.State(strings.TrimSpace(r.Status))] = r.Count
	}
	return counts, nil
}

func (s *PostgresRepository) RecordWorker(ctx context.Context, beat domain.WorkerBeat) error {
	query := `
		INSERT INTO workers (worker_id, slots, busy, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (worker_id) DO UPDATE
		SET slots = EXCLUDED.slots,
		    busy = EXCLUDED.busy,
		    last_seen_at = EXCLUDED.last_seen_at
	`

	if _, err := s.db.ExecContext(ctx, query, beat.WorkerID, beat.Slots, beat.Busy, beat.LastSeenAt); err != nil {
		return fmt.Errorf("failed to record worker beat: %w", err)
	}
	return nil
}

func (s *PostgresRepository) CountActiveWorkers(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM workers WHERE last_seen_at >= $1`, since); err != nil {
		return 0, fmt.Errorf("failed to count workers: %w", err)
	}
	return n, nil
}

func (s *PostgresRepository) SumWorkerSlots(ctx context.Context, since time.Time) (int, int, error) {
	var sums struct {
		Busy  int `db:"busy"`
		Slots int `db:"slots"`
	}
	query := `
		SELECT COALESCE(SUM(busy), 0) AS busy, COALESCE(SUM(slots), 0) AS slots
		FROM workers
		WHERE last_seen_at >= $1
	`
	if err := s.db.GetContext(ctx, &sums, query, since); err != nil {
		return 0, 0, fmt.Errorf("failed to sum worker slots: %w", err)
	}
	return sums.Busy, sums.Slots, nil
}

func (s *PostgresRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
