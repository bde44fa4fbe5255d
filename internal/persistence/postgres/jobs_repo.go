package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/persistence"
)

// jobsRepo implements JobsRepo for PostgreSQL.
type jobsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJobsRepo creates a PostgreSQL job-status repository.
func NewJobsRepo(db *sqlx.DB, timeout time.Duration) persistence.JobsRepo {
	return &jobsRepo{db: db, timeout: timeout}
}

func (r *jobsRepo) RecordRun(ctx context.Context, run persistence.JobRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detail, err := json.Marshal(run.Detail)
	if err != nil {
		return wrapErr("marshal job detail", err)
	}
	if run.Detail == nil {
		detail = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_name, status, last_run_at, duration_ms, last_error, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_name) DO UPDATE SET
			status = EXCLUDED.status,
			last_run_at = EXCLUDED.last_run_at,
			duration_ms = EXCLUDED.duration_ms,
			last_error = EXCLUDED.last_error,
			detail = EXCLUDED.detail`,
		run.JobName, run.Status, run.LastRunAt, run.DurationMS, run.LastError, detail)
	return wrapErr("record job run", err)
}

func (r *jobsRepo) Get(ctx context.Context, jobName string) (persistence.JobRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row jobRow
	query := `SELECT job_name, status, last_run_at, duration_ms, last_error, detail FROM job_runs WHERE job_name = $1`
	if err := r.db.GetContext(ctx, &row, query, jobName); err != nil {
		return persistence.JobRun{}, wrapErr("get job run", err)
	}
	return row.toRun()
}

func (r *jobsRepo) List(ctx context.Context) ([]persistence.JobRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []jobRow
	query := `SELECT job_name, status, last_run_at, duration_ms, last_error, detail FROM job_runs ORDER BY job_name`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrapErr("list job runs", err)
	}

	out := make([]persistence.JobRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

type jobRow struct {
	JobName    string    `db:"job_name"`
	Status     string    `db:"status"`
	LastRunAt  time.Time `db:"last_run_at"`
	DurationMS int64     `db:"duration_ms"`
	LastError  string    `db:"last_error"`
	Detail     []byte    `db:"detail"`
}

func (r jobRow) toRun() (persistence.JobRun, error) {
	run := persistence.JobRun{
		JobName:    r.JobName,
		Status:     r.Status,
		LastRunAt:  r.LastRunAt,
		DurationMS: r.DurationMS,
		LastError:  r.LastError,
	}
	if len(r.Detail) > 0 {
		if err := json.Unmarshal(r.Detail, &run.Detail); err != nil {
			return persistence.JobRun{}, wrapErr("unmarshal job detail", err)
		}
	}
	return run, nil
}
