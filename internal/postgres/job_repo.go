package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/booth-service/internal/composite"
	"github.com/cwrk-planet/booth-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectJob = `
	SELECT session_id, asset_a, asset_b, layout, filter, status, result_ref, error, created_at, completed_at
	FROM composite_jobs`

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job domain.CompositeJob) error {
	cmd, err := r.db.Exec(ctx, `
		INSERT INTO composite_jobs (session_id, asset_a, asset_b, layout, filter, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
	`, job.SessionID, job.AssetA, job.AssetB, string(job.Render.Layout), string(job.Render.Filter), string(job.Status), job.CreatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrJobExists
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, sessionID string) (domain.CompositeJob, error) {
	return scanJob(r.db.QueryRow(ctx, selectJob+` WHERE session_id=$1`, sessionID))
}

// Transition locks the row and applies t only from a status that allows it.
func (r *JobRepository) Transition(ctx context.Context, sessionID string, t composite.Transition) (domain.CompositeJob, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.CompositeJob{}, err
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, selectJob+` WHERE session_id=$1 FOR UPDATE`, sessionID))
	if err != nil {
		return domain.CompositeJob{}, err
	}
	next, err := t.Apply(job)
	if err != nil {
		return job, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE composite_jobs
		SET status=$2, result_ref=$3, error=$4, completed_at=$5
		WHERE session_id=$1
	`, sessionID, string(next.Status), next.ResultRef, next.Error, next.CompletedAt); err != nil {
		return job, err
	}
	if err := tx.Commit(ctx); err != nil {
		return job, err
	}
	return next, nil
}

func (r *JobRepository) Pending(ctx context.Context) ([]domain.CompositeJob, error) {
	rows, err := r.db.Query(ctx, selectJob+` WHERE status IN ($1, $2) ORDER BY created_at`,
		string(domain.JobQueued), string(domain.JobProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CompositeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Purge deletes terminal jobs completed before cutoff.
func (r *JobRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx,
		`DELETE FROM composite_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanJob(row pgx.Row) (domain.CompositeJob, error) {
	var (
		j              domain.CompositeJob
		layout, filter string
		status         string
	)
	err := row.Scan(&j.SessionID, &j.AssetA, &j.AssetB, &layout, &filter, &status,
		&j.ResultRef, &j.Error, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CompositeJob{}, domain.ErrJobNotFound
		}
		return domain.CompositeJob{}, fmt.Errorf("scan job: %w", err)
	}
	j.Render = domain.RenderConfig{Layout: domain.Layout(layout), Filter: domain.Filter(filter)}
	j.Status = domain.JobStatus(status)
	return j, nil
}
