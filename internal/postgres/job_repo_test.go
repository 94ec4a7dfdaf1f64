package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cwrk-planet/booth-service/internal/composite"
	"github.com/cwrk-planet/booth-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepo(t *testing.T) *JobRepository {
	t.Helper()
	dsn := os.Getenv("BOOTH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("BOOTH_TEST_PG_DSN not set")
	}
	require.NoError(t, MigrateUp(dsn))
	require.NoError(t, MigrateUp(dsn))

	ctx := context.Background()
	pool, err := NewPool(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewJobRepository(pool)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestJobRepository_Lifecycle(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	job := domain.CompositeJob{
		SessionID: id,
		AssetA:    "a",
		AssetB:    "b",
		Render:    domain.RenderConfig{Layout: domain.LayoutVertical, Filter: domain.FilterNoir},
		Status:    domain.JobQueued,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, job), domain.ErrJobExists)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, got.Status)
	assert.Equal(t, job.Render, got.Render)

	pending, err := repo.Pending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pendingIDs(t, pending), id)

	_, err = repo.Transition(ctx, id, composite.Transition{To: domain.JobDone})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.Transition(ctx, id, composite.Transition{To: domain.JobProcessing, At: time.Now()})
	require.NoError(t, err)
	done, err := repo.Transition(ctx, id, composite.Transition{To: domain.JobError, Error: "fetch asset b: boom", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.JobError, done.Status)
	require.NotNil(t, done.CompletedAt)

	pending, err = repo.Pending(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pendingIDs(t, pending), id)

	_, err = repo.Transition(ctx, id, composite.Transition{To: domain.JobDone, ResultRef: "r"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func pendingIDs(t *testing.T, jobs []domain.CompositeJob) []string {
	t.Helper()
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.SessionID)
	}
	return ids
}
