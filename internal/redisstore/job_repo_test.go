package redisstore

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

func TestJobRepository_Lifecycle(t *testing.T) {
	addr := os.Getenv("BOOTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BOOTH_TEST_REDIS_ADDR not set")
	}
	client := NewClient(Config{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewJobRepository(client, time.Minute)

	ctx := context.Background()
	id := uuid.NewString()
	job := domain.CompositeJob{SessionID: id, AssetA: "a", AssetB: "b", Status: domain.JobQueued, CreatedAt: time.Now()}

	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, job), domain.ErrJobExists)

	pending, err := repo.Pending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pendingIDs(t, pending), id)

	_, err = repo.Transition(ctx, id, composite.Transition{To: domain.JobProcessing})
	require.NoError(t, err)
	done, err := repo.Transition(ctx, id, composite.Transition{To: domain.JobDone, ResultRef: "ref", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "ref", done.ResultRef)

	pending, err = repo.Pending(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pendingIDs(t, pending), id)

	_, err = repo.Transition(ctx, id, composite.Transition{To: domain.JobError, Error: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, got.Status)

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
