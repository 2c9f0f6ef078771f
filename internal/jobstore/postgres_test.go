package jobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// newPostgresRepository connects to TEST_DATABASE_URL, migrates and empties
// the schema. Tests are skipped when the variable is unset.
func newPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db.DB, logger))
	_, err = db.ExecContext(ctx, `TRUNCATE jobs, workers`)
	require.NoError(t, err)

	return NewPostgresRepository(db, logger)
}

func TestPostgres_Lifecycle(t *testing.T) {
	repo := newPostgresRepository(t)
	store := NewStore(&Config{Repository: repo, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	job, err := store.Enqueue(ctx, domain.Payload{ProductID: "SKU", Size: "42"}, 2)
	require.NoError(t, err)
	assert.Positive(t, job.Seq)

	claimed, err := store.Claim(ctx, "pg-0")
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, "42", claimed.Payload.Size)
	assert.Equal(t, int64(1), job.Version)
	assert.Equal(t, int64(2), claimed.Version)

	require.NoError(t, store.Complete(ctx, job.ID, "pg-0", []byte(`{"order":"A1"}`)))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.JSONEq(t, `{"order":"A1"}`, string(got.Result))
	require.NotNil(t, got.FinishedAt)

	err = store.Fail(ctx, job.ID, "pg-0", "late")
	assert.True(t, IsDroppedWrite(err))

	restarted, err := store.Restart(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, restarted.State)
	assert.Greater(t, restarted.Seq, job.Seq)
	assert.Equal(t, int64(1), restarted.Version)

	require.NoError(t, store.Remove(ctx, restarted.ID))
	assert.ErrorIs(t, store.Remove(ctx, restarted.ID), domain.ErrJobNotFound)
	_, err = store.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestPostgres_ConcurrentClaims(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		now := time.Now().UTC()
		require.NoError(t, repo.Insert(ctx, &domain.Job{
			ID:        uuid.NewString(),
			Payload:   domain.Payload{ProductID: "SKU"},
			Priority:  i % 2,
			State:     domain.StateQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNext(ctx, "pg", time.Now().UTC())
				if errors.Is(err, domain.ErrNoJobAvailable) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestPostgres_ListAndCounts(t *testing.T) {
	repo := newPostgresRepository(t)
	store := NewStore(&Config{Repository: repo, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := store.Enqueue(ctx, domain.Payload{ProductID: "SKU"}, 0)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := store.Claim(ctx, "pg-0")
	require.NoError(t, err)

	page, err := store.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)

	queued, err := store.List(ctx, ListFilter{States: []domain.State{domain.StateQueued}, AfterSeq: page[1].Seq})
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	depth, err := store.DepthByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth[domain.StateQueued])
	assert.Equal(t, 1, depth[domain.StateRunning])

	require.NoError(t, store.RecordWorker(ctx, domain.WorkerBeat{WorkerID: "pg", Slots: 4}))
	n, err := store.ActiveWorkers(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	busy, slots, err := store.WorkerUsage(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, busy)
	assert.Equal(t, 4, slots)
}
