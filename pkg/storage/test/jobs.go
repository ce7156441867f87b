package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

func CreateAndGetRootJobTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("created_job_is_queued", func(t *testing.T) {
		job := newJob(t, ds, 12)

		got := getJob(t, ds, job.JobID)
		want := &storage.RootJob{
			JobID:         job.JobID,
			TextID:        job.TextID,
			TotalSegments: 12,
			Status:        storage.JobStatusQueued,
		}
		if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
		require.False(t, got.CreatedAt.IsZero())
		require.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("creating_twice_keeps_the_first_row", func(t *testing.T) {
		job := newJob(t, ds, 4)
		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 1))

		again := job
		again.TotalSegments = 99
		require.NoError(t, ds.CreateRootJob(ctx, again))

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 4, got.TotalSegments)
		require.Equal(t, 1, got.CompletedSegments)
		require.Equal(t, storage.JobStatusInProgress, got.Status)
	})

	t.Run("invalid_job_is_rejected", func(t *testing.T) {
		err := ds.CreateRootJob(ctx, storage.RootJob{JobID: id.NewJobID(), TextID: "text"})
		require.ErrorIs(t, err, storage.ErrInvalidJob)
	})

	t.Run("unknown_job_is_not_found", func(t *testing.T) {
		_, err := ds.GetRootJob(ctx, id.NewJobID())
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func GetLatestRootJobByTextIDTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("newest_job_of_the_text_wins", func(t *testing.T) {
		first := newJob(t, ds, 3)

		// Distinct creation times on engines that store coarse timestamps.
		time.Sleep(10 * time.Millisecond)

		second := storage.RootJob{JobID: id.NewJobID(), TextID: first.TextID, TotalSegments: 5}
		require.NoError(t, ds.CreateRootJob(ctx, second))
		require.NoError(t, ds.AdvanceJobProgress(ctx, first.JobID, 1))

		got, err := ds.GetLatestRootJobByTextID(ctx, first.TextID)
		require.NoError(t, err)
		require.Equal(t, second.JobID, got.JobID)
		require.Equal(t, 5, got.TotalSegments)
		require.Equal(t, storage.JobStatusQueued, got.Status)
	})

	t.Run("other_texts_are_ignored", func(t *testing.T) {
		job := newJob(t, ds, 2)
		newJob(t, ds, 2)

		got, err := ds.GetLatestRootJobByTextID(ctx, job.TextID)
		require.NoError(t, err)
		require.Equal(t, job.JobID, got.JobID)
	})

	t.Run("unknown_text_is_not_found", func(t *testing.T) {
		_, err := ds.GetLatestRootJobByTextID(ctx, "text-"+id.NewJobID())
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func AdvanceJobProgressTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("partial_progress_moves_to_in_progress", func(t *testing.T) {
		job := newJob(t, ds, 10)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 3))
		got := getJob(t, ds, job.JobID)
		require.Equal(t, 3, got.CompletedSegments)
		require.Equal(t, storage.JobStatusInProgress, got.Status)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 2))
		got = getJob(t, ds, job.JobID)
		require.Equal(t, 5, got.CompletedSegments)
		require.Equal(t, storage.JobStatusInProgress, got.Status)
	})

	t.Run("reaching_the_total_completes", func(t *testing.T) {
		job := newJob(t, ds, 5)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 3))
		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 2))

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 5, got.CompletedSegments)
		require.Equal(t, storage.JobStatusCompleted, got.Status)
	})

	t.Run("single_batch_job_completes_from_queued", func(t *testing.T) {
		job := newJob(t, ds, 2)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 2))

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 2, got.CompletedSegments)
		require.Equal(t, storage.JobStatusCompleted, got.Status)
	})

	t.Run("completed_job_is_not_advanced", func(t *testing.T) {
		job := newJob(t, ds, 2)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 2))
		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 2))

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 2, got.CompletedSegments)
		require.Equal(t, storage.JobStatusCompleted, got.Status)
	})

	t.Run("overshooting_the_total_completes", func(t *testing.T) {
		job := newJob(t, ds, 4)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 3))
		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 3))

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 6, got.CompletedSegments)
		require.Equal(t, storage.JobStatusCompleted, got.Status)
	})

	t.Run("concurrent_advances_are_not_lost", func(t *testing.T) {
		job := newJob(t, ds, 100)

		advanceConcurrently(t, ds, job.JobID, 50)

		got := getJob(t, ds, job.JobID)
		require.Equal(t, 50, got.CompletedSegments)
		require.Equal(t, storage.JobStatusInProgress, got.Status)
	})

	t.Run("concurrent_advances_past_the_total_stay_completed", func(t *testing.T) {
		job := newJob(t, ds, 10)

		advanceConcurrently(t, ds, job.JobID, 25)

		// Advances arriving after completion are dropped.
		got := getJob(t, ds, job.JobID)
		require.Equal(t, 10, got.CompletedSegments)
		require.Equal(t, storage.JobStatusCompleted, got.Status)

		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 1))
		require.Equal(t, storage.JobStatusCompleted, getJob(t, ds, job.JobID).Status)
	})

	t.Run("unknown_job_is_a_no_op", func(t *testing.T) {
		require.NoError(t, ds.AdvanceJobProgress(ctx, id.NewJobID(), 1))
	})

	t.Run("non_positive_increment_is_rejected", func(t *testing.T) {
		job := newJob(t, ds, 2)

		require.ErrorIs(t, ds.AdvanceJobProgress(ctx, job.JobID, 0), storage.ErrInvalidIncrement)
		require.ErrorIs(t, ds.AdvanceJobProgress(ctx, job.JobID, -1), storage.ErrInvalidIncrement)
		require.Equal(t, storage.JobStatusQueued, getJob(t, ds, job.JobID).Status)
	})
}

// advanceConcurrently advances the job by one from n goroutines at once.
func advanceConcurrently(t *testing.T, ds storage.MappingStore, jobID string, n int) {
	t.Helper()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ds.AdvanceJobProgress(context.Background(), jobID, 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
