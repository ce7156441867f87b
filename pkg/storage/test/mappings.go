package test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

const (
	resultB = `[{"manifestation_id":"B","segments":[{"segment_id":"b1","span":{"start":200,"end":275}}]}]`
	resultC = `[{"manifestation_id":"C","segments":[]}]`
)

func UpsertSegmentMappingTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("upsert_twice_keeps_one_row_with_the_latest_result", func(t *testing.T) {
		job := newJob(t, ds, 1)

		require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte(resultB)))
		first, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, first, 1)

		require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte(resultC)))
		second, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, second, 1)

		got := second[0]
		require.Equal(t, first[0].ID, got.ID)
		require.True(t, id.IsValidRowID(got.ID))
		require.Equal(t, job.JobID, got.RootJobID)
		require.Equal(t, "s1", got.SegmentID)
		require.JSONEq(t, resultC, string(got.Result))
		require.Equal(t, storage.MappingStatusCompleted, got.Status)
		require.Empty(t, got.ErrorMessage)
		require.False(t, got.UpdatedAt.Before(first[0].UpdatedAt))
	})

	t.Run("unknown_job_is_not_found", func(t *testing.T) {
		err := ds.UpsertSegmentMapping(ctx, id.NewJobID(), "s1", []byte(resultB))
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("invalid_result_is_rejected", func(t *testing.T) {
		job := newJob(t, ds, 1)

		err := ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte("{not json"))
		require.ErrorIs(t, err, storage.ErrInvalidResult)

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Empty(t, mappings)
	})

	t.Run("concurrent_upserts_of_one_segment_leave_one_row", func(t *testing.T) {
		job := newJob(t, ds, 1)

		var wg sync.WaitGroup
		errs := make(chan error, 5)
		for i := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := fmt.Sprintf(`[{"manifestation_id":"M%d","segments":[]}]`, i)
				errs <- ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte(result))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		require.Equal(t, storage.MappingStatusCompleted, mappings[0].Status)
	})
}

func MarkSegmentFailedTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("failing_a_new_segment_stores_the_message", func(t *testing.T) {
		job := newJob(t, ds, 1)

		require.NoError(t, ds.MarkSegmentFailed(ctx, job.JobID, "s1", "unknown environment"))

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		require.Equal(t, storage.MappingStatusFailed, mappings[0].Status)
		require.Equal(t, "unknown environment", mappings[0].ErrorMessage)
		require.Nil(t, mappings[0].Result)
	})

	t.Run("failing_a_completed_segment_keeps_its_result", func(t *testing.T) {
		job := newJob(t, ds, 1)

		require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte(resultB)))
		require.NoError(t, ds.MarkSegmentFailed(ctx, job.JobID, "s1", "graph unavailable"))

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		require.Equal(t, storage.MappingStatusFailed, mappings[0].Status)
		require.Equal(t, "graph unavailable", mappings[0].ErrorMessage)
		require.JSONEq(t, resultB, string(mappings[0].Result))
	})

	t.Run("upsert_after_failure_clears_the_message", func(t *testing.T) {
		job := newJob(t, ds, 1)

		require.NoError(t, ds.MarkSegmentFailed(ctx, job.JobID, "s1", "timeout"))
		require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, "s1", []byte(resultC)))

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		require.Equal(t, storage.MappingStatusCompleted, mappings[0].Status)
		require.Empty(t, mappings[0].ErrorMessage)
	})

	t.Run("unknown_job_is_not_found", func(t *testing.T) {
		err := ds.MarkSegmentFailed(ctx, id.NewJobID(), "s1", "boom")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func ListSegmentMappingsTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()

	t.Run("ordered_by_segment_id", func(t *testing.T) {
		job := newJob(t, ds, 3)
		other := newJob(t, ds, 1)

		for _, segmentID := range []string{"s3", "s1", "s2"} {
			require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, segmentID, []byte(resultB)))
		}
		require.NoError(t, ds.UpsertSegmentMapping(ctx, other.JobID, "s0", []byte(resultB)))

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)

		var segmentIDs []string
		for _, m := range mappings {
			segmentIDs = append(segmentIDs, m.SegmentID)
		}
		require.Equal(t, []string{"s1", "s2", "s3"}, segmentIDs)
	})

	t.Run("job_without_mappings_returns_empty_list", func(t *testing.T) {
		job := newJob(t, ds, 1)

		mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
		require.NoError(t, err)
		require.NotNil(t, mappings)
		require.Empty(t, mappings)
	})
}

// RedeliveredBatchTest processes the same batch twice, the way an at-least-once queue may
// deliver it. Mapping rows stay unique but progress is counted twice: deduplicating
// redeliveries is the caller's responsibility.
func RedeliveredBatchTest(t *testing.T, ds storage.MappingStore) {
	ctx := context.Background()
	job := newJob(t, ds, 10)

	deliver := func() {
		for _, segmentID := range []string{"s1", "s2", "s3"} {
			require.NoError(t, ds.UpsertSegmentMapping(ctx, job.JobID, segmentID, []byte(resultB)))
		}
		require.NoError(t, ds.AdvanceJobProgress(ctx, job.JobID, 3))
	}

	deliver()
	deliver()

	mappings, err := ds.ListSegmentMappings(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	got := getJob(t, ds, job.JobID)
	require.Equal(t, 6, got.CompletedSegments)
	require.Equal(t, storage.JobStatusInProgress, got.Status)
}
