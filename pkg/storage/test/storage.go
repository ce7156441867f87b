// Package test is the behavioural suite every [storage.MappingStore] engine must pass.
package test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

var ignoreTimestamps = cmpopts.IgnoreFields(storage.RootJob{}, "CreatedAt", "UpdatedAt")

func RunAllTests(t *testing.T, ds storage.MappingStore) {
	t.Run("TestDatastoreIsReady", func(t *testing.T) {
		status, err := ds.IsReady(context.Background())
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})

	// Root jobs.
	t.Run("TestCreateAndGetRootJob", func(t *testing.T) { CreateAndGetRootJobTest(t, ds) })
	t.Run("TestGetLatestRootJobByTextID", func(t *testing.T) { GetLatestRootJobByTextIDTest(t, ds) })
	t.Run("TestAdvanceJobProgress", func(t *testing.T) { AdvanceJobProgressTest(t, ds) })

	// Segment mappings.
	t.Run("TestUpsertSegmentMapping", func(t *testing.T) { UpsertSegmentMappingTest(t, ds) })
	t.Run("TestMarkSegmentFailed", func(t *testing.T) { MarkSegmentFailedTest(t, ds) })
	t.Run("TestListSegmentMappings", func(t *testing.T) { ListSegmentMappingsTest(t, ds) })

	// Redelivery.
	t.Run("TestRedeliveredBatch", func(t *testing.T) { RedeliveredBatchTest(t, ds) })
}

func newJob(t *testing.T, ds storage.MappingStore, total int) storage.RootJob {
	t.Helper()

	job := storage.RootJob{
		JobID:         id.NewJobID(),
		TextID:        "text-" + id.NewJobID(),
		TotalSegments: total,
	}
	require.NoError(t, ds.CreateRootJob(context.Background(), job))
	return job
}

func getJob(t *testing.T, ds storage.MappingStore, jobID string) *storage.RootJob {
	t.Helper()

	job, err := ds.GetRootJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}
