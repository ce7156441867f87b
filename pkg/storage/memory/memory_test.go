package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/test"
)

func TestMemdbStorage(t *testing.T) {
	ds := New()
	test.RunAllTests(t, ds)
}

func TestListedMappingsAreCopies(t *testing.T) {
	ctx := context.Background()
	ds := New()

	require.NoError(t, ds.CreateRootJob(ctx, storage.RootJob{JobID: "j1", TextID: "t1", TotalSegments: 1}))
	require.NoError(t, ds.UpsertSegmentMapping(ctx, "j1", "s1", []byte(`[]`)))

	mappings, err := ds.ListSegmentMappings(ctx, "j1")
	require.NoError(t, err)
	mappings[0].Result[0] = 'x'
	mappings[0].Status = storage.MappingStatusFailed

	again, err := ds.ListSegmentMappings(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(again[0].Result))
	require.Equal(t, storage.MappingStatusCompleted, again[0].Status)
}

func TestUpdatedAtTracksWrites(t *testing.T) {
	ctx := context.Background()
	ds := New()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return clock }

	require.NoError(t, ds.CreateRootJob(ctx, storage.RootJob{JobID: "j1", TextID: "t1", TotalSegments: 2}))
	clock = clock.Add(time.Minute)
	require.NoError(t, ds.AdvanceJobProgress(ctx, "j1", 1))

	job, err := ds.GetRootJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), job.CreatedAt)
	require.Equal(t, clock, job.UpdatedAt)
}
