package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRowIDsAreMonotonic(t *testing.T) {
	now := time.Now()

	first, err := NewRowIDFromTime(now)
	require.NoError(t, err)
	second, err := NewRowIDFromTime(now)
	require.NoError(t, err)

	require.True(t, IsValidRowID(first))
	require.Less(t, first, second)
}

func TestNewRowID(t *testing.T) {
	got, err := NewRowID()
	require.NoError(t, err)
	require.Len(t, got, 26)
	require.False(t, IsValidRowID("not-a-ulid"))
}

func TestJobIDs(t *testing.T) {
	jobID := NewJobID()
	require.True(t, IsValidJobID(jobID))
	require.NotEqual(t, jobID, NewJobID())
	require.False(t, IsValidJobID("job-1"))
}
