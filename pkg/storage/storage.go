// Package storage contains the mapping store interface, its record types and the engines
// implementing it.
//
//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks MappingStore
package storage

import (
	"context"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a root job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// MappingStatus is the state of one segment's mapping row.
type MappingStatus string

const (
	MappingStatusQueued     MappingStatus = "QUEUED"
	MappingStatusInProgress MappingStatus = "IN_PROGRESS"
	MappingStatusCompleted  MappingStatus = "COMPLETED"
	MappingStatusRetrying   MappingStatus = "RETRYING"
	MappingStatusFailed     MappingStatus = "FAILED"
)

// RootJob tracks the progress of mapping every segment of one document.
type RootJob struct {
	JobID             string    `json:"job_id"`
	TextID            string    `json:"text_id"`
	TotalSegments     int       `json:"total_segments"`
	CompletedSegments int       `json:"completed_segments"`
	Status            JobStatus `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks the fields a caller must provide when creating a job.
func (j *RootJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidJob)
	}
	if j.TextID == "" {
		return fmt.Errorf("%w: text id is required", ErrInvalidJob)
	}
	if j.TotalSegments < 1 {
		return fmt.Errorf("%w: total segments must be positive, got %d", ErrInvalidJob, j.TotalSegments)
	}
	return nil
}

// SegmentMapping is the stored traversal result of one segment within a root job. Result holds
// the encoded mappings and is nil when no result was ever written.
type SegmentMapping struct {
	ID           string        `json:"id"`
	RootJobID    string        `json:"root_job_id"`
	SegmentID    string        `json:"segment_id"`
	Result       []byte        `json:"result_json,omitempty"`
	Status       MappingStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// MappingStore persists segment mapping results and root job progress. Every write is a single
// atomic statement, so concurrent workers never interleave partial updates.
type MappingStore interface {
	// CreateRootJob inserts the job with status QUEUED and no completed segments. Creating a job
	// that already exists is a no-op and leaves the stored row untouched.
	CreateRootJob(ctx context.Context, job RootJob) error

	// GetRootJob returns the job or ErrNotFound.
	GetRootJob(ctx context.Context, jobID string) (*RootJob, error)

	// GetLatestRootJobByTextID returns the most recently created job for the document, or
	// ErrNotFound when no job was ever created for it.
	GetLatestRootJobByTextID(ctx context.Context, textID string) (*RootJob, error)

	// UpsertSegmentMapping writes result for the segment, marking it COMPLETED and clearing any
	// error message. At most one row exists per (rootJobID, segmentID). Returns ErrNotFound when
	// the root job does not exist.
	UpsertSegmentMapping(ctx context.Context, rootJobID, segmentID string, result []byte) error

	// MarkSegmentFailed records a terminal failure for the segment, keeping any previous result.
	MarkSegmentFailed(ctx context.Context, rootJobID, segmentID, message string) error

	// ListSegmentMappings returns every mapping of the job ordered by segment id.
	ListSegmentMappings(ctx context.Context, rootJobID string) ([]SegmentMapping, error)

	// AdvanceJobProgress adds increment to the completed count of a job that is not yet
	// COMPLETED, moving it to COMPLETED once the count reaches the total and from QUEUED to
	// IN_PROGRESS otherwise. Completed or missing jobs are left untouched.
	//
	// The increment is additive: advancing twice for the same batch counts it twice.
	AdvanceJobProgress(ctx context.Context, jobID string, increment int) error

	// IsReady reports whether the datastore is ready to accept traffic.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close closes the datastore and cleans up any residual resources.
	Close()
}

// ReadinessStatus represents the readiness status of the datastore.
type ReadinessStatus struct {
	// Message is a human-friendly status message for the current datastore status.
	Message string

	IsReady bool
}
