package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

var tracer = otel.Tracer("segmentmapper/pkg/storage/memory")

type mappingKey struct {
	rootJobID string
	segmentID string
}

// MemoryBackend provides an ephemeral memory-backed implementation of [storage.MappingStore].
// These instances may be safely shared by multiple go-routines.
type MemoryBackend struct {
	mu sync.RWMutex

	// map: job id => job
	jobs map[string]*storage.RootJob // GUARDED_BY(mu).

	// map: (job id, segment id) => mapping
	mappings map[mappingKey]*storage.SegmentMapping // GUARDED_BY(mu).

	now func() time.Time
}

// Ensures that [MemoryBackend] implements the [storage.MappingStore] interface.
var _ storage.MappingStore = (*MemoryBackend)(nil)

// New creates a new [MemoryBackend] instance.
func New() *MemoryBackend {
	return &MemoryBackend{
		jobs:     make(map[string]*storage.RootJob),
		mappings: make(map[mappingKey]*storage.SegmentMapping),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close does not do anything for [MemoryBackend].
func (s *MemoryBackend) Close() {}

// CreateRootJob see [storage.MappingStore].CreateRootJob.
func (s *MemoryBackend) CreateRootJob(ctx context.Context, job storage.RootJob) error {
	_, span := tracer.Start(ctx, "memory.CreateRootJob")
	defer span.End()

	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.JobID]; ok {
		return nil
	}

	now := s.now()
	s.jobs[job.JobID] = &storage.RootJob{
		JobID:         job.JobID,
		TextID:        job.TextID,
		TotalSegments: job.TotalSegments,
		Status:        storage.JobStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// GetRootJob see [storage.MappingStore].GetRootJob.
func (s *MemoryBackend) GetRootJob(ctx context.Context, jobID string) (*storage.RootJob, error) {
	_, span := tracer.Start(ctx, "memory.GetRootJob")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := *job
	return &out, nil
}

// GetLatestRootJobByTextID see [storage.MappingStore].GetLatestRootJobByTextID.
func (s *MemoryBackend) GetLatestRootJobByTextID(ctx context.Context, textID string) (*storage.RootJob, error) {
	_, span := tracer.Start(ctx, "memory.GetLatestRootJobByTextID")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *storage.RootJob
	for _, job := range s.jobs {
		if job.TextID != textID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) ||
			(job.CreatedAt.Equal(latest.CreatedAt) && job.JobID > latest.JobID) {
			latest = job
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	out := *latest
	return &out, nil
}

// UpsertSegmentMapping see [storage.MappingStore].UpsertSegmentMapping.
func (s *MemoryBackend) UpsertSegmentMapping(ctx context.Context, rootJobID, segmentID string, result []byte) error {
	_, span := tracer.Start(ctx, "memory.UpsertSegmentMapping")
	defer span.End()

	if err := storage.ValidateResult(result); err != nil {
		return err
	}

	return s.upsert(rootJobID, segmentID, func(m *storage.SegmentMapping) {
		m.Result = bytes.Clone(result)
		m.Status = storage.MappingStatusCompleted
		m.ErrorMessage = ""
	})
}

// MarkSegmentFailed see [storage.MappingStore].MarkSegmentFailed.
func (s *MemoryBackend) MarkSegmentFailed(ctx context.Context, rootJobID, segmentID, message string) error {
	_, span := tracer.Start(ctx, "memory.MarkSegmentFailed")
	defer span.End()

	return s.upsert(rootJobID, segmentID, func(m *storage.SegmentMapping) {
		m.Status = storage.MappingStatusFailed
		m.ErrorMessage = message
	})
}

func (s *MemoryBackend) upsert(rootJobID, segmentID string, apply func(*storage.SegmentMapping)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[rootJobID]; !ok {
		return fmt.Errorf("root job: %w", storage.ErrNotFound)
	}

	now := s.now()
	key := mappingKey{rootJobID: rootJobID, segmentID: segmentID}
	m, ok := s.mappings[key]
	if !ok {
		rowID, err := id.NewRowID()
		if err != nil {
			return err
		}

		m = &storage.SegmentMapping{
			ID:        rowID,
			RootJobID: rootJobID,
			SegmentID: segmentID,
			CreatedAt: now,
		}
		s.mappings[key] = m
	}

	apply(m)
	m.UpdatedAt = now
	return nil
}

// ListSegmentMappings see [storage.MappingStore].ListSegmentMappings.
func (s *MemoryBackend) ListSegmentMappings(ctx context.Context, rootJobID string) ([]storage.SegmentMapping, error) {
	_, span := tracer.Start(ctx, "memory.ListSegmentMappings")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	mappings := make([]storage.SegmentMapping, 0)
	for key, m := range s.mappings {
		if key.rootJobID != rootJobID {
			continue
		}

		out := *m
		out.Result = bytes.Clone(m.Result)
		mappings = append(mappings, out)
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].SegmentID < mappings[j].SegmentID
	})
	return mappings, nil
}

// AdvanceJobProgress see [storage.MappingStore].AdvanceJobProgress.
func (s *MemoryBackend) AdvanceJobProgress(ctx context.Context, jobID string, increment int) error {
	_, span := tracer.Start(ctx, "memory.AdvanceJobProgress")
	defer span.End()

	if increment < 1 {
		return fmt.Errorf("%w: %d", storage.ErrInvalidIncrement, increment)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status == storage.JobStatusCompleted {
		return nil
	}

	switch {
	case job.CompletedSegments+increment >= job.TotalSegments:
		job.Status = storage.JobStatusCompleted
	case job.Status == storage.JobStatusQueued:
		job.Status = storage.JobStatusInProgress
	}
	job.CompletedSegments += increment
	job.UpdatedAt = s.now()
	return nil
}

// IsReady see [storage.MappingStore].IsReady.
func (s *MemoryBackend) IsReady(context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}
