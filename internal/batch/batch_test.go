package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/segmentmapper/segmentmapper/internal/mocks"
	"github.com/segmentmapper/segmentmapper/internal/traversal"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	graphmemory "github.com/segmentmapper/segmentmapper/pkg/graphstore/memory"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/memory"
)

const jobID = "2b1d9c9e-4a4e-4e2b-9d1b-6a4b2f0e8c11"

func seg(id string, start, end int) graphstore.Segment {
	return graphstore.Segment{ID: id, Span: graphstore.Span{Start: start, End: end}}
}

// newGraph: A[50,150) is aligned to B, whose counterparts cover B[200,300); B is segmented into
// [200,275) and [275,320). A[300,400) has no alignment.
func newGraph(t *testing.T) *graphmemory.Graph {
	t.Helper()

	g := graphmemory.New()
	require.NoError(t, g.AddSegmentation("A", "A-seg", seg("s1", 50, 150), seg("s2", 150, 300), seg("s3", 300, 400)))
	require.NoError(t, g.AddSegmentation("B", "B-seg", seg("b1", 200, 275), seg("b2", 275, 320)))
	require.NoError(t, g.AddAlignment("A", "A-aln", seg("aa1", 50, 150)))
	require.NoError(t, g.AddAlignment("B", "B-aln", seg("ba1", 200, 250), seg("ba2", 250, 300)))
	require.NoError(t, g.Align("A-aln", "B-aln"))
	require.NoError(t, g.LinkSegments("aa1", "ba1"))
	require.NoError(t, g.LinkSegments("aa1", "ba2"))
	return g
}

func newEngines(t *testing.T, reader graphstore.Reader) *traversal.Engines {
	t.Helper()

	registry, err := graphstore.NewRegistry(map[graphstore.Environment]graphstore.Reader{
		graphstore.EnvironmentProduction: reader,
	})
	require.NoError(t, err)
	return traversal.NewEngines(registry)
}

func newBatch() Batch {
	return Batch{
		RootJobID:     jobID,
		DocumentID:    "A",
		TotalSegments: 10,
		Segments: []SegmentRef{
			{ID: "s1", Span: graphstore.Span{Start: 50, End: 150}},
			{ID: "s3", Span: graphstore.Span{Start: 300, End: 400}},
		},
		Environment:            "production",
		DestinationEnvironment: "staging",
		BatchNumber:            1,
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []queue.CompletionMessage
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, msg queue.CompletionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func TestProcessBatch(t *testing.T) {
	for _, n := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency_%d", n), func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			notifier := &recordingNotifier{}
			p := NewProcessor(newEngines(t, newGraph(t)), store, notifier, WithConcurrency(n))

			require.NoError(t, p.ProcessBatch(ctx, newBatch()))

			job, err := store.GetRootJob(ctx, jobID)
			require.NoError(t, err)
			require.Equal(t, "A", job.TextID)
			require.Equal(t, 10, job.TotalSegments)
			require.Equal(t, 2, job.CompletedSegments)
			require.Equal(t, storage.JobStatusInProgress, job.Status)

			mappings, err := store.ListSegmentMappings(ctx, jobID)
			require.NoError(t, err)
			require.Len(t, mappings, 2)

			var related []traversal.Mapping
			require.NoError(t, json.Unmarshal(mappings[0].Result, &related))
			want := []traversal.Mapping{
				{ManifestationID: "B", Segments: []graphstore.Segment{seg("b1", 200, 275), seg("b2", 275, 320)}},
			}
			if diff := cmp.Diff(want, related); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}

			require.Equal(t, "s3", mappings[1].SegmentID)
			require.JSONEq(t, `[]`, string(mappings[1].Result))

			require.Equal(t, []queue.CompletionMessage{{
				TextID:                 "A",
				SegmentIDs:             []string{"s1", "s3"},
				TotalSegments:          10,
				SourceEnvironment:      "production",
				DestinationEnvironment: "staging",
			}}, notifier.messages)
		})
	}
}

func TestProcessBatchCompletesJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := NewProcessor(newEngines(t, newGraph(t)), store, &recordingNotifier{})

	b := newBatch()
	b.TotalSegments = 2
	require.NoError(t, p.ProcessBatch(ctx, b))

	job, err := store.GetRootJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, storage.JobStatusCompleted, job.Status)
}

func TestProcessBatchRedeliveryDoubleCounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	notifier := &recordingNotifier{}
	p := NewProcessor(newEngines(t, newGraph(t)), store, notifier)

	b := newBatch()
	b.Segments = append(b.Segments, SegmentRef{ID: "s2", Span: graphstore.Span{Start: 150, End: 300}})

	require.NoError(t, p.ProcessBatch(ctx, b))
	require.NoError(t, p.ProcessBatch(ctx, b))

	mappings, err := store.ListSegmentMappings(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	job, err := store.GetRootJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 6, job.CompletedSegments)
	require.Len(t, notifier.messages, 2)
}

func TestProcessBatchInvalid(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	notifier := &recordingNotifier{}
	p := NewProcessor(newEngines(t, newGraph(t)), store, notifier)

	b := newBatch()
	b.Segments = nil

	err := p.ProcessBatch(ctx, b)
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = store.GetRootJob(ctx, jobID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Empty(t, notifier.messages)
}

func TestProcessBatchUnconfiguredEnvironment(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	notifier := &recordingNotifier{}
	p := NewProcessor(newEngines(t, newGraph(t)), store, notifier)

	b := newBatch()
	b.Environment = "staging"

	err := p.ProcessBatch(ctx, b)
	require.ErrorIs(t, err, ErrInvalidBatch)
	require.ErrorIs(t, err, graphstore.ErrUnknownEnvironment)

	// The job exists so that its segments can be marked failed.
	job, err := store.GetRootJob(ctx, jobID)
	require.NoError(t, err)
	require.Zero(t, job.CompletedSegments)
	require.Empty(t, notifier.messages)
}

func TestProcessBatchTraversalFailure(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	graphErr := fmt.Errorf("%w: connection reset", graphstore.ErrGraphRead)
	reader.EXPECT().AlignmentEdgesOf(gomock.Any(), "A").Return(nil, graphErr)

	store := memory.New()
	notifier := &recordingNotifier{}
	p := NewProcessor(newEngines(t, reader), store, notifier)

	err := p.ProcessBatch(ctx, newBatch())
	require.ErrorIs(t, err, ErrTraversal)
	require.ErrorIs(t, err, graphstore.ErrGraphRead)

	job, err := store.GetRootJob(ctx, jobID)
	require.NoError(t, err)
	require.Zero(t, job.CompletedSegments)
	require.Equal(t, storage.JobStatusQueued, job.Status)
	require.Empty(t, notifier.messages)
}

func TestProcessBatchStoreFailure(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	writeErr := errors.New("connection refused")
	store := mocks.NewMockMappingStore(ctrl)
	gomock.InOrder(
		store.EXPECT().CreateRootJob(gomock.Any(), storage.RootJob{JobID: jobID, TextID: "A", TotalSegments: 10}).Return(nil),
		store.EXPECT().UpsertSegmentMapping(gomock.Any(), jobID, "s1", gomock.Any()).Return(writeErr),
	)

	notifier := &recordingNotifier{}
	p := NewProcessor(newEngines(t, newGraph(t)), store, notifier)

	err := p.ProcessBatch(ctx, newBatch())
	require.ErrorIs(t, err, ErrStoreWrite)
	require.ErrorIs(t, err, writeErr)
	require.Empty(t, notifier.messages)
}

func TestProcessBatchCreateRootJobFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := mocks.NewMockMappingStore(ctrl)
	store.EXPECT().CreateRootJob(gomock.Any(), gomock.Any()).Return(errors.New("timeout"))

	p := NewProcessor(newEngines(t, newGraph(t)), store, &recordingNotifier{})
	require.ErrorIs(t, p.ProcessBatch(context.Background(), newBatch()), ErrStoreWrite)
}

func TestProcessBatchNotifyFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sendErr := errors.New("queue unavailable")
	p := NewProcessor(newEngines(t, newGraph(t)), store, &recordingNotifier{err: sendErr})

	err := p.ProcessBatch(ctx, newBatch())
	require.ErrorIs(t, err, ErrNotify)
	require.ErrorIs(t, err, sendErr)

	job, err := store.GetRootJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 2, job.CompletedSegments)
}

func TestBatchValidate(t *testing.T) {
	tests := map[string]func(*Batch){
		`job_id_not_uuid`:   func(b *Batch) { b.RootJobID = "job-1" },
		`missing_document`:  func(b *Batch) { b.DocumentID = "" },
		`zero_total`:        func(b *Batch) { b.TotalSegments = 0 },
		`no_segments`:       func(b *Batch) { b.Segments = []SegmentRef{} },
		`empty_segment_id`:  func(b *Batch) { b.Segments[0].ID = "" },
		`duplicate_segment`: func(b *Batch) { b.Segments[1].ID = b.Segments[0].ID },
		`empty_span`:        func(b *Batch) { b.Segments[0].Span = graphstore.Span{Start: 5, End: 5} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			b := newBatch()
			mutate(&b)
			require.ErrorIs(t, b.Validate(), ErrInvalidBatch)
		})
	}

	require.NoError(t, newBatch().Validate())
}

func TestFromMessage(t *testing.T) {
	msg := &queue.BatchMessage{
		RootJobID:     jobID,
		TextID:        "A",
		BatchNumber:   3,
		TotalSegments: 10,
		Segments: []queue.SegmentRef{
			{SegmentID: "s1", Span: queue.SpanRef{Start: 50, End: 150}},
		},
		SourceEnvironment:      "production",
		DestinationEnvironment: "staging",
	}

	want := Batch{
		RootJobID:              jobID,
		DocumentID:             "A",
		TotalSegments:          10,
		Segments:               []SegmentRef{{ID: "s1", Span: graphstore.Span{Start: 50, End: 150}}},
		Environment:            "production",
		DestinationEnvironment: "staging",
		BatchNumber:            3,
	}
	if diff := cmp.Diff(want, FromMessage(msg)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
