package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

func seg(id string, start, end int) graphstore.Segment {
	return graphstore.Segment{ID: id, Span: graphstore.Span{Start: start, End: end}}
}

func newTwoDocumentGraph(t *testing.T) *Graph {
	t.Helper()

	g := New()
	require.NoError(t, g.AddSegmentation("A", "A-seg", seg("a1", 0, 100), seg("a2", 100, 200)))
	require.NoError(t, g.AddSegmentation("B", "B-seg", seg("b2", 275, 320), seg("b1", 200, 275)))
	require.NoError(t, g.AddAlignment("A", "A-aln", seg("aa1", 50, 150)))
	require.NoError(t, g.AddAlignment("B", "B-aln", seg("ba1", 200, 250), seg("ba2", 250, 300)))
	require.NoError(t, g.Align("A-aln", "B-aln"))
	require.NoError(t, g.LinkSegments("aa1", "ba1"))
	require.NoError(t, g.LinkSegments("aa1", "ba2"))
	return g
}

func TestAlignmentEdgesOf(t *testing.T) {
	g := newTwoDocumentGraph(t)
	ctx := context.Background()

	edges, err := g.AlignmentEdgesOf(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, []graphstore.AlignmentEdge{{Ours: "A-aln", Theirs: "B-aln", TheirManifestationID: "B"}}, edges)

	edges, err = g.AlignmentEdgesOf(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, []graphstore.AlignmentEdge{{Ours: "B-aln", Theirs: "A-aln", TheirManifestationID: "A"}}, edges)

	edges, err = g.AlignmentEdgesOf(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestAlignedCounterpartSegments(t *testing.T) {
	g := newTwoDocumentGraph(t)
	ctx := context.Background()

	got, err := g.AlignedCounterpartSegments(ctx, "A-aln", graphstore.Span{Start: 50, End: 150})
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("ba1", 200, 250), seg("ba2", 250, 300)}, got)

	// touching at the boundary is not an overlap
	got, err = g.AlignedCounterpartSegments(ctx, "A-aln", graphstore.Span{Start: 150, End: 160})
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = g.AlignedCounterpartSegments(ctx, "B-aln", graphstore.Span{Start: 240, End: 260})
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("aa1", 50, 150)}, got)
}

func TestOverlappingSegmentationSegments(t *testing.T) {
	g := newTwoDocumentGraph(t)

	got, err := g.OverlappingSegmentationSegments(context.Background(), "B", graphstore.Span{Start: 200, End: 300})
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("b1", 200, 275), seg("b2", 275, 320)}, got)

	got, err = g.OverlappingSegmentationSegments(context.Background(), "B", graphstore.Span{Start: 0, End: 200})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSegmentationSegmentsFallsBackToPagination(t *testing.T) {
	g := newTwoDocumentGraph(t)
	require.NoError(t, g.AddPagination("C", "C-page", seg("p2", 10, 20), seg("p1", 0, 10)))

	got, err := g.SegmentationSegments(context.Background(), "C")
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("p1", 0, 10), seg("p2", 10, 20)}, got)

	got, err = g.SegmentationSegments(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestBuilderValidation(t *testing.T) {
	g := newTwoDocumentGraph(t)

	require.Error(t, g.AddSegmentation("A", "A-seg-2"))
	require.Error(t, g.AddAlignment("C", "A-aln"))
	require.ErrorIs(t, g.AddAlignment("C", "C-aln", seg("c", 10, 10)), graphstore.ErrInvalidSpan)
	require.Error(t, g.AddAlignment("C", "C-aln", seg("aa1", 0, 10)))
	require.Error(t, g.Align("A-aln", "A-aln"))
	require.Error(t, g.Align("A-aln", "B-seg"))
	require.Error(t, g.LinkSegments("aa1", "missing"))
}

func TestCancelledContext(t *testing.T) {
	g := newTwoDocumentGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.AlignmentEdgesOf(ctx, "A")
	require.ErrorIs(t, err, context.Canceled)
}
