// Package memory provides an in-process alignment graph, used by tests and for local runs
// without a graph database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

var tracer = otel.Tracer("segmentmapper/pkg/graphstore/memory")

type annotationKind int

const (
	kindSegmentation annotationKind = iota
	kindPagination
	kindAlignment
)

type annotation struct {
	manifestationID string
	kind            annotationKind
	segments        []graphstore.Segment
}

// Graph is a mutable alignment graph implementing [graphstore.Reader]. Instances may be safely
// shared by multiple goroutines.
type Graph struct {
	mu sync.RWMutex

	// GUARDED_BY(mu)
	annotations map[string]*annotation
	// manifestation id -> alignment annotation ids in insertion order. GUARDED_BY(mu)
	alignmentsOf map[string][]string
	// manifestation id -> segmentation annotation id. GUARDED_BY(mu)
	segmentationOf map[string]string
	// manifestation id -> pagination annotation id. GUARDED_BY(mu)
	paginationOf map[string]string
	// segment id -> owning annotation id. GUARDED_BY(mu)
	segmentOwner map[string]string
	// segment id -> segments it is aligned to. GUARDED_BY(mu)
	segmentLinks map[string]map[string]struct{}

	// alignment annotations are nodes, ALIGNED_TO relations are edges. GUARDED_BY(mu)
	alignments *simple.UndirectedGraph
	nodeIDs    map[string]int64
	nodeNames  map[int64]string
}

var _ graphstore.Reader = (*Graph)(nil)

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		annotations:    make(map[string]*annotation),
		alignmentsOf:   make(map[string][]string),
		segmentationOf: make(map[string]string),
		paginationOf:   make(map[string]string),
		segmentOwner:   make(map[string]string),
		segmentLinks:   make(map[string]map[string]struct{}),
		alignments:     simple.NewUndirectedGraph(),
		nodeIDs:        make(map[string]int64),
		nodeNames:      make(map[int64]string),
	}
}

// AddSegmentation attaches the canonical segmentation annotation to a manifestation.
func (g *Graph) AddSegmentation(manifestationID, annotationID string, segments ...graphstore.Segment) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.segmentationOf[manifestationID]; ok {
		return fmt.Errorf("manifestation %q already has segmentation %q", manifestationID, existing)
	}
	if err := g.addAnnotation(manifestationID, annotationID, kindSegmentation, segments); err != nil {
		return err
	}
	g.segmentationOf[manifestationID] = annotationID
	return nil
}

// AddPagination attaches a pagination annotation, used by SegmentationSegments when the
// manifestation has no segmentation.
func (g *Graph) AddPagination(manifestationID, annotationID string, segments ...graphstore.Segment) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.addAnnotation(manifestationID, annotationID, kindPagination, segments); err != nil {
		return err
	}
	g.paginationOf[manifestationID] = annotationID
	return nil
}

// AddAlignment attaches one side of an alignment to a manifestation.
func (g *Graph) AddAlignment(manifestationID, annotationID string, segments ...graphstore.Segment) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.addAnnotation(manifestationID, annotationID, kindAlignment, segments); err != nil {
		return err
	}
	g.alignmentsOf[manifestationID] = append(g.alignmentsOf[manifestationID], annotationID)

	node := simple.Node(int64(len(g.nodeIDs)))
	g.nodeIDs[annotationID] = node.ID()
	g.nodeNames[node.ID()] = annotationID
	g.alignments.AddNode(node)
	return nil
}

// Align relates two alignment annotations. The relation is undirected.
func (g *Graph) Align(annotationA, annotationB string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, okA := g.nodeIDs[annotationA]
	b, okB := g.nodeIDs[annotationB]
	if !okA || !okB {
		return fmt.Errorf("both %q and %q must be alignment annotations", annotationA, annotationB)
	}
	if a == b {
		return fmt.Errorf("annotation %q cannot be aligned to itself", annotationA)
	}

	g.alignments.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
	return nil
}

// LinkSegments records a segment level alignment. The link is undirected.
func (g *Graph) LinkSegments(segmentA, segmentB string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range []string{segmentA, segmentB} {
		if _, ok := g.segmentOwner[id]; !ok {
			return fmt.Errorf("unknown segment %q", id)
		}
	}

	g.link(segmentA, segmentB)
	g.link(segmentB, segmentA)
	return nil
}

func (g *Graph) link(from, to string) {
	links, ok := g.segmentLinks[from]
	if !ok {
		links = make(map[string]struct{})
		g.segmentLinks[from] = links
	}
	links[to] = struct{}{}
}

func (g *Graph) addAnnotation(manifestationID, annotationID string, kind annotationKind, segments []graphstore.Segment) error {
	if _, ok := g.annotations[annotationID]; ok {
		return fmt.Errorf("annotation %q already exists", annotationID)
	}

	for _, seg := range segments {
		if err := seg.Span.Validate(); err != nil {
			return fmt.Errorf("segment %q: %w", seg.ID, err)
		}
		if _, ok := g.segmentOwner[seg.ID]; ok {
			return fmt.Errorf("segment %q already exists", seg.ID)
		}
	}

	for _, seg := range segments {
		g.segmentOwner[seg.ID] = annotationID
	}

	g.annotations[annotationID] = &annotation{
		manifestationID: manifestationID,
		kind:            kind,
		segments:        sortedByStart(slices.Clone(segments)),
	}
	return nil
}

// AlignmentEdgesOf see [graphstore.Reader].AlignmentEdgesOf.
func (g *Graph) AlignmentEdgesOf(ctx context.Context, manifestationID string) ([]graphstore.AlignmentEdge, error) {
	_, span := tracer.Start(ctx, "memory.AlignmentEdgesOf")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []graphstore.AlignmentEdge
	for _, ours := range g.alignmentsOf[manifestationID] {
		var theirs []string
		neighbours := g.alignments.From(g.nodeIDs[ours])
		for neighbours.Next() {
			theirs = append(theirs, g.nodeNames[neighbours.Node().ID()])
		}
		slices.Sort(theirs)

		for _, other := range theirs {
			edges = append(edges, graphstore.AlignmentEdge{
				Ours:                 ours,
				Theirs:               other,
				TheirManifestationID: g.annotations[other].manifestationID,
			})
		}
	}

	return edges, nil
}

// AlignedCounterpartSegments see [graphstore.Reader].AlignedCounterpartSegments.
func (g *Graph) AlignedCounterpartSegments(ctx context.Context, alignmentID string, span graphstore.Span) ([]graphstore.Segment, error) {
	_, traceSpan := tracer.Start(ctx, "memory.AlignedCounterpartSegments")
	defer traceSpan.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ann, ok := g.annotations[alignmentID]
	if !ok {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var out []graphstore.Segment
	for _, seg := range ann.segments {
		if !seg.Span.Overlaps(span) {
			continue
		}
		for linked := range g.segmentLinks[seg.ID] {
			if _, dup := seen[linked]; dup {
				continue
			}
			seen[linked] = struct{}{}
			out = append(out, g.segment(linked))
		}
	}

	return sortedByStart(out), nil
}

// OverlappingSegmentationSegments see [graphstore.Reader].OverlappingSegmentationSegments.
func (g *Graph) OverlappingSegmentationSegments(ctx context.Context, manifestationID string, span graphstore.Span) ([]graphstore.Segment, error) {
	_, traceSpan := tracer.Start(ctx, "memory.OverlappingSegmentationSegments")
	defer traceSpan.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ann, ok := g.annotations[g.segmentationOf[manifestationID]]
	if !ok {
		return nil, nil
	}

	var out []graphstore.Segment
	for _, seg := range ann.segments {
		if seg.Span.Overlaps(span) {
			out = append(out, seg)
		}
	}
	return out, nil
}

// SegmentationSegments see [graphstore.Reader].SegmentationSegments.
func (g *Graph) SegmentationSegments(ctx context.Context, manifestationID string) ([]graphstore.Segment, error) {
	_, span := tracer.Start(ctx, "memory.SegmentationSegments")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	annotationID, ok := g.segmentationOf[manifestationID]
	if !ok {
		annotationID = g.paginationOf[manifestationID]
	}

	ann, ok := g.annotations[annotationID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(ann.segments), nil
}

// segment must be called with mu held.
func (g *Graph) segment(id string) graphstore.Segment {
	for _, seg := range g.annotations[g.segmentOwner[id]].segments {
		if seg.ID == id {
			return seg
		}
	}
	return graphstore.Segment{ID: id}
}

func sortedByStart(segments []graphstore.Segment) []graphstore.Segment {
	slices.SortStableFunc(segments, func(a, b graphstore.Segment) int {
		return cmp.Or(cmp.Compare(a.Span.Start, b.Span.Start), cmp.Compare(a.ID, b.ID))
	})
	return segments
}
