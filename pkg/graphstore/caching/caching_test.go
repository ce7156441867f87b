package caching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/cache/redis"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore/memory"
)

// countingReader records how many times each operation reached the graph.
type countingReader struct {
	graphstore.Reader

	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func (c *countingReader) inc(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.fail
}

func (c *countingReader) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingReader) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *countingReader) AlignmentEdgesOf(ctx context.Context, id string) ([]graphstore.AlignmentEdge, error) {
	if err := c.inc("edges"); err != nil {
		return nil, err
	}
	return c.Reader.AlignmentEdgesOf(ctx, id)
}

func (c *countingReader) AlignedCounterpartSegments(ctx context.Context, id string, span graphstore.Span) ([]graphstore.Segment, error) {
	if err := c.inc("counterparts"); err != nil {
		return nil, err
	}
	return c.Reader.AlignedCounterpartSegments(ctx, id, span)
}

func (c *countingReader) OverlappingSegmentationSegments(ctx context.Context, id string, span graphstore.Span) ([]graphstore.Segment, error) {
	if err := c.inc("overlapping"); err != nil {
		return nil, err
	}
	return c.Reader.OverlappingSegmentationSegments(ctx, id, span)
}

func (c *countingReader) SegmentationSegments(ctx context.Context, id string) ([]graphstore.Segment, error) {
	if err := c.inc("segmentation"); err != nil {
		return nil, err
	}
	return c.Reader.SegmentationSegments(ctx, id)
}

func seg(id string, start, end int) graphstore.Segment {
	return graphstore.Segment{ID: id, Span: graphstore.Span{Start: start, End: end}}
}

func newCountingReader(t *testing.T) *countingReader {
	t.Helper()

	g := memory.New()
	require.NoError(t, g.AddSegmentation("A", "A-seg", seg("a1", 0, 100), seg("a2", 100, 200)))
	require.NoError(t, g.AddSegmentation("B", "B-seg", seg("b1", 200, 275), seg("b2", 275, 320)))
	require.NoError(t, g.AddAlignment("A", "A-aln", seg("aa1", 50, 150)))
	require.NoError(t, g.AddAlignment("B", "B-aln", seg("ba1", 200, 250), seg("ba2", 250, 300)))
	require.NoError(t, g.Align("A-aln", "B-aln"))
	require.NoError(t, g.LinkSegments("aa1", "ba1"))
	require.NoError(t, g.LinkSegments("aa1", "ba2"))

	return &countingReader{Reader: g, calls: map[string]int{}}
}

func newReader(t *testing.T, delegate graphstore.Reader, opts ...Option) *Reader {
	t.Helper()

	r, err := New(delegate, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestLocalTierServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	delegate := newCountingReader(t)
	r := newReader(t, delegate)

	for range 3 {
		edges, err := r.AlignmentEdgesOf(ctx, "A")
		require.NoError(t, err)
		require.Equal(t, []graphstore.AlignmentEdge{{Ours: "A-aln", Theirs: "B-aln", TheirManifestationID: "B"}}, edges)

		got, err := r.AlignedCounterpartSegments(ctx, "A-aln", graphstore.Span{Start: 50, End: 150})
		require.NoError(t, err)
		require.Equal(t, []graphstore.Segment{seg("ba1", 200, 250), seg("ba2", 250, 300)}, got)

		got, err = r.OverlappingSegmentationSegments(ctx, "B", graphstore.Span{Start: 200, End: 300})
		require.NoError(t, err)
		require.Equal(t, []graphstore.Segment{seg("b1", 200, 275), seg("b2", 275, 320)}, got)

		got, err = r.SegmentationSegments(ctx, "A")
		require.NoError(t, err)
		require.Len(t, got, 2)
	}

	require.Equal(t, 1, delegate.count("edges"))
	require.Equal(t, 1, delegate.count("counterparts"))
	require.Equal(t, 1, delegate.count("overlapping"))
	require.Equal(t, 1, delegate.count("segmentation"))
}

func TestKeysIncludeEveryArgument(t *testing.T) {
	ctx := context.Background()
	delegate := newCountingReader(t)
	r := newReader(t, delegate)

	_, err := r.OverlappingSegmentationSegments(ctx, "B", graphstore.Span{Start: 200, End: 300})
	require.NoError(t, err)
	got, err := r.OverlappingSegmentationSegments(ctx, "B", graphstore.Span{Start: 200, End: 250})
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("b1", 200, 275)}, got)

	_, err = r.OverlappingSegmentationSegments(ctx, "A", graphstore.Span{Start: 200, End: 250})
	require.NoError(t, err)

	require.Equal(t, 3, delegate.count("overlapping"))
}

func TestKeyHasherSeparatesArguments(t *testing.T) {
	require.NotEqual(t, alignmentEdgesKey("", "ab"), segmentationKey("", "ab"))
	require.NotEqual(t,
		counterpartKey("", "a", graphstore.Span{Start: 12, End: 3}),
		counterpartKey("", "a", graphstore.Span{Start: 1, End: 23}),
	)
	require.NotEqual(t, alignmentEdgesKey("production:", "A"), alignmentEdgesKey("staging:", "A"))
	require.Equal(t, alignmentEdgesKey("p:", "A"), alignmentEdgesKey("p:", "A"))
}

func TestErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	delegate := newCountingReader(t)
	r := newReader(t, delegate)

	boom := errors.New("boom")
	delegate.setFail(boom)

	_, err := r.AlignmentEdgesOf(ctx, "A")
	require.ErrorIs(t, err, boom)

	delegate.setFail(nil)
	edges, err := r.AlignmentEdgesOf(ctx, "A")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, 2, delegate.count("edges"))
}

func TestRemoteTierIsSharedBetweenReaders(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	remote, err := redis.New(redis.WithAddr(server.Addr()), redis.WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = remote.Close()
	})

	first := newCountingReader(t)
	second := newCountingReader(t)
	r1 := newReader(t, first, WithRemoteCache(remote), WithKeyPrefix("production:"))
	r2 := newReader(t, second, WithRemoteCache(remote), WithKeyPrefix("production:"))

	want, err := r1.AlignedCounterpartSegments(ctx, "A-aln", graphstore.Span{Start: 50, End: 150})
	require.NoError(t, err)
	wantEdges, err := r1.AlignmentEdgesOf(ctx, "A")
	require.NoError(t, err)

	got, err := r2.AlignedCounterpartSegments(ctx, "A-aln", graphstore.Span{Start: 50, End: 150})
	require.NoError(t, err)
	require.Equal(t, want, got)
	gotEdges, err := r2.AlignmentEdgesOf(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, wantEdges, gotEdges)

	require.Equal(t, 1, first.count("counterparts"))
	require.Equal(t, 0, second.count("counterparts"))
	require.Equal(t, 0, second.count("edges"))

	// another environment never sees these entries
	third := newCountingReader(t)
	r3 := newReader(t, third, WithRemoteCache(remote), WithKeyPrefix("staging:"))
	_, err = r3.AlignmentEdgesOf(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, 1, third.count("edges"))
}

func TestRemoteFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	remote, err := redis.New(redis.WithAddr(server.Addr()), redis.WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = remote.Close()
	})
	server.Close()

	delegate := newCountingReader(t)
	r := newReader(t, delegate, WithRemoteCache(remote))

	got, err := r.SegmentationSegments(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, []graphstore.Segment{seg("b1", 200, 275), seg("b2", 275, 320)}, got)
	require.Equal(t, 1, delegate.count("segmentation"))
}

func TestUndecodableRemoteEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	remote, err := redis.New(redis.WithAddr(server.Addr()), redis.WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = remote.Close()
	})

	require.NoError(t, server.Set(segmentationKey(defaultKeyPrefix, "B"), "not json"))

	delegate := newCountingReader(t)
	r := newReader(t, delegate, WithRemoteCache(remote))

	got, err := r.SegmentationSegments(ctx, "B")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, delegate.count("segmentation"))
}

func TestNewRejectsNonPositiveTTL(t *testing.T) {
	_, err := New(memory.New(), WithCacheTTL(0))
	require.Error(t, err)
}

// stallingReader blocks the first segmentation read until its context ends.
type stallingReader struct {
	graphstore.Reader

	once    sync.Once
	started chan struct{}
}

func (s *stallingReader) SegmentationSegments(ctx context.Context, id string) ([]graphstore.Segment, error) {
	first := false
	s.once.Do(func() {
		first = true
		close(s.started)
	})
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Reader.SegmentationSegments(ctx, id)
}

func TestSharedLoadDoesNotLeakAnotherCallersCancellation(t *testing.T) {
	g := memory.New()
	require.NoError(t, g.AddSegmentation("M1", "M1-seg", seg("s1", 0, 10)))

	delegate := &stallingReader{Reader: g, started: make(chan struct{})}
	r := newReader(t, delegate)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.SegmentationSegments(firstCtx, "M1")
		firstErr <- err
	}()
	<-delegate.started

	type result struct {
		segments []graphstore.Segment
		err      error
	}
	second := make(chan result, 1)
	go func() {
		segments, err := r.SegmentationSegments(context.Background(), "M1")
		second <- result{segments, err}
	}()

	// Let the second caller join the in-flight load before the first one gives up.
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-firstErr, context.Canceled)

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, []graphstore.Segment{seg("s1", 0, 10)}, got.segments)
}
