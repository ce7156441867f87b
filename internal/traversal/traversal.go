// Package traversal computes, for a span of one manifestation, the related segments of every
// manifestation reachable through alignment relations.
package traversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

var tracer = otel.Tracer("segmentmapper/internal/traversal")

// ErrTraversalLimitExceeded is returned when a traversal reaches more manifestations than
// the engine allows.
var ErrTraversalLimitExceeded = errors.New("traversal limit exceeded")

// Mode selects what is emitted for each newly reached manifestation.
type Mode int

const (
	// ModeTransformed emits the reached manifestation's segmentation segments overlapping the
	// envelope of the aligned counterparts.
	ModeTransformed Mode = iota
	// ModeUntransformed emits the aligned counterpart segments themselves.
	ModeUntransformed
)

func (m Mode) String() string {
	switch m {
	case ModeTransformed:
		return "transformed"
	case ModeUntransformed:
		return "untransformed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Mapping is the set of segments of one manifestation related to the source span.
type Mapping struct {
	ManifestationID string               `json:"manifestation_id"`
	Segments        []graphstore.Segment `json:"segments"`
}

type frontierItem struct {
	manifestationID string
	span            graphstore.Span
}

// edgeKey identifies an alignment relation regardless of the side it is seen from.
type edgeKey struct {
	a, b string
}

func newEdgeKey(x, y string) edgeKey {
	if x > y {
		x, y = y, x
	}
	return edgeKey{a: x, b: y}
}

// Engine runs traversals against one graph. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	reader            graphstore.Reader
	maxManifestations int
	logger            logger.Logger
}

type EngineOption func(*Engine)

// WithMaxManifestations bounds the number of manifestations one traversal may reach,
// source included. Zero means unbounded.
func WithMaxManifestations(n int) EngineOption {
	return func(e *Engine) {
		e.maxManifestations = n
	}
}

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(reader graphstore.Reader, opts ...EngineOption) *Engine {
	e := &Engine{
		reader: reader,
		logger: logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ComputeRelatedSegments returns, in breadth-first discovery order, one mapping per
// manifestation reachable from sourceManifestationID, holding its segmentation segments related
// to span.
func (e *Engine) ComputeRelatedSegments(ctx context.Context, sourceManifestationID string, span graphstore.Span) ([]Mapping, error) {
	return e.Compute(ctx, ModeTransformed, sourceManifestationID, span)
}

// ComputeAlignedSegments is ComputeRelatedSegments without the segmentation lookup: each
// mapping holds the aligned counterpart segments that reached the manifestation.
func (e *Engine) ComputeAlignedSegments(ctx context.Context, sourceManifestationID string, span graphstore.Span) ([]Mapping, error) {
	return e.Compute(ctx, ModeUntransformed, sourceManifestationID, span)
}

// Compute runs one traversal in the given mode. The result is never nil.
func (e *Engine) Compute(ctx context.Context, mode Mode, sourceManifestationID string, span graphstore.Span) ([]Mapping, error) {
	ctx, traceSpan := tracer.Start(ctx, "traversal.Compute")
	defer traceSpan.End()
	traceSpan.SetAttributes(
		attribute.String("manifestation_id", sourceManifestationID),
		attribute.String("span", span.String()),
		attribute.String("mode", mode.String()),
	)

	if mode != ModeTransformed && mode != ModeUntransformed {
		return nil, fmt.Errorf("unsupported traversal mode %s", mode)
	}

	if err := span.Validate(); err != nil {
		return nil, err
	}

	frontier := linkedlistqueue.New()
	frontier.Enqueue(frontierItem{manifestationID: sourceManifestationID, span: span})

	visited := map[string]struct{}{sourceManifestationID: {}}
	traversed := make(map[edgeKey]struct{})
	result := make([]Mapping, 0)

	for !frontier.Empty() {
		if err := ctx.Err(); err != nil {
			return fail(traceSpan, err)
		}

		v, _ := frontier.Dequeue()
		item := v.(frontierItem)

		edges, err := e.reader.AlignmentEdgesOf(ctx, item.manifestationID)
		if err != nil {
			return fail(traceSpan, fmt.Errorf("alignment edges of %q: %w", item.manifestationID, err))
		}

		for _, edge := range edges {
			key := newEdgeKey(edge.Ours, edge.Theirs)
			if _, ok := traversed[key]; ok {
				continue
			}
			traversed[key] = struct{}{}

			counterparts, err := e.reader.AlignedCounterpartSegments(ctx, edge.Ours, item.span)
			if err != nil {
				return fail(traceSpan, fmt.Errorf("counterparts of %q in %s: %w", edge.Ours, item.span, err))
			}

			envelope, ok := graphstore.Envelope(counterparts)
			if !ok {
				continue
			}

			target := edge.TheirManifestationID
			if _, ok := visited[target]; ok {
				continue
			}

			if e.maxManifestations > 0 && len(visited) >= e.maxManifestations {
				return fail(traceSpan, fmt.Errorf("%w: more than %d manifestations reachable from %q",
					ErrTraversalLimitExceeded, e.maxManifestations, sourceManifestationID))
			}

			segments := counterparts
			if mode == ModeTransformed {
				segments, err = e.reader.OverlappingSegmentationSegments(ctx, target, envelope)
				if err != nil {
					return fail(traceSpan, fmt.Errorf("segmentation of %q in %s: %w", target, envelope, err))
				}
			}
			if segments == nil {
				segments = []graphstore.Segment{}
			}

			result = append(result, Mapping{ManifestationID: target, Segments: segments})
			visited[target] = struct{}{}
			frontier.Enqueue(frontierItem{manifestationID: target, span: envelope})
		}
	}

	e.logger.DebugWithContext(ctx, "traversal complete",
		zap.String("manifestation_id", sourceManifestationID),
		zap.Stringer("span", span),
		zap.Int("related_manifestations", len(result)),
	)
	traceSpan.SetAttributes(attribute.Int("related_manifestations", len(result)))

	return result, nil
}

// Engines holds one Engine per configured environment, built once at startup.
type Engines struct {
	registry *graphstore.Registry
	engines  map[graphstore.Environment]*Engine
}

// NewEngines builds an engine for every environment configured in registry.
func NewEngines(registry *graphstore.Registry, opts ...EngineOption) *Engines {
	e := &Engines{
		registry: registry,
		engines:  make(map[graphstore.Environment]*Engine),
	}

	for _, env := range registry.Configured() {
		reader, _ := registry.Reader(string(env))
		e.engines[env] = NewEngine(reader, opts...)
	}

	return e
}

// For returns the engine for the environment named by label, or an error wrapping
// graphstore.ErrUnknownEnvironment.
func (e *Engines) For(label string) (*Engine, error) {
	env, err := graphstore.ParseEnvironment(label)
	if err != nil {
		return nil, err
	}

	engine, ok := e.engines[env]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", graphstore.ErrUnknownEnvironment, env)
	}
	return engine, nil
}

func fail(span trace.Span, err error) ([]Mapping, error) {
	telemetry.TraceError(span, err)
	return nil, err
}
