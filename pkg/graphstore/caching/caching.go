// Package caching wraps a [graphstore.Reader] with a read-through cache. The graph is treated
// as immutable for the lifetime of an entry, so a cached answer is always a valid answer.
package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/pkg/cache"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
)

const (
	defaultMaxCacheSize = 10000
	defaultCacheTTL     = 10 * time.Minute
	defaultKeyPrefix    = "gs:"
)

var tracer = otel.Tracer("segmentmapper/pkg/graphstore/caching")

var (
	graphCacheTotalCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "graph_cache_total_count",
		Help:      "The total number of graph reads served through the cache.",
	}, []string{"operation"})

	graphCacheHitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "graph_cache_hit_count",
		Help:      "The total number of graph reads answered from the cache.",
	}, []string{"operation", "tier"})

	graphCacheErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "graph_cache_error_count",
		Help:      "The total number of failed remote cache operations, each treated as a miss.",
	}, []string{"operation"})
)

// Reader is a caching [graphstore.Reader].
type Reader struct {
	delegate graphstore.Reader
	local    *theine.Cache[string, any]
	remote   cache.Cache
	group    singleflight.Group

	maxCacheSize int64
	ttl          time.Duration
	keyPrefix    string
	logger       logger.Logger
}

var _ graphstore.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithMaxCacheSize bounds the number of entries in the local tier.
func WithMaxCacheSize(size int64) Option {
	return func(r *Reader) {
		r.maxCacheSize = size
	}
}

// WithCacheTTL sets how long a local entry lives. The remote tier uses its own TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Reader) {
		r.ttl = ttl
	}
}

// WithRemoteCache adds a shared tier consulted on local misses.
func WithRemoteCache(c cache.Cache) Option {
	return func(r *Reader) {
		r.remote = c
	}
}

// WithKeyPrefix namespaces keys, typically with the environment label so that two graphs never
// share entries.
func WithKeyPrefix(prefix string) Option {
	return func(r *Reader) {
		r.keyPrefix = prefix
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		r.logger = l
	}
}

// New wraps delegate.
func New(delegate graphstore.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		delegate:     delegate,
		maxCacheSize: defaultMaxCacheSize,
		ttl:          defaultCacheTTL,
		keyPrefix:    defaultKeyPrefix,
		logger:       logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", r.ttl)
	}

	local, err := theine.NewBuilder[string, any](r.maxCacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("building local graph cache: %w", err)
	}
	r.local = local

	return r, nil
}

// Close releases the local tier. The remote cache and the delegate are owned by the caller.
func (r *Reader) Close() {
	r.local.Close()
}

// AlignmentEdgesOf see [graphstore.Reader].AlignmentEdgesOf.
func (r *Reader) AlignmentEdgesOf(ctx context.Context, manifestationID string) ([]graphstore.AlignmentEdge, error) {
	return read(ctx, r, "AlignmentEdgesOf", alignmentEdgesKey(r.keyPrefix, manifestationID),
		func(ctx context.Context) ([]graphstore.AlignmentEdge, error) {
			return r.delegate.AlignmentEdgesOf(ctx, manifestationID)
		})
}

// AlignedCounterpartSegments see [graphstore.Reader].AlignedCounterpartSegments.
func (r *Reader) AlignedCounterpartSegments(ctx context.Context, alignmentID string, span graphstore.Span) ([]graphstore.Segment, error) {
	return read(ctx, r, "AlignedCounterpartSegments", counterpartKey(r.keyPrefix, alignmentID, span),
		func(ctx context.Context) ([]graphstore.Segment, error) {
			return r.delegate.AlignedCounterpartSegments(ctx, alignmentID, span)
		})
}

// OverlappingSegmentationSegments see [graphstore.Reader].OverlappingSegmentationSegments.
func (r *Reader) OverlappingSegmentationSegments(ctx context.Context, manifestationID string, span graphstore.Span) ([]graphstore.Segment, error) {
	return read(ctx, r, "OverlappingSegmentationSegments", overlappingKey(r.keyPrefix, manifestationID, span),
		func(ctx context.Context) ([]graphstore.Segment, error) {
			return r.delegate.OverlappingSegmentationSegments(ctx, manifestationID, span)
		})
}

// SegmentationSegments see [graphstore.Reader].SegmentationSegments.
func (r *Reader) SegmentationSegments(ctx context.Context, manifestationID string) ([]graphstore.Segment, error) {
	return read(ctx, r, "SegmentationSegments", segmentationKey(r.keyPrefix, manifestationID),
		func(ctx context.Context) ([]graphstore.Segment, error) {
			return r.delegate.SegmentationSegments(ctx, manifestationID)
		})
}

// read answers from the local tier, then the remote tier, then the delegate. Errors from the
// delegate are returned and never cached. A caller whose own context is still live retries a
// shared load that failed on another caller's context.
func read[T any](ctx context.Context, r *Reader, op, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	ctx, span := tracer.Start(ctx, "caching."+op)
	defer span.End()

	graphCacheTotalCounter.WithLabelValues(op).Inc()

	if v, ok := r.local.Get(key); ok {
		if res, ok := v.([]T); ok {
			graphCacheHitCounter.WithLabelValues(op, "local").Inc()
			span.SetAttributes(attribute.Bool("cached", true))
			return res, nil
		}
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		if res, ok := r.fromRemote(ctx, op, key, span); ok {
			graphCacheHitCounter.WithLabelValues(op, "remote").Inc()
			r.local.SetWithTTL(key, res, 1, r.ttl)
			return res, nil
		}

		res, err := load(ctx)
		if err != nil {
			return nil, err
		}

		r.local.SetWithTTL(key, res, 1, r.ttl)
		r.toRemote(ctx, op, key, res)
		return res, nil
	})
	if err != nil {
		// A shared load runs under the context of the caller that started it.
		if shared && isContextError(err) && ctx.Err() == nil {
			res, err := load(ctx)
			if err != nil {
				return nil, err
			}
			r.local.SetWithTTL(key, res, 1, r.ttl)
			return res, nil
		}
		return nil, err
	}

	return v.([]T), nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Reader) fromRemote(ctx context.Context, op, key string, span trace.Span) (any, bool) {
	if r.remote == nil {
		return nil, false
	}

	body, err := r.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			graphCacheErrorCounter.WithLabelValues(op).Inc()
			r.logger.WarnWithContext(ctx, "remote graph cache read failed", zap.String("operation", op), zap.Error(err))
		}
		return nil, false
	}

	res, err := decode(op, body)
	if err != nil {
		graphCacheErrorCounter.WithLabelValues(op).Inc()
		r.logger.WarnWithContext(ctx, "discarding undecodable graph cache entry", zap.String("operation", op), zap.Error(err))
		return nil, false
	}

	span.SetAttributes(attribute.Bool("cached", true))
	return res, true
}

func (r *Reader) toRemote(ctx context.Context, op, key string, value any) {
	if r.remote == nil {
		return
	}

	body, err := json.Marshal(value)
	if err != nil {
		r.logger.WarnWithContext(ctx, "encoding graph cache entry", zap.String("operation", op), zap.Error(err))
		return
	}

	if err := r.remote.Set(ctx, key, body); err != nil {
		graphCacheErrorCounter.WithLabelValues(op).Inc()
		r.logger.WarnWithContext(ctx, "remote graph cache write failed", zap.String("operation", op), zap.Error(err))
	}
}

func decode(op string, body []byte) (any, error) {
	if op == "AlignmentEdgesOf" {
		var edges []graphstore.AlignmentEdge
		err := json.Unmarshal(body, &edges)
		return edges, err
	}

	var segments []graphstore.Segment
	err := json.Unmarshal(body, &segments)
	return segments, err
}
