// Package neo4j reads the alignment graph from a Neo4j database.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

var tracer = otel.Tracer("segmentmapper/pkg/graphstore/neo4j")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "neo4j."+name)
}

// Config holds the connection settings of one graph environment.
type Config struct {
	URI      string
	Username string
	Password string
	// Database selects a named database; empty uses the server default.
	Database string

	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
	// ConnectTimeout bounds how long New waits for the server to become reachable.
	ConnectTimeout time.Duration
}

type runFunc func(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)

// Store implements [graphstore.Reader] with read-routed Cypher queries.
type Store struct {
	driver neo4j.DriverWithContext
	run    runFunc
	logger logger.Logger
}

var _ graphstore.Reader = (*Store)(nil)

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New connects to the database described by cfg and waits, with exponential backoff, until it
// answers.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectionTimeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize neo4j driver: %w", err)
	}

	s := newStore(nil, opts...)
	s.driver = driver
	s.run = func(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
		settings := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
		if cfg.Database != "" {
			settings = append(settings, neo4j.ExecuteQueryWithDatabase(cfg.Database))
		}

		result, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, settings...)
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	if policy.MaxElapsedTime == 0 {
		policy.MaxElapsedTime = time.Minute
	}
	attempt := 1
	err = backoff.Retry(func() error {
		err := driver.VerifyConnectivity(ctx)
		if err != nil {
			s.logger.Info("waiting for graph database", zap.String("uri", cfg.URI), zap.Int("attempt", attempt))
			attempt++
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return s, nil
}

func newStore(run runFunc, opts ...Option) *Store {
	s := &Store{
		run:    run,
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// AlignmentEdgesOf see [graphstore.Reader].AlignmentEdgesOf.
func (s *Store) AlignmentEdgesOf(ctx context.Context, manifestationID string) ([]graphstore.AlignmentEdge, error) {
	ctx, span := startTrace(ctx, "AlignmentEdgesOf")
	defer span.End()
	span.SetAttributes(attribute.String("manifestation_id", manifestationID))

	records, err := s.query(ctx, span, "AlignmentEdgesOf", alignmentEdgesQuery, map[string]any{
		"manifestation_id": manifestationID,
	})
	if err != nil {
		return nil, err
	}

	edges := make([]graphstore.AlignmentEdge, 0, len(records))
	for _, record := range records {
		var edge graphstore.AlignmentEdge
		if edge.Ours, err = stringValue(record, "ours"); err != nil {
			return nil, s.malformed(span, "AlignmentEdgesOf", err)
		}
		if edge.Theirs, err = stringValue(record, "theirs"); err != nil {
			return nil, s.malformed(span, "AlignmentEdgesOf", err)
		}
		if edge.TheirManifestationID, err = stringValue(record, "manifestation_id"); err != nil {
			return nil, s.malformed(span, "AlignmentEdgesOf", err)
		}
		edges = append(edges, edge)
	}

	return edges, nil
}

// AlignedCounterpartSegments see [graphstore.Reader].AlignedCounterpartSegments.
func (s *Store) AlignedCounterpartSegments(ctx context.Context, alignmentID string, span graphstore.Span) ([]graphstore.Segment, error) {
	ctx, traceSpan := startTrace(ctx, "AlignedCounterpartSegments")
	defer traceSpan.End()
	traceSpan.SetAttributes(attribute.String("alignment_id", alignmentID), attribute.String("span", span.String()))

	return s.segments(ctx, traceSpan, "AlignedCounterpartSegments", alignedCounterpartSegmentsQuery, map[string]any{
		"alignment_id": alignmentID,
		"span_start":   span.Start,
		"span_end":     span.End,
	})
}

// OverlappingSegmentationSegments see [graphstore.Reader].OverlappingSegmentationSegments.
func (s *Store) OverlappingSegmentationSegments(ctx context.Context, manifestationID string, span graphstore.Span) ([]graphstore.Segment, error) {
	ctx, traceSpan := startTrace(ctx, "OverlappingSegmentationSegments")
	defer traceSpan.End()
	traceSpan.SetAttributes(attribute.String("manifestation_id", manifestationID), attribute.String("span", span.String()))

	return s.segments(ctx, traceSpan, "OverlappingSegmentationSegments", overlappingSegmentationSegmentsQuery, map[string]any{
		"manifestation_id": manifestationID,
		"span_start":       span.Start,
		"span_end":         span.End,
	})
}

// SegmentationSegments see [graphstore.Reader].SegmentationSegments.
func (s *Store) SegmentationSegments(ctx context.Context, manifestationID string) ([]graphstore.Segment, error) {
	ctx, span := startTrace(ctx, "SegmentationSegments")
	defer span.End()
	span.SetAttributes(attribute.String("manifestation_id", manifestationID))

	return s.segments(ctx, span, "SegmentationSegments", segmentationSegmentsQuery, map[string]any{
		"manifestation_id": manifestationID,
	})
}

func (s *Store) segments(ctx context.Context, span trace.Span, op, query string, params map[string]any) ([]graphstore.Segment, error) {
	records, err := s.query(ctx, span, op, query, params)
	if err != nil {
		return nil, err
	}

	segments := make([]graphstore.Segment, 0, len(records))
	for _, record := range records {
		seg, err := segmentFromRecord(record)
		if err != nil {
			return nil, s.malformed(span, op, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func (s *Store) query(ctx context.Context, span trace.Span, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	records, err := s.run(ctx, query, params)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", graphstore.ErrGraphRead, op, err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (s *Store) malformed(span trace.Span, op string, err error) error {
	err = fmt.Errorf("%w: %s: malformed record: %w", graphstore.ErrGraphRead, op, err)
	telemetry.TraceError(span, err)
	s.logger.Error("unexpected graph record shape", zap.String("operation", op), zap.Error(err))
	return err
}

func segmentFromRecord(record *neo4j.Record) (graphstore.Segment, error) {
	id, err := stringValue(record, "segment_id")
	if err != nil {
		return graphstore.Segment{}, err
	}
	start, err := intValue(record, "span_start")
	if err != nil {
		return graphstore.Segment{}, err
	}
	end, err := intValue(record, "span_end")
	if err != nil {
		return graphstore.Segment{}, err
	}

	return graphstore.Segment{ID: id, Span: graphstore.Span{Start: start, End: end}}, nil
}

func stringValue(record *neo4j.Record, key string) (string, error) {
	value, isNil, err := neo4j.GetRecordValue[string](record, key)
	if err != nil {
		return "", err
	}
	if isNil {
		return "", fmt.Errorf("%s is null", key)
	}
	return value, nil
}

func intValue(record *neo4j.Record, key string) (int, error) {
	value, isNil, err := neo4j.GetRecordValue[int64](record, key)
	if err != nil {
		return 0, err
	}
	if isNil {
		return 0, fmt.Errorf("%s is null", key)
	}
	return int(value), nil
}
