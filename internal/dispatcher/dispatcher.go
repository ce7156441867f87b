// Package dispatcher splits a manifestation's segmentation into inbound batch messages.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

var tracer = otel.Tracer("segmentmapper/internal/dispatcher")

// ErrNoSegmentation is returned for manifestations without a segmentation or pagination.
var ErrNoSegmentation = errors.New("manifestation has no segmentation")

const defaultBatchSize = 50

// Request names the manifestation to map and where its batches are read from and forwarded to.
type Request struct {
	ManifestationID        string
	Environment            string
	DestinationEnvironment string

	// JobID is generated when empty.
	JobID string
}

// Result describes the dispatched job.
type Result struct {
	JobID         string
	TotalSegments int
	Batches       int
}

// Dispatcher creates root jobs and enqueues their batches.
type Dispatcher struct {
	registry  *graphstore.Registry
	store     storage.MappingStore
	sender    queue.Sender
	batchSize int
	logger    logger.Logger
}

// Option defines a function type used for configuring a [Dispatcher].
type Option func(*Dispatcher)

// WithBatchSize sets the number of segments per batch message.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		d.batchSize = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func New(registry *graphstore.Registry, store storage.MappingStore, sender queue.Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		store:     store,
		sender:    sender,
		batchSize: defaultBatchSize,
		logger:    logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.batchSize < 1 {
		d.batchSize = defaultBatchSize
	}
	return d
}

// Dispatch reads the manifestation's segmentation, creates a root job covering every segment
// and sends one batch message per BatchSize segments, numbered from 1.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("manifestation_id", req.ManifestationID))

	res, err := d.dispatch(ctx, req)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.ManifestationID == "" {
		return nil, errors.New("manifestation id is required")
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = id.NewJobID()
	}
	if !id.IsValidJobID(jobID) {
		return nil, fmt.Errorf("job id %q is not a uuid", jobID)
	}

	reader, err := d.registry.Reader(req.Environment)
	if err != nil {
		return nil, err
	}

	segments, err := reader.SegmentationSegments(ctx, req.ManifestationID)
	if err != nil {
		return nil, fmt.Errorf("segmentation of %q: %w", req.ManifestationID, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSegmentation, req.ManifestationID)
	}

	log := d.logger.With(
		zap.String("root_job_id", jobID),
		zap.String("text_id", req.ManifestationID),
	)

	err = d.store.CreateRootJob(ctx, storage.RootJob{
		JobID:         jobID,
		TextID:        req.ManifestationID,
		TotalSegments: len(segments),
	})
	if err != nil {
		return nil, fmt.Errorf("create root job: %w", err)
	}

	batches := 0
	for chunk := range slices.Chunk(segments, d.batchSize) {
		batches++

		msg := queue.BatchMessage{
			RootJobID:              jobID,
			TextID:                 req.ManifestationID,
			BatchNumber:            batches,
			TotalSegments:          len(segments),
			Segments:               make([]queue.SegmentRef, 0, len(chunk)),
			SourceEnvironment:      req.Environment,
			DestinationEnvironment: req.DestinationEnvironment,
		}
		for _, seg := range chunk {
			msg.Segments = append(msg.Segments, queue.SegmentRef{
				SegmentID: seg.ID,
				Span:      queue.SpanRef{Start: seg.Span.Start, End: seg.Span.End},
			})
		}

		body, err := msg.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode batch %d: %w", batches, err)
		}

		if err := d.sender.Send(ctx, body); err != nil {
			log.ErrorWithContext(ctx, "failed to enqueue batch", zap.Int("batch_number", batches), zap.Error(err))
			return nil, fmt.Errorf("enqueue batch %d: %w", batches, err)
		}
	}

	log.InfoWithContext(ctx, "job dispatched",
		zap.Int("total_segments", len(segments)),
		zap.Int("batches", batches),
	)

	return &Result{JobID: jobID, TotalSegments: len(segments), Batches: batches}, nil
}
