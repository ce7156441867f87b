// Package batch runs the traversal for every segment of one inbound batch, persists the results
// and reports the batch as complete.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/internal/concurrency"
	"github.com/segmentmapper/segmentmapper/internal/traversal"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

var tracer = otel.Tracer("segmentmapper/internal/batch")

var (
	// ErrInvalidBatch marks input errors. Retrying such a batch cannot succeed.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrTraversal marks a failed graph traversal for one of the batch's segments.
	ErrTraversal = errors.New("traversal failed")

	// ErrStoreWrite marks a failed write to the mapping store.
	ErrStoreWrite = errors.New("mapping store write failed")

	// ErrNotify marks a failed completion notification. The batch's mappings and job progress
	// were already written when it is returned.
	ErrNotify = errors.New("completion notification failed")
)

// SegmentRef is a segment of the batch's document.
type SegmentRef struct {
	ID   string
	Span graphstore.Span
}

// Batch is a slice of a root job's segments processed as one unit.
type Batch struct {
	RootJobID              string
	DocumentID             string
	TotalSegments          int
	Segments               []SegmentRef
	Environment            string
	DestinationEnvironment string
	BatchNumber            int
}

// FromMessage converts a decoded inbound message.
func FromMessage(msg *queue.BatchMessage) Batch {
	segments := make([]SegmentRef, 0, len(msg.Segments))
	for _, s := range msg.Segments {
		seg := s.AsSegment()
		segments = append(segments, SegmentRef{ID: seg.ID, Span: seg.Span})
	}

	return Batch{
		RootJobID:              msg.RootJobID,
		DocumentID:             msg.TextID,
		TotalSegments:          msg.TotalSegments,
		Segments:               segments,
		Environment:            msg.SourceEnvironment,
		DestinationEnvironment: msg.DestinationEnvironment,
		BatchNumber:            msg.BatchNumber,
	}
}

// SegmentIDs returns the ids of the batch's segments in batch order.
func (b Batch) SegmentIDs() []string {
	ids := make([]string, 0, len(b.Segments))
	for _, s := range b.Segments {
		ids = append(ids, s.ID)
	}
	return ids
}

// Validate returns an error wrapping ErrInvalidBatch when the batch cannot be processed.
func (b Batch) Validate() error {
	if !id.IsValidJobID(b.RootJobID) {
		return fmt.Errorf("%w: root job id %q is not a uuid", ErrInvalidBatch, b.RootJobID)
	}
	if b.DocumentID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidBatch)
	}
	if b.TotalSegments < 1 {
		return fmt.Errorf("%w: total segments must be positive, got %d", ErrInvalidBatch, b.TotalSegments)
	}
	if len(b.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidBatch)
	}

	seen := make(map[string]struct{}, len(b.Segments))
	for _, s := range b.Segments {
		if s.ID == "" {
			return fmt.Errorf("%w: segment id is required", ErrInvalidBatch)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: duplicate segment %q", ErrInvalidBatch, s.ID)
		}
		seen[s.ID] = struct{}{}

		if err := s.Span.Validate(); err != nil {
			return fmt.Errorf("%w: segment %q: %w", ErrInvalidBatch, s.ID, err)
		}
	}

	return nil
}

// Notifier publishes the completion of a batch.
type Notifier interface {
	Notify(ctx context.Context, msg queue.CompletionMessage) error
}

// Processor processes batches. It is safe for concurrent use.
type Processor struct {
	engines     *traversal.Engines
	store       storage.MappingStore
	notifier    Notifier
	concurrency int
	logger      logger.Logger
}

// ProcessorOption defines a function type used for configuring a [Processor].
type ProcessorOption func(*Processor)

// WithConcurrency sets how many segments of one batch are traversed in parallel.
func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		p.concurrency = n
	}
}

func WithLogger(l logger.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

func NewProcessor(engines *traversal.Engines, store storage.MappingStore, notifier Notifier, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engines:     engines,
		store:       store,
		notifier:    notifier,
		concurrency: 1,
		logger:      logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ProcessBatch computes and stores the relations of every segment in b, then advances the root
// job's progress by the number of segments and sends one completion notification. If any
// segment fails nothing is advanced or notified; mappings already written stay in place and are
// overwritten when the batch is redelivered.
func (p *Processor) ProcessBatch(ctx context.Context, b Batch) error {
	ctx, span := tracer.Start(ctx, "batch.ProcessBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("root_job_id", b.RootJobID),
		attribute.String("text_id", b.DocumentID),
		attribute.Int("batch_number", b.BatchNumber),
		attribute.Int("segments", len(b.Segments)),
	)

	err := p.process(ctx, b)
	if err != nil {
		telemetry.TraceError(span, err)
	}
	return err
}

func (p *Processor) process(ctx context.Context, b Batch) error {
	log := p.logger.With(
		zap.String("root_job_id", b.RootJobID),
		zap.String("text_id", b.DocumentID),
		zap.Int("batch_number", b.BatchNumber),
	)

	if err := b.Validate(); err != nil {
		log.WarnWithContext(ctx, "rejecting batch", zap.Error(err))
		return err
	}

	err := p.store.CreateRootJob(ctx, storage.RootJob{
		JobID:         b.RootJobID,
		TextID:        b.DocumentID,
		TotalSegments: b.TotalSegments,
	})
	if err != nil {
		log.ErrorWithContext(ctx, "failed to create root job", zap.Error(err))
		return fmt.Errorf("%w: create root job: %w", ErrStoreWrite, err)
	}

	engine, err := p.engines.For(b.Environment)
	if err != nil {
		log.WarnWithContext(ctx, "rejecting batch", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}

	if err := p.processSegments(ctx, log, engine, b); err != nil {
		return err
	}

	if err := p.store.AdvanceJobProgress(ctx, b.RootJobID, len(b.Segments)); err != nil {
		log.ErrorWithContext(ctx, "failed to advance job progress", zap.Error(err))
		return fmt.Errorf("%w: advance job progress: %w", ErrStoreWrite, err)
	}

	err = p.notifier.Notify(ctx, queue.CompletionMessage{
		TextID:                 b.DocumentID,
		SegmentIDs:             b.SegmentIDs(),
		TotalSegments:          b.TotalSegments,
		SourceEnvironment:      b.Environment,
		DestinationEnvironment: b.DestinationEnvironment,
	})
	if err != nil {
		log.ErrorWithContext(ctx, "failed to send completion notification", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	log.InfoWithContext(ctx, "batch processed", zap.Int("segments", len(b.Segments)))
	return nil
}

func (p *Processor) processSegments(ctx context.Context, log logger.Logger, engine *traversal.Engine, b Batch) error {
	if p.concurrency <= 1 || len(b.Segments) == 1 {
		for _, seg := range b.Segments {
			if err := p.processSegment(ctx, log, engine, b, seg); err != nil {
				return err
			}
		}
		return nil
	}

	pool := concurrency.NewPool(ctx, min(p.concurrency, len(b.Segments)))
	for _, seg := range b.Segments {
		pool.Go(func(ctx context.Context) error {
			return p.processSegment(ctx, log, engine, b, seg)
		})
	}
	return pool.Wait()
}

func (p *Processor) processSegment(ctx context.Context, log logger.Logger, engine *traversal.Engine, b Batch, seg SegmentRef) error {
	log = log.With(zap.String("segment_id", seg.ID))

	mappings, err := engine.ComputeRelatedSegments(ctx, b.DocumentID, seg.Span)
	if err != nil {
		log.ErrorWithContext(ctx, "traversal failed", zap.Stringer("span", seg.Span), zap.Error(err))
		return fmt.Errorf("%w: segment %q: %w", ErrTraversal, seg.ID, err)
	}

	result, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("%w: encode mappings of segment %q: %w", ErrStoreWrite, seg.ID, err)
	}

	if err := p.store.UpsertSegmentMapping(ctx, b.RootJobID, seg.ID, result); err != nil {
		log.ErrorWithContext(ctx, "failed to store segment mapping", zap.Error(err))
		return fmt.Errorf("%w: segment %q: %w", ErrStoreWrite, seg.ID, err)
	}

	log.DebugWithContext(ctx, "segment mapped", zap.Int("related_manifestations", len(mappings)))
	return nil
}
