// Package worker consumes inbound batch messages and hands them to the batch processor.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/internal/batch"
	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/internal/concurrency"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

const (
	outcomeSuccess   = "success"
	outcomeRejected  = "rejected"
	outcomeTraversal = "traversal"
	outcomeStore     = "store_write"
	outcomeNotify    = "notify"
	outcomeOther     = "other"
)

var (
	batchesProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "batches_processed_count",
		Help:      "The total number of inbound batches handled, by outcome.",
	}, []string{"outcome"})

	batchDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "batch_duration_ms",
		Help:                            "Time spent handling one inbound batch.",
		Buckets:                         []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 60000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"outcome"})

	receiveErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "queue_receive_error_count",
		Help:      "The total number of failed receives from the inbound queue.",
	})
)

// BatchProcessor processes one decoded batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, b batch.Batch) error
}

// Worker polls a receiver and processes the received batches concurrently.
type Worker struct {
	receiver     queue.Receiver
	processor    BatchProcessor
	store        storage.MappingStore
	concurrency  int
	batchTimeout time.Duration
	pollBackoff  time.Duration
	logger       logger.Logger
}

// Option defines a function type used for configuring a [Worker].
type Option func(*Worker)

// WithConcurrency sets how many batches are processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		w.concurrency = n
	}
}

// WithBatchTimeout bounds the processing of one batch.
func WithBatchTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.batchTimeout = d
	}
}

// WithPollBackoff sets how long to wait after a failed receive.
func WithPollBackoff(d time.Duration) Option {
	return func(w *Worker) {
		w.pollBackoff = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// New returns a worker. store is used to record the segments of rejected batches as failed.
func New(receiver queue.Receiver, processor BatchProcessor, store storage.MappingStore, opts ...Option) *Worker {
	w := &Worker{
		receiver:     receiver,
		processor:    processor,
		store:        store,
		concurrency:  1,
		batchTimeout: 5 * time.Minute,
		pollBackoff:  time.Second,
		logger:       logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.concurrency = max(w.concurrency, 1)
	return w
}

// Run polls until ctx is canceled. Batches already handed to a goroutine are finished before
// Run returns; received messages that were not started are left for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Int("concurrency", w.concurrency))

	messages := make(chan queue.Message)
	p := concurrency.NewBoundedPool(w.concurrency)
	for range w.concurrency {
		p.Go(func() {
			for msg := range messages {
				w.handle(ctx, msg)
			}
		})
	}

	w.poll(ctx, messages)
	close(messages)
	p.Wait()

	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) poll(ctx context.Context, messages chan<- queue.Message) {
	for ctx.Err() == nil {
		received, err := w.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			receiveErrorCounter.Inc()
			w.logger.Error("failed to receive messages", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollBackoff):
			}
			continue
		}

		for _, msg := range received {
			if !concurrency.TrySendThroughChannel(ctx, msg, messages) {
				return
			}
		}
	}
}

// handle processes msg and settles it: acknowledged on success, rejected on input errors and
// otherwise left for the queue to redeliver.
func (w *Worker) handle(parent context.Context, msg queue.Message) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.batchTimeout)
	defer cancel()

	log := w.logger.With(zap.String("message_id", msg.ID), zap.Int("receive_count", msg.ReceiveCount))

	err := w.process(ctx, msg)
	outcome := classify(err)
	defer func() {
		batchesProcessedCounter.WithLabelValues(outcome).Inc()
		batchDurationHistogram.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
	}()

	switch outcome {
	case outcomeSuccess:
		if err := w.receiver.Ack(ctx, msg); err != nil {
			log.ErrorWithContext(ctx, "failed to acknowledge message", zap.Error(err))
		}
	case outcomeRejected:
		w.reject(ctx, log, msg, err)
	default:
		log.ErrorWithContext(ctx, "batch failed, leaving message for redelivery",
			zap.String("reason", outcome),
			zap.Error(err),
		)
	}
}

func (w *Worker) process(ctx context.Context, msg queue.Message) error {
	decoded, err := queue.DecodeBatch(msg.Body)
	if err != nil {
		return err
	}

	return w.processor.ProcessBatch(ctx, batch.FromMessage(decoded))
}

// reject marks every segment named by the message as failed, as far as the body can be read,
// and dead-letters the message. The root job is created first when the body carries enough to
// describe it.
func (w *Worker) reject(ctx context.Context, log logger.Logger, msg queue.Message, cause error) {
	body := gjson.ParseBytes(msg.Body)
	jobID := body.Get("root_job_id").String()
	log = log.With(
		zap.String("root_job_id", jobID),
		zap.String("text_id", body.Get("text_id").String()),
		zap.Int64("batch_number", body.Get("batch_number").Int()),
	)
	log.WarnWithContext(ctx, "rejecting message", zap.Error(cause))

	if id.IsValidJobID(jobID) {
		// A rejected first batch has not created the job yet; failed rows need it.
		textID, total := body.Get("text_id").String(), body.Get("total_segments").Int()
		if textID != "" && total >= 1 {
			err := w.store.CreateRootJob(ctx, storage.RootJob{JobID: jobID, TextID: textID, TotalSegments: int(total)})
			if err != nil {
				log.WarnWithContext(ctx, "failed to create root job for rejected message", zap.Error(err))
			}
		}

		for _, segmentID := range body.Get("segments.#.segment_id").Array() {
			if segmentID.String() == "" {
				continue
			}

			err := w.store.MarkSegmentFailed(ctx, jobID, segmentID.String(), cause.Error())
			if err != nil {
				log.WarnWithContext(ctx, "failed to mark segment failed",
					zap.String("segment_id", segmentID.String()),
					zap.Error(err),
				)
			}
		}
	}

	if err := w.receiver.Reject(ctx, msg, cause.Error()); err != nil {
		log.ErrorWithContext(ctx, "failed to reject message", zap.Error(err))
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, queue.ErrInvalidMessage), errors.Is(err, batch.ErrInvalidBatch):
		return outcomeRejected
	case errors.Is(err, batch.ErrTraversal):
		return outcomeTraversal
	case errors.Is(err, batch.ErrStoreWrite):
		return outcomeStore
	case errors.Is(err, batch.ErrNotify):
		return outcomeNotify
	default:
		return outcomeOther
	}
}
