// Package memory provides an in-process queue with at-least-once semantics, used for tests and
// local runs.
package memory

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
)

// Rejection is a message rejected through Reject.
type Rejection struct {
	Message queue.Message
	Reason  string
}

// Queue implements both [queue.Receiver] and [queue.Sender]. Received messages stay in flight
// until acknowledged, rejected, or handed back with Redeliver.
type Queue struct {
	mu       sync.Mutex
	pending  []queue.Message
	inFlight map[string]queue.Message // GUARDED_BY(mu). Keyed by receipt handle.
	acked    []queue.Message
	rejected []Rejection
	counts   map[string]int

	signal      chan struct{}
	maxMessages int
	wait        time.Duration
}

var (
	_ queue.Receiver = (*Queue)(nil)
	_ queue.Sender   = (*Queue)(nil)
)

// Option defines a function type used for configuring a [Queue].
type Option func(*Queue)

// WithMaxMessages bounds the number of messages returned by one Receive.
func WithMaxMessages(n int) Option {
	return func(q *Queue) {
		q.maxMessages = n
	}
}

// WithWaitTime sets how long an empty Receive waits for a message.
func WithWaitTime(d time.Duration) Option {
	return func(q *Queue) {
		q.wait = d
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		inFlight:    make(map[string]queue.Message),
		counts:      make(map[string]int),
		signal:      make(chan struct{}, 1),
		maxMessages: 10,
		wait:        50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send see [queue.Sender].Send.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageID, err := id.NewRowID()
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.pending = append(q.pending, queue.Message{ID: messageID, Body: slices.Clone(body)})
	q.mu.Unlock()

	q.notify()
	return nil
}

// Receive see [queue.Receiver].Receive.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	for {
		if messages := q.take(); len(messages) > 0 {
			return messages, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return q.take(), nil
		case <-q.signal:
		}
	}
}

func (q *Queue) take() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(q.pending), q.maxMessages)
	if n == 0 {
		return nil
	}

	messages := make([]queue.Message, 0, n)
	for _, msg := range q.pending[:n] {
		q.counts[msg.ID]++
		msg.ReceiveCount = q.counts[msg.ID]
		msg.ReceiptHandle = msg.ID + "#" + strconv.Itoa(msg.ReceiveCount)
		q.inFlight[msg.ReceiptHandle] = msg
		messages = append(messages, msg)
	}
	q.pending = slices.Delete(q.pending, 0, n)

	if len(q.pending) > 0 {
		q.notify()
	}
	return messages
}

// Ack see [queue.Receiver].Ack. Acknowledging a stale delivery is a no-op.
func (q *Queue) Ack(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m, ok := q.inFlight[msg.ReceiptHandle]; ok {
		delete(q.inFlight, msg.ReceiptHandle)
		q.acked = append(q.acked, m)
	}
	return nil
}

// Reject see [queue.Receiver].Reject.
func (q *Queue) Reject(_ context.Context, msg queue.Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m, ok := q.inFlight[msg.ReceiptHandle]; ok {
		delete(q.inFlight, msg.ReceiptHandle)
		q.rejected = append(q.rejected, Rejection{Message: m, Reason: reason})
	}
	return nil
}

// Redeliver returns every in-flight message to the queue, as an expired visibility timeout would.
func (q *Queue) Redeliver() int {
	q.mu.Lock()
	returned := make([]queue.Message, 0, len(q.inFlight))
	for handle, msg := range q.inFlight {
		delete(q.inFlight, handle)
		msg.ReceiptHandle = ""
		msg.ReceiveCount = 0
		returned = append(returned, msg)
	}
	slices.SortFunc(returned, func(a, b queue.Message) int { return strings.Compare(a.ID, b.ID) })
	q.pending = append(q.pending, returned...)
	n := len(returned)
	q.mu.Unlock()

	if n > 0 {
		q.notify()
	}
	return n
}

// Acked returns the acknowledged messages in acknowledgement order.
func (q *Queue) Acked() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.acked)
}

// Rejected returns the rejected messages in rejection order.
func (q *Queue) Rejected() []Rejection {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.rejected)
}

// Pending returns the bodies of messages waiting to be received.
func (q *Queue) Pending() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	bodies := make([][]byte, 0, len(q.pending))
	for _, msg := range q.pending {
		bodies = append(bodies, msg.Body)
	}
	return bodies
}

// InFlight returns the number of received messages that are neither acknowledged nor rejected.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
