//go:generate mockgen -source queue.go -destination ../../internal/mocks/mock_queue.go -package mocks Receiver,Sender

// Package queue defines the messages exchanged with the upstream and downstream queues and the
// transport-neutral interfaces the worker consumes them through.
package queue

import (
	"context"
	"errors"
)

// ErrInvalidMessage wraps every decoding or validation failure of an inbound message.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one delivery received from a queue. ReceiptHandle identifies the delivery, not the
// message: acknowledging requires the handle of the current delivery.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string

	// ReceiveCount is the number of times the transport has delivered this message, when known.
	ReceiveCount int
}

// Receiver consumes messages from a queue with at-least-once delivery.
type Receiver interface {
	// Receive waits for the next messages. It may return an empty slice when none arrived within
	// the transport's polling window.
	Receive(ctx context.Context) ([]Message, error)

	// Ack removes a successfully processed message from the queue.
	Ack(ctx context.Context, msg Message) error

	// Reject removes a message that must never be retried, routing it to the dead-letter queue
	// when one is configured.
	Reject(ctx context.Context, msg Message, reason string) error
}

// Sender publishes message bodies to a queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}
