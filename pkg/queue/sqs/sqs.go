// Package sqs implements the queue interfaces over Amazon SQS.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

var tracer = otel.Tracer("segmentmapper/pkg/queue/sqs")

// ErrQueueURLMissing is returned when a consumer or producer is built without a queue url.
var ErrQueueURLMissing = errors.New("missing queue url")

const rejectReasonAttribute = "reject_reason"

// API is the subset of the SQS client used here.
type API interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

var _ API = (*awssqs.Client)(nil)

// NewClient loads the default AWS configuration for region. A non-empty endpoint overrides the
// service endpoint, e.g. for a local emulator.
func NewClient(ctx context.Context, region, endpoint string) (*awssqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return awssqs.NewFromConfig(cfg, func(o *awssqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Consumer implements [queue.Receiver] with long polling.
type Consumer struct {
	api               API
	queueURL          string
	deadLetterURL     string
	maxMessages       int32
	waitTimeSeconds   int32
	visibilityTimeout int32
	logger            logger.Logger
}

var _ queue.Receiver = (*Consumer)(nil)

// ConsumerOption defines a function type used for configuring a [Consumer].
type ConsumerOption func(*Consumer)

// WithDeadLetterURL makes Reject forward messages to url before deleting them. Without it
// rejected messages are left for the queue's redrive policy.
func WithDeadLetterURL(url string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetterURL = url
	}
}

// WithMaxMessages sets the maximum number of messages per receive, between 1 and 10.
func WithMaxMessages(n int32) ConsumerOption {
	return func(c *Consumer) {
		c.maxMessages = n
	}
}

// WithWaitTimeSeconds sets the long polling window, at most 20 seconds.
func WithWaitTimeSeconds(n int32) ConsumerOption {
	return func(c *Consumer) {
		c.waitTimeSeconds = n
	}
}

// WithVisibilityTimeout overrides the queue's visibility timeout for received messages.
func WithVisibilityTimeout(seconds int32) ConsumerOption {
	return func(c *Consumer) {
		c.visibilityTimeout = seconds
	}
}

func WithLogger(l logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// NewConsumer returns a consumer of the queue at queueURL.
func NewConsumer(api API, queueURL string, opts ...ConsumerOption) (*Consumer, error) {
	if queueURL == "" {
		return nil, ErrQueueURLMissing
	}

	c := &Consumer{
		api:             api,
		queueURL:        queueURL,
		maxMessages:     10,
		waitTimeSeconds: 20,
		logger:          logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.maxMessages = min(max(c.maxMessages, 1), 10)
	c.waitTimeSeconds = min(max(c.waitTimeSeconds, 0), 20)

	return c, nil
}

// Receive see [queue.Receiver].Receive.
func (c *Consumer) Receive(ctx context.Context) ([]queue.Message, error) {
	input := &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitTimeSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	if c.visibilityTimeout > 0 {
		input.VisibilityTimeout = c.visibilityTimeout
	}

	out, err := c.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", c.queueURL, err)
	}

	messages := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := queue.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if count, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			msg.ReceiveCount, _ = strconv.Atoi(count)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Ack see [queue.Receiver].Ack.
func (c *Consumer) Ack(ctx context.Context, msg queue.Message) error {
	ctx, span := tracer.Start(ctx, "sqs.Ack")
	defer span.End()

	_, err := c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		err = fmt.Errorf("delete message %s: %w", msg.ID, err)
		telemetry.TraceError(span, err)
		return err
	}

	return nil
}

// Reject see [queue.Receiver].Reject.
func (c *Consumer) Reject(ctx context.Context, msg queue.Message, reason string) error {
	ctx, span := tracer.Start(ctx, "sqs.Reject")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", msg.ID))

	if c.deadLetterURL == "" {
		c.logger.WarnWithContext(ctx, "no dead-letter queue configured, leaving rejected message for the redrive policy",
			zap.String("message_id", msg.ID),
			zap.String("reason", reason),
		)
		return nil
	}

	_, err := c.api.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(c.deadLetterURL),
		MessageBody: aws.String(string(msg.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			rejectReasonAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		err = fmt.Errorf("forward message %s to dead-letter queue: %w", msg.ID, err)
		telemetry.TraceError(span, err)
		return err
	}

	return c.Ack(ctx, msg)
}

// Producer implements [queue.Sender].
type Producer struct {
	api      API
	queueURL string
}

var _ queue.Sender = (*Producer)(nil)

// NewProducer returns a producer for the queue at queueURL.
func NewProducer(api API, queueURL string) (*Producer, error) {
	if queueURL == "" {
		return nil, ErrQueueURLMissing
	}

	return &Producer{api: api, queueURL: queueURL}, nil
}

// Send see [queue.Sender].Send.
func (p *Producer) Send(ctx context.Context, body []byte) error {
	ctx, span := tracer.Start(ctx, "sqs.Send")
	defer span.End()

	_, err := p.api.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		err = fmt.Errorf("send to %s: %w", p.queueURL, err)
		telemetry.TraceError(span, err)
		return err
	}

	return nil
}
