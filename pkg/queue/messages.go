package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

// SpanRef is the wire form of a half-open span.
type SpanRef struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gtfield=Start"`
}

// SegmentRef is one segment of an inbound batch.
type SegmentRef struct {
	SegmentID string  `json:"segment_id" validate:"required"`
	Span      SpanRef `json:"span"`
}

// AsSegment converts the reference to the graph's segment type.
func (r SegmentRef) AsSegment() graphstore.Segment {
	return graphstore.Segment{ID: r.SegmentID, Span: graphstore.Span{Start: r.Span.Start, End: r.Span.End}}
}

// BatchMessage is the inbound message asking for the relations of a batch of segments of one
// root job.
type BatchMessage struct {
	RootJobID              string       `json:"root_job_id" validate:"required,uuid"`
	TextID                 string       `json:"text_id" validate:"required"`
	BatchNumber            int          `json:"batch_number" validate:"gte=0"`
	TotalSegments          int          `json:"total_segments" validate:"gte=1"`
	Segments               []SegmentRef `json:"segments" validate:"required,min=1,dive"`
	SourceEnvironment      string       `json:"source_environment" validate:"required,environment"`
	DestinationEnvironment string       `json:"destination_environment"`
}

// CompletionMessage is the outbound message sent once per processed batch.
type CompletionMessage struct {
	TextID                 string   `json:"text_id"`
	SegmentIDs             []string `json:"segment_ids"`
	TotalSegments          int      `json:"total_segments"`
	SourceEnvironment      string   `json:"source_environment"`
	DestinationEnvironment string   `json:"destination_environment"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("environment", func(fl validator.FieldLevel) bool {
		_, err := graphstore.ParseEnvironment(fl.Field().String())
		return err == nil
	})
	return v
}

// DecodeBatch decodes and validates an inbound batch body. Every failure wraps ErrInvalidMessage.
func DecodeBatch(body []byte) (*BatchMessage, error) {
	var msg BatchMessage

	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if err := validate.Struct(&msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, describe(err))
	}

	return &msg, nil
}

// Encode returns the JSON body of msg.
func (m *BatchMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func describe(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return err.Error()
	}

	parts := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.TrimPrefix(fe.Namespace(), "BatchMessage.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Notifier publishes completion messages through a Sender.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify encodes msg and sends it.
func (n *Notifier) Notify(ctx context.Context, msg CompletionMessage) error {
	if msg.SegmentIDs == nil {
		msg.SegmentIDs = []string{}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode completion message: %w", err)
	}

	return n.sender.Send(ctx, body)
}
