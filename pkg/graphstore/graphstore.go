//go:generate mockgen -source graphstore.go -destination ../../internal/mocks/mock_graphstore.go -package mocks Reader

// Package graphstore defines the read-only view of the alignment graph that traversal runs
// against, and the types exchanged with it.
package graphstore

import (
	"context"
	"errors"
)

var (
	// ErrGraphRead wraps every failure to read from the backing graph database.
	ErrGraphRead = errors.New("graph read failed")

	// ErrUnknownEnvironment is returned when a message names an environment the worker has
	// not been configured for.
	ErrUnknownEnvironment = errors.New("unknown graph environment")

	// ErrInvalidSpan is returned for spans whose start is not strictly before their end.
	ErrInvalidSpan = errors.New("invalid span")
)

// AlignmentEdge is one alignment relation seen from a manifestation: Ours is the alignment
// annotation on that manifestation, Theirs the paired annotation on TheirManifestationID.
type AlignmentEdge struct {
	Ours                 string `json:"alignment_1_id"`
	Theirs               string `json:"alignment_2_id"`
	TheirManifestationID string `json:"manifestation_id"`
}

// Segment is a member of an annotation covering Span of its manifestation.
type Segment struct {
	ID   string `json:"segment_id"`
	Span Span   `json:"span"`
}

// Reader is the set of graph queries traversal depends on. Implementations never mutate the
// graph and must be safe for concurrent use.
type Reader interface {
	// AlignmentEdgesOf returns every alignment relation whose own side belongs to the manifestation.
	AlignmentEdgesOf(ctx context.Context, manifestationID string) ([]AlignmentEdge, error)

	// AlignedCounterpartSegments returns the distinct segments of the annotation paired with
	// alignmentID that are linked to its segments overlapping span, ordered by start.
	AlignedCounterpartSegments(ctx context.Context, alignmentID string, span Span) ([]Segment, error)

	// OverlappingSegmentationSegments returns the segments of the manifestation's segmentation
	// annotation overlapping span, ordered by start.
	OverlappingSegmentationSegments(ctx context.Context, manifestationID string, span Span) ([]Segment, error)

	// SegmentationSegments returns every segment of the manifestation's segmentation (or, when
	// absent, pagination) annotation ordered by start.
	SegmentationSegments(ctx context.Context, manifestationID string) ([]Segment, error)
}
