package graphstore

import "fmt"

// Span is a half-open interval [Start, End) in a manifestation's local coordinates.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Validate returns ErrInvalidSpan unless 0 <= Start < End.
func (s Span) Validate() error {
	if s.Start < 0 || s.Start >= s.End {
		return fmt.Errorf("%w: %s", ErrInvalidSpan, s)
	}
	return nil
}

// Overlaps reports whether the intersection of s and other is non-empty.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Envelope returns the smallest span covering every segment. ok is false for an empty input.
func Envelope(segments []Segment) (span Span, ok bool) {
	if len(segments) == 0 {
		return Span{}, false
	}

	span = segments[0].Span
	for _, seg := range segments[1:] {
		span.Start = min(span.Start, seg.Span.Start)
		span.End = max(span.End, seg.Span.End)
	}

	return span, true
}
