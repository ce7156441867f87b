package graphstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		_name    string
		a, b     Span
		expected bool
	}{
		{_name: "contained", a: Span{0, 10}, b: Span{2, 3}, expected: true},
		{_name: "partial", a: Span{0, 10}, b: Span{5, 15}, expected: true},
		{_name: "touching_is_disjoint", a: Span{0, 10}, b: Span{10, 20}, expected: false},
		{_name: "disjoint", a: Span{0, 10}, b: Span{11, 20}, expected: false},
		{_name: "identical", a: Span{4, 8}, b: Span{4, 8}, expected: true},
	}

	for _, test := range tests {
		t.Run(test._name, func(t *testing.T) {
			require.Equal(t, test.expected, test.a.Overlaps(test.b))
			require.Equal(t, test.expected, test.b.Overlaps(test.a))
		})
	}
}

func TestEnvelope(t *testing.T) {
	_, ok := Envelope(nil)
	require.False(t, ok)

	span, ok := Envelope([]Segment{
		{ID: "x", Span: Span{250, 300}},
		{ID: "y", Span: Span{200, 250}},
		{ID: "z", Span: Span{220, 260}},
	})
	require.True(t, ok)
	require.Equal(t, Span{Start: 200, End: 300}, span)
}

func TestSpanValidate(t *testing.T) {
	require.NoError(t, Span{0, 1}.Validate())
	require.ErrorIs(t, Span{5, 5}.Validate(), ErrInvalidSpan)
	require.ErrorIs(t, Span{-1, 5}.Validate(), ErrInvalidSpan)
	require.EqualError(t, Span{9, 3}.Validate(), "invalid span: [9,3)")
}
