package caching

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

// keyHasher builds a fixed size cache key from an operation name and its arguments.
type keyHasher struct {
	digest *xxhash.Digest
}

func newKeyHasher(op string) *keyHasher {
	h := &keyHasher{digest: xxhash.New()}
	h.writeString(op)
	return h
}

func (h *keyHasher) writeString(s string) *keyHasher {
	// separator keeps ("ab","c") and ("a","bc") apart
	_, _ = h.digest.WriteString(s)
	_, _ = h.digest.Write([]byte{0})
	return h
}

func (h *keyHasher) writeSpan(s graphstore.Span) *keyHasher {
	return h.writeString(strconv.Itoa(s.Start)).writeString(strconv.Itoa(s.End))
}

func (h *keyHasher) key(prefix string) string {
	return prefix + strconv.FormatUint(h.digest.Sum64(), 16)
}

func alignmentEdgesKey(prefix, manifestationID string) string {
	return newKeyHasher("edges").writeString(manifestationID).key(prefix)
}

func counterpartKey(prefix, alignmentID string, span graphstore.Span) string {
	return newKeyHasher("counterparts").writeString(alignmentID).writeSpan(span).key(prefix)
}

func overlappingKey(prefix, manifestationID string, span graphstore.Span) string {
	return newKeyHasher("overlapping").writeString(manifestationID).writeSpan(span).key(prefix)
}

func segmentationKey(prefix, manifestationID string) string {
	return newKeyHasher("segmentation").writeString(manifestationID).key(prefix)
}
