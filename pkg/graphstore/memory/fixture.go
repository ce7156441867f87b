package memory

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

// Fixture describes a whole graph. It is the file format read by LoadFile.
type Fixture struct {
	Segmentations []FixtureAnnotation `json:"segmentations"`
	Paginations   []FixtureAnnotation `json:"paginations"`
	Alignments    []FixtureAnnotation `json:"alignments"`
	// Aligned pairs alignment annotation ids.
	Aligned [][2]string `json:"aligned"`
	// Links pairs alignment segment ids.
	Links [][2]string `json:"links"`
}

// FixtureAnnotation is one annotation of a manifestation with its segments.
type FixtureAnnotation struct {
	ManifestationID string               `json:"manifestation_id"`
	AnnotationID    string               `json:"annotation_id"`
	Segments        []graphstore.Segment `json:"segments"`
}

// LoadFile reads a YAML or JSON fixture from path into a new graph.
func LoadFile(path string) (*Graph, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph fixture: %w", err)
	}
	return Load(body)
}

// Load decodes a YAML or JSON fixture into a new graph. Annotations are added before relations,
// so the order of the sections in the document does not matter.
func Load(body []byte) (*Graph, error) {
	var f Fixture
	if err := yaml.UnmarshalStrict(body, &f); err != nil {
		return nil, fmt.Errorf("decode graph fixture: %w", err)
	}

	g := New()
	for _, a := range f.Segmentations {
		if err := g.AddSegmentation(a.ManifestationID, a.AnnotationID, a.Segments...); err != nil {
			return nil, err
		}
	}
	for _, a := range f.Paginations {
		if err := g.AddPagination(a.ManifestationID, a.AnnotationID, a.Segments...); err != nil {
			return nil, err
		}
	}
	for _, a := range f.Alignments {
		if err := g.AddAlignment(a.ManifestationID, a.AnnotationID, a.Segments...); err != nil {
			return nil, err
		}
	}
	for _, pair := range f.Aligned {
		if err := g.Align(pair[0], pair[1]); err != nil {
			return nil, err
		}
	}
	for _, pair := range f.Links {
		if err := g.LinkSegments(pair[0], pair[1]); err != nil {
			return nil, err
		}
	}

	return g, nil
}
