// Use: go run ./scripts/genfixture.go graph.yaml 200 40
// Writes a synthetic graph of N manifestations with M segments each, aligned in a chain, for
// load testing the worker with the memory graph engine.

package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	graphmemory "github.com/segmentmapper/segmentmapper/pkg/graphstore/memory"
)

const segmentLength = 100

func main() {
	if len(os.Args) != 4 {
		log.Panic("usage: genfixture <output> <manifestations> <segments>")
	}
	argOutput := os.Args[1]
	argManifestations, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Panic(err)
	}
	argSegments, err := strconv.Atoi(os.Args[3])
	if err != nil {
		log.Panic(err)
	}

	fixture := generate(argManifestations, argSegments)

	if err := write(argOutput, fixture); err != nil {
		log.Panic(err)
	}
}

// generate aligns every manifestation with the next one. Alignment segment i of a manifestation
// is linked to alignment segment i of its successor and covers segmentation segment i exactly.
func generate(manifestations, segments int) *graphmemory.Fixture {
	defer timeTrack(time.Now(), "generate")

	f := &graphmemory.Fixture{}
	for m := range manifestations {
		manifestationID := fmt.Sprintf("M%05d", m)

		seg := graphmemory.FixtureAnnotation{ManifestationID: manifestationID, AnnotationID: manifestationID + "-seg"}
		aln := graphmemory.FixtureAnnotation{ManifestationID: manifestationID, AnnotationID: manifestationID + "-aln"}
		for s := range segments {
			span := graphstore.Span{Start: s * segmentLength, End: (s + 1) * segmentLength}
			seg.Segments = append(seg.Segments, graphstore.Segment{ID: fmt.Sprintf("%s-s%04d", manifestationID, s), Span: span})
			aln.Segments = append(aln.Segments, graphstore.Segment{ID: fmt.Sprintf("%s-a%04d", manifestationID, s), Span: span})
		}
		f.Segmentations = append(f.Segmentations, seg)
		f.Alignments = append(f.Alignments, aln)

		if m == 0 {
			continue
		}
		prev := fmt.Sprintf("M%05d", m-1)
		f.Aligned = append(f.Aligned, [2]string{prev + "-aln", manifestationID + "-aln"})
		for s := range segments {
			f.Links = append(f.Links, [2]string{fmt.Sprintf("%s-a%04d", prev, s), fmt.Sprintf("%s-a%04d", manifestationID, s)})
		}
	}

	log.Printf("generated %d manifestations and %d links", len(f.Segmentations), len(f.Links))
	return f
}

func write(path string, f *graphmemory.Fixture) error {
	defer timeTrack(time.Now(), "write")

	body, err := yaml.Marshal(f)
	if err != nil {
		return err
	}

	// Round trip through the loader so a broken fixture never reaches a worker.
	if _, err := graphmemory.Load(body); err != nil {
		return err
	}

	return os.WriteFile(path, body, 0o644)
}

func timeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	log.Printf("%s took %s", name, elapsed)
}
