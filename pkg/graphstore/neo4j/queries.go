package neo4j

const (
	alignmentEdgesQuery = `
MATCH (m:Manifestation {id: $manifestation_id})<-[:ANNOTATION_OF]-(ours:Annotation)-[:HAS_TYPE]->(:AnnotationType {name: 'alignment'})
MATCH (ours)-[:ALIGNED_TO]-(theirs:Annotation)-[:ANNOTATION_OF]->(other:Manifestation)
RETURN DISTINCT ours.id AS ours, theirs.id AS theirs, other.id AS manifestation_id
ORDER BY ours, theirs`

	alignedCounterpartSegmentsQuery = `
MATCH (ours:Annotation {id: $alignment_id})<-[:SEGMENTATION_OF]-(s1:Segment)
WHERE s1.span_start < $span_end AND s1.span_end > $span_start
MATCH (s1)-[:ALIGNED_TO]-(s2:Segment)
RETURN DISTINCT s2.id AS segment_id, s2.span_start AS span_start, s2.span_end AS span_end
ORDER BY span_start, segment_id`

	overlappingSegmentationSegmentsQuery = `
MATCH (m:Manifestation {id: $manifestation_id})<-[:ANNOTATION_OF]-(ann:Annotation)-[:HAS_TYPE]->(:AnnotationType {name: 'segmentation'})
MATCH (ann)<-[:SEGMENTATION_OF]-(s:Segment)
WHERE s.span_start < $span_end AND s.span_end > $span_start
RETURN s.id AS segment_id, s.span_start AS span_start, s.span_end AS span_end
ORDER BY span_start, segment_id`

	segmentationSegmentsQuery = `
MATCH (m:Manifestation {id: $manifestation_id})<-[:ANNOTATION_OF]-(ann:Annotation)-[:HAS_TYPE]->(t:AnnotationType)
WHERE t.name IN ['segmentation', 'pagination']
WITH ann ORDER BY CASE t.name WHEN 'segmentation' THEN 0 ELSE 1 END LIMIT 1
MATCH (ann)<-[:SEGMENTATION_OF]-(s:Segment)
RETURN s.id AS segment_id, s.span_start AS span_start, s.span_end AS span_end
ORDER BY span_start, segment_id`
)
