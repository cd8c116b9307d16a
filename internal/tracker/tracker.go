package tracker

import (
	"fmt"

	"celluloid/internal/vision"
)

// Detection is one detected object plus its appearance embedding.
type Detection struct {
	ClassName  string
	Confidence float64
	Box        vision.Rect
	Embedding  []float32
}

// Appearance records one sighting of a tracked object.
type Appearance struct {
	FrameIdx   int
	Confidence float64
	Similarity float64
	Box        vision.Rect
}

// Object is a tracked identity: a class-scoped ID plus every sighting.
type Object struct {
	ID          string
	ClassName   string
	Appearances []Appearance

	latest []float32
}

// SimilarityFunc scores two embeddings. Higher is more alike.
type SimilarityFunc func(a, b []float32) float64

// Option configures a Tracker.
type Option func(*Tracker)

// WithSimilarity overrides the similarity function. The default is cosine.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(t *Tracker) { t.similarity = fn }
}

// Tracker groups detections of the same class into identities. A detection
// joins the candidate whose most recent embedding scores at or above the
// threshold; otherwise it starts a new identity.
type Tracker struct {
	threshold  float64
	similarity SimilarityFunc
	counters   map[string]int
	objects    []*Object
}

// New constructs a tracker with the given association threshold.
func New(threshold float64, opts ...Option) *Tracker {
	t := &Tracker{
		threshold:  threshold,
		similarity: vision.Cosine,
		counters:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe assigns det to an existing object or creates a new one, records the
// sighting, and returns the object. The detection's embedding becomes the
// object's latest embedding either way, so identities follow gradual
// appearance drift.
func (t *Tracker) Observe(frameIdx int, det Detection) *Object {
	var best *Object
	bestScore := 0.0

	// Candidates are scanned in creation order and only a strictly greater
	// score replaces the current best, so the oldest object wins ties.
	for _, obj := range t.objects {
		if obj.ClassName != det.ClassName {
			continue
		}
		score := t.similarity(obj.latest, det.Embedding)
		if best == nil || score > bestScore {
			best = obj
			bestScore = score
		}
	}

	if best != nil && bestScore >= t.threshold {
		best.Appearances = append(best.Appearances, Appearance{
			FrameIdx:   frameIdx,
			Confidence: det.Confidence,
			Similarity: bestScore,
			Box:        det.Box,
		})
		best.latest = det.Embedding
		return best
	}

	obj := &Object{
		ID:        fmt.Sprintf("%s_%d", det.ClassName, t.counters[det.ClassName]),
		ClassName: det.ClassName,
		latest:    det.Embedding,
	}
	t.counters[det.ClassName]++

	similarity := 0.0
	if best != nil {
		similarity = bestScore
	}
	obj.Appearances = append(obj.Appearances, Appearance{
		FrameIdx:   frameIdx,
		Confidence: det.Confidence,
		Similarity: similarity,
		Box:        det.Box,
	})
	t.objects = append(t.objects, obj)
	return obj
}

// Objects returns all tracked identities in creation order.
func (t *Tracker) Objects() []*Object {
	return t.objects
}
