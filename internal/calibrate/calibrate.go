// Package calibrate stretches raw cosine similarity onto [0,1].
//
// Raw similarity between business-text embeddings clusters in a narrow band,
// so scores are mapped linearly from [Floor, Ceiling] to [0,1] and clamped.
package calibrate

import (
	"fmt"
	"math"
)

// Neutral is the alignment reported when there is nothing to compare against.
const Neutral = 0.5

// Calibrator maps raw cosine similarity onto a bounded alignment score.
type Calibrator struct {
	Floor   float64
	Ceiling float64
}

// Score is one calibrated comparison.
type Score struct {
	Raw       float64 // raw cosine similarity; 0 when there was no reference
	Alignment float64
	Drift     float64
	HasCanon  bool
}

// New returns a Calibrator for the band [floor, ceiling].
func New(floor, ceiling float64) (Calibrator, error) {
	if floor >= ceiling {
		return Calibrator{}, fmt.Errorf("calibration floor %.3f must be below ceiling %.3f", floor, ceiling)
	}
	return Calibrator{Floor: floor, Ceiling: ceiling}, nil
}

// Calibrate returns clamp((raw-floor)/(ceiling-floor), 0, 1).
func (c Calibrator) Calibrate(raw float64) float64 {
	v := (raw - c.Floor) / (c.Ceiling - c.Floor)
	return math.Max(0, math.Min(1, v))
}

// Drift is the complement of alignment.
func Drift(alignment float64) float64 {
	return 1 - alignment
}

// Compare calibrates the similarity between v and a reference embedding.
// A nil or empty reference yields the neutral score rather than an error.
func (c Calibrator) Compare(v, reference []float32) (Score, error) {
	if len(reference) == 0 {
		return Score{Alignment: Neutral, Drift: Drift(Neutral)}, nil
	}
	raw, err := Cosine(v, reference)
	if err != nil {
		return Score{}, err
	}
	alignment := c.Calibrate(raw)
	return Score{Raw: raw, Alignment: alignment, Drift: Drift(alignment), HasCanon: true}, nil
}

// Cosine returns the cosine similarity of a and b. Zero vectors have
// similarity 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
