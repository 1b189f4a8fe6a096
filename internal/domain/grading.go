package domain

import (
	"fmt"
	"math"
	"sort"
)

// GradeBand maps a minimum percentage to a grade label.
type GradeBand struct {
	Grade      string  `yaml:"grade" json:"grade" validate:"required"`
	MinPercent float64 `yaml:"min_percent" json:"min_percent" validate:"gte=0,lte=100"`
}

// GradeScale is an ordered threshold table. Bands are kept sorted by
// descending MinPercent; the lowest band must start at zero so every
// percentage maps to a grade.
type GradeScale struct {
	bands []GradeBand
}

// DefaultGradeBands is the scale used when configuration does not supply one.
func DefaultGradeBands() []GradeBand {
	return []GradeBand{
		{Grade: "A", MinPercent: 80},
		{Grade: "B", MinPercent: 70},
		{Grade: "C", MinPercent: 60},
		{Grade: "D", MinPercent: 50},
		{Grade: "F", MinPercent: 0},
	}
}

// NewGradeScale validates bands and returns a scale. Thresholds must be
// unique and the table must cover zero.
func NewGradeScale(bands []GradeBand) (GradeScale, error) {
	if len(bands) == 0 {
		return GradeScale{}, fmt.Errorf("%w: grade scale has no bands", ErrInvalidConfiguration)
	}

	sorted := make([]GradeBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinPercent > sorted[j].MinPercent })

	for i, b := range sorted {
		if b.Grade == "" {
			return GradeScale{}, fmt.Errorf("%w: grade band %d has no label", ErrInvalidConfiguration, i)
		}
		if b.MinPercent < 0 || b.MinPercent > 100 {
			return GradeScale{}, fmt.Errorf("%w: grade %s threshold %.2f out of range",
				ErrInvalidConfiguration, b.Grade, b.MinPercent)
		}
		if i > 0 && sorted[i-1].MinPercent == b.MinPercent {
			return GradeScale{}, fmt.Errorf("%w: grades %s and %s share threshold %.2f",
				ErrInvalidConfiguration, sorted[i-1].Grade, b.Grade, b.MinPercent)
		}
	}
	if sorted[len(sorted)-1].MinPercent != 0 {
		return GradeScale{}, fmt.Errorf("%w: lowest grade must start at 0", ErrInvalidConfiguration)
	}

	return GradeScale{bands: sorted}, nil
}

// MustGradeScale is NewGradeScale for known-good tables.
func MustGradeScale(bands []GradeBand) GradeScale {
	s, err := NewGradeScale(bands)
	if err != nil {
		panic(err)
	}
	return s
}

// Grade returns the label for a percentage.
func (s GradeScale) Grade(percent float64) string {
	for _, b := range s.bands {
		if percent >= b.MinPercent {
			return b.Grade
		}
	}
	if len(s.bands) == 0 {
		return ""
	}
	return s.bands[len(s.bands)-1].Grade
}

// Bands returns a copy of the scale's bands, highest first.
func (s GradeScale) Bands() []GradeBand {
	out := make([]GradeBand, len(s.bands))
	copy(out, s.bands)
	return out
}

// RoundMarks rounds to two decimal places, the precision marks are reported in.
func RoundMarks(v float64) float64 {
	return math.Round(v*100) / 100
}
