package seeker

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrEmptyTrace is returned when no altitude was sampled during a flatness check
var ErrEmptyTrace = errors.New("seeker: empty altitude trace")

// Score summarises the altitude trace of one flatness check
type Score struct {
	Samples  int
	Mean     float64 // m
	Flatness float64 // population standard deviation, m
}

// Flatness scores an altitude trace. The score does not change when every
// sample is shifted by the same offset.
func Flatness(trace []float64) (Score, error) {
	if len(trace) == 0 {
		return Score{}, ErrEmptyTrace
	}

	mean, std := stat.PopMeanStdDev(trace, nil)
	return Score{Samples: len(trace), Mean: mean, Flatness: std}, nil
}

// Accept reports whether a site with the given score is flat enough to land on
func Accept(score Score, threshold float64) bool {
	return score.Flatness <= threshold
}
