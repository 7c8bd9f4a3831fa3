package seeker

import (
	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

// Move is a velocity command chosen by the seeking policy
type Move struct {
	Direction motion.Direction
	Velocity  float64
}

// sides in tie-break order, each with the direction leading away from it
var sides = [...]struct {
	get  func(s *telemetry.Snapshot) float64
	away motion.Direction
}{
	{func(s *telemetry.Snapshot) float64 { return s.RangeLeft }, motion.Right},
	{func(s *telemetry.Snapshot) float64 { return s.RangeFront }, motion.Back},
	{func(s *telemetry.Snapshot) float64 { return s.RangeRight }, motion.Left},
	{func(s *telemetry.Snapshot) float64 { return s.RangeBack }, motion.Forward},
}

// Decide picks the next move while seeking light: forward when every
// obstacle is farther than the distance threshold, otherwise directly away
// from the nearest obstacle. Equal ranges resolve in left, front, right,
// back order.
func Decide(s *telemetry.Snapshot, cfg *Config) Move {
	nearest := 0
	open := true
	for i, side := range sides {
		r := side.get(s)
		if r <= cfg.DistanceThreshold {
			open = false
		}
		if r < sides[nearest].get(s) {
			nearest = i
		}
	}

	if open {
		return Move{Direction: motion.Forward, Velocity: cfg.ForwardVelocity}
	}
	return moveTowards(sides[nearest].away, cfg)
}

func moveTowards(dir motion.Direction, cfg *Config) Move {
	if dir == motion.Forward {
		return Move{Direction: dir, Velocity: cfg.ForwardVelocity}
	}
	return Move{Direction: dir, Velocity: cfg.StrafeVelocity}
}

// LightFound reports whether the seeking phase is over
func LightFound(s *telemetry.Snapshot, cfg *Config) bool {
	return s.Light >= cfg.LightThreshold
}
