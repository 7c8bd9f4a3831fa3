// Package telemetry keeps the most recent vehicle sensor readings and the
// altitude trace recorded during a flatness check.
package telemetry

import (
	"fmt"
	"time"
)

// Stream identifies one periodic telemetry stream. Streams are bit flags so a
// Snapshot can tell which of them have delivered at least once.
type Stream uint8

const (
	Position Stream = 1 << iota
	Range
	Light
	Battery
	Thrust
)

// Streams lists every stream in logging order
var Streams = []Stream{Position, Range, Light, Battery, Thrust}

// String returns the stream name, which is also the name of its CSV log
func (s Stream) String() string {
	switch s {
	case Position:
		return "pos"
	case Range:
		return "range"
	case Light:
		return "intensity"
	case Battery:
		return "vbat"
	case Thrust:
		return "thrust"
	default:
		return fmt.Sprintf("Stream(%d)", uint8(s))
	}
}

// Provider returns the latest telemetry. The returned Snapshot must not be
// modified.
type Provider interface {
	Get() *Snapshot
}

// Snapshot is the telemetry data from the vehicle sensors
type Snapshot struct {
	Timestamp uint32    // Firmware time of the latest record, ms
	Received  time.Time // Host time of the latest record

	X, Y, Z float64 // Position estimate in meters

	RangeLeft  float64 // Left obstacle distance in mm
	RangeFront float64 // Front obstacle distance in mm
	RangeRight float64 // Right obstacle distance in mm
	RangeBack  float64 // Back obstacle distance in mm

	Light   float64 // Ambient light in lux
	Battery float64 // Battery voltage in volts
	Thrust  float64 // Raw stabilizer thrust

	Seen Stream // Streams that delivered at least one record
}

// Has reports whether the stream has delivered at least once
func (s *Snapshot) Has(stream Stream) bool {
	return s.Seen&stream != 0
}
