package storage

import (
	"time"

	"github.com/google/uuid"
)

// Session is one flight: from connecting to the vehicle to landing
type Session struct {
	ID        int64
	UUID      uuid.UUID
	StartTime time.Time
	EndTime   *time.Time
	Link      string  // Serial port or link URI
	Config    *string // Flight configuration, JSON
	Outcome   *string // How the flight ended, empty while in progress
}

// SiteEvaluation is the result of one flatness check at a candidate landing site
type SiteEvaluation struct {
	ID        int64
	SessionID int64
	Attempt   int // 1-based index of the candidate site
	Timestamp time.Time
	Samples   int      // Altitude samples in the trace
	Mean      *float64 // Mean altitude in meters, nil for an empty trace
	Flatness  *float64 // Altitude standard deviation in meters, nil for an empty trace
	Accepted  bool
}

// EventKind classifies flight events
type EventKind string

const (
	EventTakeOff    EventKind = "takeoff"
	EventAutonomous EventKind = "autonomous"
	EventLightFound EventKind = "light-found"
	EventRelocate   EventKind = "relocate"
	EventFallback   EventKind = "fallback"
	EventManual     EventKind = "manual"
	EventLanding    EventKind = "landing"
	EventAborted    EventKind = "aborted"
	EventError      EventKind = "error"
)

// Event is a notable moment of a flight
type Event struct {
	ID        int64
	SessionID int64
	Timestamp time.Time
	Kind      EventKind
	Detail    string
}
