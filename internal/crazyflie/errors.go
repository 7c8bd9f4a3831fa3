package crazyflie

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

var (
	// ErrTimeout is returned when the firmware did not answer a request after all retries
	ErrTimeout = errors.New("crazyflie: request timed out")

	// ErrNotConnected is returned when an operation needs Connect to have succeeded first
	ErrNotConnected = errors.New("crazyflie: not connected")

	// ErrUnknownVariable is returned for a log or param name missing from the TOC
	ErrUnknownVariable = errors.New("crazyflie: unknown variable")

	// ErrDeckMissing is returned by CheckDecks when a required expansion deck is not detected
	ErrDeckMissing = errors.New("crazyflie: required deck not attached")

	// ErrReadOnly is returned when writing a read-only parameter
	ErrReadOnly = errors.New("crazyflie: parameter is read-only")
)

// ProtocolError reports a malformed or rejected firmware response
type ProtocolError struct {
	Port crtp.Port
	msg  string
}

func NewProtocolError(port crtp.Port, format string, args ...any) *ProtocolError {
	return &ProtocolError{Port: port, msg: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("crazyflie %s: %s", e.Port, e.msg)
}
