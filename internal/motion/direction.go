package motion

import "fmt"

// Direction is a body-frame translation direction
type Direction int

const (
	Forward Direction = iota + 1
	Back
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Back:
		return "back"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Opposite returns the direction pointing the other way
func (d Direction) Opposite() Direction {
	switch d {
	case Forward:
		return Back
	case Back:
		return Forward
	case Left:
		return Right
	case Right:
		return Left
	default:
		return d
	}
}

// Vector returns the unit body-frame velocity (x forward, y left)
func (d Direction) Vector() (x, y float64) {
	switch d {
	case Forward:
		return 1, 0
	case Back:
		return -1, 0
	case Left:
		return 0, 1
	case Right:
		return 0, -1
	default:
		return 0, 0
	}
}

// Turn is a yaw direction
type Turn int

const (
	TurnLeft Turn = iota + 1
	TurnRight
)

func (t Turn) String() string {
	if t == TurnLeft {
		return "turn-left"
	}
	return "turn-right"
}

// sign maps a turn onto the hover setpoint yaw rate, which is positive clockwise
func (t Turn) sign() float64 {
	if t == TurnLeft {
		return -1
	}
	return 1
}
