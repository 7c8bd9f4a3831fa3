package seeker

import (
	"fmt"

	"github.com/roman-kulish/lightseeker/internal/motion"
)

// Command is an operator command issued while flying manually
type Command int

const (
	CommandForward Command = iota + 1
	CommandBack
	CommandLeft
	CommandRight
	CommandTurnLeft
	CommandTurnRight
	CommandStop
	CommandSeek // start the autonomous routine without waiting for a low battery
	CommandLand
)

var commandKeys = map[string]Command{
	"w": CommandForward,
	"s": CommandBack,
	"a": CommandLeft,
	"d": CommandRight,
	"q": CommandTurnLeft,
	"e": CommandTurnRight,
	"f": CommandStop,
	"g": CommandSeek,
	"z": CommandLand,
}

// ParseCommand maps a key to its command
func ParseCommand(key string) (Command, bool) {
	c, ok := commandKeys[key]
	return c, ok
}

func (c Command) String() string {
	switch c {
	case CommandForward:
		return "forward"
	case CommandBack:
		return "back"
	case CommandLeft:
		return "left"
	case CommandRight:
		return "right"
	case CommandTurnLeft:
		return "turn-left"
	case CommandTurnRight:
		return "turn-right"
	case CommandStop:
		return "stop"
	case CommandSeek:
		return "seek"
	case CommandLand:
		return "land"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Help is a one line summary of the command keys
const Help = "w,s,a,d: move; q,e: turn; f: stop; g: seek light and land; z: land"

// Pilot is the part of an actuator driven by operator commands
type Pilot interface {
	StartMove(dir motion.Direction, velocity float64) error
	StartTurn(dir motion.Turn, rate float64) error
	Stop() error
}

// Apply stops, then starts the motion cmd asks for. Commands without a
// motion of their own leave the vehicle stopped.
func Apply(p Pilot, cmd Command, velocity, turnRate float64) error {
	if err := p.Stop(); err != nil {
		return err
	}

	switch cmd {
	case CommandForward:
		return p.StartMove(motion.Forward, velocity)
	case CommandBack:
		return p.StartMove(motion.Back, velocity)
	case CommandLeft:
		return p.StartMove(motion.Left, velocity)
	case CommandRight:
		return p.StartMove(motion.Right, velocity)
	case CommandTurnLeft:
		return p.StartTurn(motion.TurnLeft, turnRate)
	case CommandTurnRight:
		return p.StartTurn(motion.TurnRight, turnRate)
	}
	return nil
}
