package crtp

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MaxPayload is the largest CRTP payload a single packet can carry
	MaxPayload = 30

	linkBits = 0x03 << 2
)

const (
	PortConsole         Port = 0x00
	PortParam           Port = 0x02
	PortCommander       Port = 0x03
	PortMemory          Port = 0x04
	PortLog             Port = 0x05
	PortLocalization    Port = 0x06
	PortGenericSetpoint Port = 0x07
	PortPlatform        Port = 0x0D
	PortLinkControl     Port = 0x0F
)

var (
	// ErrPayloadTooLarge is returned when a packet payload exceeds MaxPayload
	ErrPayloadTooLarge = errors.New("crtp: payload too large")

	// ErrLinkClosed is returned by a Link after Close has been called
	ErrLinkClosed = errors.New("crtp: link closed")
)

// Port identifies the firmware subsystem a packet is addressed to
type Port uint8

func (p Port) String() string {
	switch p {
	case PortConsole:
		return "console"
	case PortParam:
		return "param"
	case PortCommander:
		return "commander"
	case PortMemory:
		return "memory"
	case PortLog:
		return "log"
	case PortLocalization:
		return "localization"
	case PortGenericSetpoint:
		return "setpoint"
	case PortPlatform:
		return "platform"
	case PortLinkControl:
		return "link"
	default:
		return fmt.Sprintf("port(%d)", uint8(p))
	}
}

// Channel is the sub-address within a port (0-3)
type Channel uint8

// Packet is a single CRTP packet
type Packet struct {
	Port    Port
	Channel Channel
	Data    []byte
}

// NewPacket builds a packet for the given port and channel
func NewPacket(port Port, channel Channel, data ...byte) Packet {
	return Packet{Port: port, Channel: channel, Data: data}
}

// Header returns the CRTP header byte
func (p Packet) Header() byte {
	return byte(p.Port&0x0F)<<4 | linkBits | byte(p.Channel&0x03)
}

// Encode returns the wire representation of the packet: header followed by payload
func (p Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Data))
	}

	buf := make([]byte, 1+len(p.Data))
	buf[0] = p.Header()
	copy(buf[1:], p.Data)
	return buf, nil
}

// Decode parses the wire representation of a packet
func Decode(buf []byte) (Packet, error) {
	if len(buf) == 0 {
		return Packet{}, errors.New("crtp: empty packet")
	}
	if len(buf)-1 > MaxPayload {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(buf)-1)
	}

	data := make([]byte, len(buf)-1)
	copy(data, buf[1:])

	return Packet{
		Port:    Port(buf[0] >> 4),
		Channel: Channel(buf[0] & 0x03),
		Data:    data,
	}, nil
}

// Link is a bidirectional CRTP transport
type Link interface {
	// Send queues a packet for transmission
	Send(p Packet) error

	// Receive blocks until a packet arrives, the context is done or the link is closed
	Receive(ctx context.Context) (Packet, error)

	// Close releases the underlying transport
	Close() error
}
