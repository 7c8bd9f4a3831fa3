package crtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

const (
	frameStart1 = 0xBC
	frameStart2 = 0xCF

	// DefaultBaudRate matches the firmware UART CRTP link
	DefaultBaudRate = 576000

	receiveQueueSize = 64
)

// WithLinkLogger sets the logger for the serial link
func WithLinkLogger(logger *slog.Logger) func(*SerialLink) {
	return func(l *SerialLink) {
		l.logger = logger.With(slog.String("component", "crtp"))
	}
}

// SerialLink carries CRTP packets over a UART using syslink-style framing:
//
//	0xBC 0xCF <len> <header> <payload...> <ckA> <ckB>
//
// where ckA/ckB is a Fletcher-8 checksum over len, header and payload.
type SerialLink struct {
	port io.ReadWriteCloser

	writeMu sync.Mutex
	packets chan Packet

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	readErr error // set by the reader before packets is closed
	dropped atomic.Uint64

	logger *slog.Logger
}

// OpenSerial opens a serial port and wraps it in a SerialLink
func OpenSerial(path string, baudRate int, options ...func(*SerialLink)) (*SerialLink, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}

	return NewSerialLink(port, options...), nil
}

// NewSerialLink starts reading frames from port. The link owns the port and
// closes it on Close.
func NewSerialLink(port io.ReadWriteCloser, options ...func(*SerialLink)) *SerialLink {
	l := SerialLink{
		port:    port,
		packets: make(chan Packet, receiveQueueSize),
		done:    make(chan struct{}),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&l)
	}

	go l.readLoop()

	return &l
}

// Send frames and writes a packet to the port
func (l *SerialLink) Send(p Packet) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}

	frame, err := encodeFrame(p)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err = l.port.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive returns the next packet read from the port
func (l *SerialLink) Receive(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()

	case p, ok := <-l.packets:
		if !ok {
			if l.readErr != nil {
				return Packet{}, l.readErr
			}
			return Packet{}, ErrLinkClosed
		}
		return p, nil
	}
}

// Dropped returns the number of frames discarded because of bad checksums,
// undecodable payloads or a full receive queue
func (l *SerialLink) Dropped() uint64 {
	return l.dropped.Load()
}

// Close closes the port and waits for the reader to exit. It is safe to call
// Close multiple times.
func (l *SerialLink) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.port.Close()
		<-l.done
	})
	return l.closeErr
}

func (l *SerialLink) readLoop() {
	defer close(l.done)
	defer close(l.packets)

	r := bufio.NewReader(l.port)
	var dec frameDecoder

	for {
		b, err := r.ReadByte()
		if err != nil {
			if !l.closed.Load() && !errors.Is(err, io.EOF) {
				l.readErr = fmt.Errorf("reading serial port: %w", err)
				l.logger.Error(l.readErr.Error())
			}
			return
		}

		payload, ok, bad := dec.feed(b)
		if bad {
			l.dropped.Add(1)
			l.logger.Debug("dropping frame with bad checksum")
			continue
		}
		if !ok {
			continue
		}

		p, err := Decode(payload)
		if err != nil {
			l.dropped.Add(1)
			l.logger.Debug(fmt.Sprintf("dropping frame: %s", err.Error()))
			continue
		}

		select {
		case l.packets <- p:
		default:
			l.dropped.Add(1)
			l.logger.Warn("receive queue full, dropping packet", slog.String("port", p.Port.String()))
		}
	}
}

func encodeFrame(p Packet) ([]byte, error) {
	wire, err := p.Encode()
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(wire)+5)
	frame = append(frame, frameStart1, frameStart2, byte(len(wire)))
	frame = append(frame, wire...)

	a, b := fletcher8(frame[2:])
	return append(frame, a, b), nil
}

func fletcher8(data []byte) (a, b byte) {
	for _, c := range data {
		a += c
		b += a
	}
	return
}

type decoderState int

const (
	waitStart1 decoderState = iota
	waitStart2
	waitLength
	readPayload
	readCkA
	readCkB
)

// frameDecoder is a byte-at-a-time state machine that resynchronises on the
// start bytes after any error
type frameDecoder struct {
	state   decoderState
	length  int
	payload []byte
	ckA     byte
}

// feed consumes one byte. It returns the payload when a complete frame with a
// valid checksum has been read, or bad=true if the checksum did not match.
func (d *frameDecoder) feed(c byte) (payload []byte, ok bool, bad bool) {
	switch d.state {
	case waitStart1:
		if c == frameStart1 {
			d.state = waitStart2
		}

	case waitStart2:
		switch c {
		case frameStart2:
			d.state = waitLength
		case frameStart1:
			// stay, this may be the real start
		default:
			d.state = waitStart1
		}

	case waitLength:
		if c == 0 || int(c) > MaxPayload+1 {
			d.state = waitStart1
			return nil, false, true
		}
		d.length = int(c)
		d.payload = make([]byte, 0, d.length)
		d.state = readPayload

	case readPayload:
		d.payload = append(d.payload, c)
		if len(d.payload) == d.length {
			d.state = readCkA
		}

	case readCkA:
		d.ckA = c
		d.state = readCkB

	case readCkB:
		d.state = waitStart1

		a, b := fletcher8(append([]byte{byte(d.length)}, d.payload...))
		if a != d.ckA || b != c {
			return nil, false, true
		}
		return d.payload, true, false
	}

	return nil, false, false
}
