package crazyflie

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

// fakeFirmware answers CRTP requests the way the vehicle does, from an
// in-memory log TOC and parameter table
type fakeFirmware struct {
	mu sync.Mutex

	logTOC   []TOCEntry
	paramTOC []TOCEntry
	params   map[uint16][]byte
	crc      uint32

	sent      []crtp.Packet
	dropNext  int  // swallow this many requests without answering
	silent    bool // never answer
	tocItemsN int  // number of TOC item requests seen

	in     chan crtp.Packet
	closed chan struct{}
	once   sync.Once
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{
		logTOC: []TOCEntry{
			{ID: 0, Type: LogFloat, Group: "stateEstimate", Name: "x"},
			{ID: 1, Type: LogFloat, Group: "stateEstimate", Name: "y"},
			{ID: 2, Type: LogFloat, Group: "stateEstimate", Name: "z"},
			{ID: 3, Type: LogUint16, Group: "range", Name: "front"},
			{ID: 4, Type: LogFloat, Group: "pm", Name: "vbat"},
			{ID: 5, Type: LogInt8, Group: "test", Name: "signed"},
		},
		paramTOC: []TOCEntry{
			{ID: 0, Type: paramUint8 | paramReadOnlyFlag, Group: "deck", Name: "bcFlow2"},
			{ID: 1, Type: paramUint8 | paramReadOnlyFlag, Group: "deck", Name: "bcMultiranger"},
			{ID: 2, Type: paramUint16, Group: "motorPowerSet", Name: "m1"},
			{ID: 3, Type: paramFloat, Group: "stabilizer", Name: "gain"},
		},
		params: map[uint16][]byte{
			0: {1},
			1: {0},
			2: {0, 0},
			3: binary.LittleEndian.AppendUint32(nil, math.Float32bits(1.5)),
		},
		crc:    0xCAFE0001,
		in:     make(chan crtp.Packet, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeFirmware) Send(p crtp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, p)

	if f.silent {
		return nil
	}
	if p.Port != crtp.PortGenericSetpoint && p.Port != crtp.PortCommander && f.dropNext > 0 {
		f.dropNext--
		return nil
	}

	if resp, ok := f.answer(p); ok {
		f.in <- resp
	}
	return nil
}

func (f *fakeFirmware) Receive(ctx context.Context) (crtp.Packet, error) {
	select {
	case <-ctx.Done():
		return crtp.Packet{}, ctx.Err()
	case <-f.closed:
		return crtp.Packet{}, crtp.ErrLinkClosed
	case p := <-f.in:
		return p, nil
	}
}

func (f *fakeFirmware) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push injects an unsolicited packet, such as log data
func (f *fakeFirmware) push(p crtp.Packet) {
	f.in <- p
}

func (f *fakeFirmware) sentOn(port crtp.Port, channel crtp.Channel) []crtp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []crtp.Packet
	for _, p := range f.sent {
		if p.Port == port && p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeFirmware) answer(p crtp.Packet) (crtp.Packet, bool) {
	switch {
	case (p.Port == crtp.PortLog || p.Port == crtp.PortParam) && p.Channel == tocChannel:
		toc := f.logTOC
		if p.Port == crtp.PortParam {
			toc = f.paramTOC
		}
		return f.answerTOC(p, toc)

	case p.Port == crtp.PortParam && p.Channel == paramChannelRead:
		id := binary.LittleEndian.Uint16(p.Data)
		data := append([]byte{p.Data[0], p.Data[1], 0}, f.params[id]...)
		return crtp.NewPacket(p.Port, p.Channel, data...), true

	case p.Port == crtp.PortParam && p.Channel == paramChannelWrite:
		id := binary.LittleEndian.Uint16(p.Data)
		f.params[id] = append([]byte(nil), p.Data[2:]...)
		return crtp.NewPacket(p.Port, p.Channel, p.Data...), true

	case p.Port == crtp.PortLog && p.Channel == logChannelSettings:
		var id byte
		if len(p.Data) > 1 {
			id = p.Data[1]
		}
		return crtp.NewPacket(p.Port, p.Channel, p.Data[0], id, 0), true
	}

	return crtp.Packet{}, false
}

func (f *fakeFirmware) answerTOC(p crtp.Packet, toc []TOCEntry) (crtp.Packet, bool) {
	switch p.Data[0] {
	case tocCmdInfo:
		data := []byte{tocCmdInfo}
		data = binary.LittleEndian.AppendUint16(data, uint16(len(toc)))
		data = binary.LittleEndian.AppendUint32(data, f.crc)
		data = append(data, 16, 16) // max packets, max ops
		return crtp.NewPacket(p.Port, p.Channel, data...), true

	case tocCmdItem:
		f.tocItemsN++
		id := binary.LittleEndian.Uint16(p.Data[1:3])
		e := toc[id]
		data := []byte{tocCmdItem, p.Data[1], p.Data[2], e.Type}
		data = append(data, e.Group...)
		data = append(data, 0)
		data = append(data, e.Name...)
		data = append(data, 0)
		return crtp.NewPacket(p.Port, p.Channel, data...), true
	}

	return crtp.Packet{}, false
}
