package crazyflie

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	logChannelSettings crtp.Channel = 1
	logChannelData     crtp.Channel = 2

	logCmdDeleteBlock   byte = 0x02
	logCmdStartBlock    byte = 0x03
	logCmdStopBlock     byte = 0x04
	logCmdReset         byte = 0x05
	logCmdCreateBlockV2 byte = 0x06

	// log periods are sent in units of 10 ms, one byte wide
	logPeriodUnit = 10 * time.Millisecond
	minLogPeriod  = logPeriodUnit
	maxLogPeriod  = 255 * logPeriodUnit

	logRecordsQueueSize = 32
)

// LogRecord is one delivery of a log block
type LogRecord struct {
	Block     string
	Timestamp uint32 // firmware milliseconds since boot, 24 bits
	Received  time.Time
	Values    map[string]float64
}

// LogBlock is a set of log variables sampled together at a fixed period
type LogBlock struct {
	cf     *Crazyflie
	id     uint8
	name   string
	period time.Duration
	vars   []TOCEntry

	created atomic.Bool
	started atomic.Bool

	records    chan LogRecord
	recordsMu  sync.Mutex
	recordsOff bool
	dropped    atomic.Uint64
}

// NewLogBlock registers a log block for the named variables. The block is
// created in the firmware on Start.
func (cf *Crazyflie) NewLogBlock(name string, period time.Duration, vars ...string) (*LogBlock, error) {
	if cf.logTOC == nil {
		return nil, ErrNotConnected
	}
	if period < minLogPeriod || period > maxLogPeriod {
		return nil, fmt.Errorf("log block %s: period %s out of range [%s, %s]", name, period, minLogPeriod, maxLogPeriod)
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("log block %s: no variables", name)
	}

	entries := make([]TOCEntry, 0, len(vars))
	size := 0
	for _, v := range vars {
		e, err := cf.logTOC.Lookup(v)
		if err != nil {
			return nil, fmt.Errorf("log block %s: %w", name, err)
		}

		n, err := logTypeSize(e.Type)
		if err != nil {
			return nil, fmt.Errorf("log block %s: %s: %w", name, v, err)
		}
		size += n
		entries = append(entries, e)
	}
	if size > crtp.MaxPayload-4 {
		return nil, fmt.Errorf("log block %s: %d bytes of variables do not fit in one packet", name, size)
	}

	cf.blocksMu.Lock()
	defer cf.blocksMu.Unlock()

	b := &LogBlock{
		cf:      cf,
		id:      cf.nextBlockID,
		name:    name,
		period:  period,
		vars:    entries,
		records: make(chan LogRecord, logRecordsQueueSize),
	}
	cf.blocks[b.id] = b
	cf.nextBlockID++

	return b, nil
}

// Name returns the block name
func (b *LogBlock) Name() string {
	return b.name
}

// Records returns the channel log records are delivered on. The channel is
// closed when the client shuts down.
func (b *LogBlock) Records() <-chan LogRecord {
	return b.records
}

// Dropped returns the number of records discarded because the consumer was slow
func (b *LogBlock) Dropped() uint64 {
	return b.dropped.Load()
}

// Start creates the block in the firmware if needed and starts sampling
func (b *LogBlock) Start(ctx context.Context) error {
	if !b.created.Load() {
		data := []byte{logCmdCreateBlockV2, b.id}
		for _, v := range b.vars {
			data = append(data, v.Type, byte(v.ID), byte(v.ID>>8))
		}

		if err := b.settings(ctx, data); err != nil {
			return fmt.Errorf("creating log block %s: %w", b.name, err)
		}
		b.created.Store(true)
	}

	units := byte(b.period / logPeriodUnit)
	if err := b.settings(ctx, []byte{logCmdStartBlock, b.id, units}); err != nil {
		return fmt.Errorf("starting log block %s: %w", b.name, err)
	}

	b.started.Store(true)
	b.cf.logger.Debug("log block started", slog.String("block", b.name), slog.Duration("period", b.period))
	return nil
}

// Stop stops sampling; the block can be started again
func (b *LogBlock) Stop(ctx context.Context) error {
	if !b.started.Load() {
		return nil
	}

	if err := b.settings(ctx, []byte{logCmdStopBlock, b.id}); err != nil {
		return fmt.Errorf("stopping log block %s: %w", b.name, err)
	}

	b.started.Store(false)
	return nil
}

// Delete stops the block and removes it from the firmware
func (b *LogBlock) Delete(ctx context.Context) error {
	if !b.created.Load() {
		return nil
	}

	if err := b.settings(ctx, []byte{logCmdDeleteBlock, b.id}); err != nil {
		return fmt.Errorf("deleting log block %s: %w", b.name, err)
	}

	b.created.Store(false)
	b.started.Store(false)
	return nil
}

// settings sends a log settings command and checks the [cmd, id, errno] answer
func (b *LogBlock) settings(ctx context.Context, data []byte) error {
	resp, err := b.cf.request(ctx, crtp.NewPacket(crtp.PortLog, logChannelSettings, data...), 2)
	if err != nil {
		return err
	}
	if len(resp.Data) < 3 {
		return NewProtocolError(crtp.PortLog, "short settings response")
	}

	// EEXIST on create means a previous run left the block behind; it has the same layout
	if errno := resp.Data[2]; errno != 0 && !(data[0] == logCmdCreateBlockV2 && errno == errnoEEXIST) {
		return NewProtocolError(crtp.PortLog, "command 0x%02x for block %d failed with errno %d", data[0], b.id, errno)
	}
	return nil
}

const errnoEEXIST = 17

func (b *LogBlock) deliver(data []byte, received time.Time) {
	if len(data) < 3 {
		return
	}

	rec := LogRecord{
		Block:     b.name,
		Timestamp: uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16,
		Received:  received,
		Values:    make(map[string]float64, len(b.vars)),
	}

	payload := data[3:]
	for _, v := range b.vars {
		value, n, err := decodeLogValue(v.Type, payload)
		if err != nil {
			b.cf.logger.Warn(fmt.Sprintf("decoding log record: %s", err.Error()), slog.String("block", b.name))
			return
		}
		rec.Values[v.FullName()] = value
		payload = payload[n:]
	}

	b.recordsMu.Lock()
	defer b.recordsMu.Unlock()

	if b.recordsOff {
		return
	}

	select {
	case b.records <- rec:
	default:
		b.dropped.Add(1)
	}
}

func (b *LogBlock) closeRecords() {
	b.recordsMu.Lock()
	defer b.recordsMu.Unlock()

	if !b.recordsOff {
		b.recordsOff = true
		close(b.records)
	}
}

func (cf *Crazyflie) deliverLogData(p crtp.Packet) {
	if len(p.Data) < 1 {
		return
	}

	cf.blocksMu.Lock()
	b, ok := cf.blocks[p.Data[0]]
	cf.blocksMu.Unlock()

	if ok {
		b.deliver(p.Data[1:], time.Now())
	}
}
