package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
)

// Log variables read by each stream
var Variables = map[Stream][]string{
	Position: {"stateEstimate.x", "stateEstimate.y", "stateEstimate.z"},
	Range:    {"range.left", "range.front", "range.right", "range.back"},
	Light:    {"BH1750.intensity"},
	Battery:  {"pm.vbat"},
	Thrust:   {"stabilizer.thrust"},
}

// Writer is an append log receiving one row per record
type Writer interface {
	Write(timestamp uint32, values ...any) error
}

// WithCollectorLogger sets the logger for the collector
func WithCollectorLogger(logger *slog.Logger) func(*Collector) {
	return func(c *Collector) {
		c.logger = logger.With(slog.String("component", "telemetry"))
	}
}

// WithTrace makes the collector record altitude into the trace while it is
// active and flag position rows accordingly
func WithTrace(trace *Trace) func(*Collector) {
	return func(c *Collector) {
		c.trace = trace
	}
}

type source struct {
	stream  Stream
	records <-chan crazyflie.LogRecord
	log     Writer
}

// Collector drains the log record channels, one goroutine per stream, into
// the mailbox and the stream logs.
type Collector struct {
	mailbox *Mailbox
	trace   *Trace
	sources []source
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewCollector creates a new Collector publishing into mailbox
func NewCollector(mailbox *Mailbox, options ...func(*Collector)) *Collector {
	c := Collector{
		mailbox: mailbox,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Add registers the records channel of a stream. log may be nil.
func (c *Collector) Add(stream Stream, records <-chan crazyflie.LogRecord, log Writer) {
	c.sources = append(c.sources, source{stream: stream, records: records, log: log})
}

// Run collects until every records channel is closed or ctx is done
func (c *Collector) Run(ctx context.Context) error {
	if len(c.sources) == 0 {
		return fmt.Errorf("no telemetry streams to collect")
	}

	startGate := make(chan struct{})
	for _, src := range c.sources {
		c.wg.Add(1)
		go c.beginCollecting(ctx, src, startGate)
	}

	close(startGate)

	c.wg.Wait()
	return nil
}

func (c *Collector) beginCollecting(ctx context.Context, src source, startGate chan struct{}) {
	defer c.wg.Done()

	<-startGate

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-src.records:
			if !ok {
				return
			}
			if err := c.handle(src, rec); err != nil {
				c.logger.Error(err.Error())
			}
		}
	}
}

func (c *Collector) handle(src source, rec crazyflie.LogRecord) error {
	v := rec.Values

	var row []any
	switch src.stream {
	case Position:
		x, y, z := v["stateEstimate.x"], v["stateEstimate.y"], v["stateEstimate.z"]
		checking := false
		if c.trace != nil {
			checking = c.trace.Append(z)
		}
		c.publish(src.stream, rec, func(s *Snapshot) { s.X, s.Y, s.Z = x, y, z })
		row = []any{x, y, z, checking}

	case Range:
		left, front, right, back := v["range.left"], v["range.front"], v["range.right"], v["range.back"]
		c.publish(src.stream, rec, func(s *Snapshot) {
			s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = left, front, right, back
		})
		row = []any{left, front, right, back}

	case Light:
		lux := v["BH1750.intensity"]
		c.publish(src.stream, rec, func(s *Snapshot) { s.Light = lux })
		row = []any{lux}

	case Battery:
		vbat := v["pm.vbat"]
		c.publish(src.stream, rec, func(s *Snapshot) { s.Battery = vbat })
		row = []any{vbat}

	case Thrust:
		thrust := v["stabilizer.thrust"]
		c.publish(src.stream, rec, func(s *Snapshot) { s.Thrust = thrust })
		row = []any{thrust}

	default:
		return fmt.Errorf("collecting %s: unknown stream", src.stream)
	}

	if src.log == nil {
		return nil
	}
	if err := src.log.Write(rec.Timestamp, row...); err != nil {
		return fmt.Errorf("writing %s log: %w", src.stream, err)
	}
	return nil
}

func (c *Collector) publish(stream Stream, rec crazyflie.LogRecord, fn func(s *Snapshot)) {
	c.mailbox.Update(func(s *Snapshot) {
		fn(s)
		s.Timestamp = rec.Timestamp
		s.Received = rec.Received
		s.Seen |= stream
	})
}
