package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
	"github.com/roman-kulish/lightseeker/internal/csvlog"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

// WithLogs sets the CSV logs telemetry rows are written to. Streams without a
// log in the set are collected but not written.
func WithLogs(logs *csvlog.Set) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logs = logs
	}
}

// WithTrace sets the altitude trace fed by the position stream
func WithTrace(trace *telemetry.Trace) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.trace = trace
	}
}

// Orchestrator represents an orchestrator that manages the telemetry log
// blocks of a vehicle, publishes their records to the mailbox and writes them
// to the CSV logs.
type Orchestrator struct {
	cf        *crazyflie.Crazyflie
	blocks    []*crazyflie.LogBlock
	collector *telemetry.Collector

	logger *slog.Logger
	logs   *csvlog.Set
	trace  *telemetry.Trace

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cf *crazyflie.Crazyflie, mailbox *telemetry.Mailbox, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		cf:     cf,
		logger: logger,
	}

	for _, option := range options {
		option(&o)
	}

	collectorOptions := []func(*telemetry.Collector){telemetry.WithCollectorLogger(logger)}
	if o.trace != nil {
		collectorOptions = append(collectorOptions, telemetry.WithTrace(o.trace))
	}
	o.collector = telemetry.NewCollector(mailbox, collectorOptions...)

	return &o
}

// CreateStream creates the log block of a stream and registers it with the
// collector
func (o *Orchestrator) CreateStream(stream telemetry.Stream, period time.Duration) error {
	block, err := o.cf.NewLogBlock(stream.String(), period, telemetry.Variables[stream]...)
	if err != nil {
		return fmt.Errorf("creating %s stream: %w", stream, err)
	}

	var w telemetry.Writer
	if o.logs != nil {
		if l := o.logs.Log(stream.String()); l != nil {
			w = l
		}
	}

	o.collector.Add(stream, block.Records(), w)
	o.blocks = append(o.blocks, block)

	return nil
}

// Start begins collection and starts every log block
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.blocks) == 0 {
		return fmt.Errorf("no telemetry streams to start")
	}

	var collectCtx context.Context
	collectCtx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.collector.Run(collectCtx); err != nil {
			o.logger.Error(err.Error())
		}
	}()

	for _, block := range o.blocks {
		if err := block.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Stop stops every log block, then waits for collection to finish
func (o *Orchestrator) Stop(ctx context.Context) error {
	var errs []error
	for _, block := range o.blocks {
		if err := block.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if dropped := block.Dropped(); dropped > 0 {
			o.logger.Warn("telemetry records dropped", slog.String("stream", block.Name()), slog.Uint64("count", dropped))
		}
	}

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	return errors.Join(errs...)
}
