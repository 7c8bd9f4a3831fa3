package crazyflie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	// DefaultTimeout is how long a single request waits for its response
	DefaultTimeout = 250 * time.Millisecond

	// DefaultRetries is how many times a request is sent before giving up
	DefaultRetries = 4
)

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(*Crazyflie) {
	return func(cf *Crazyflie) {
		cf.logger = logger.With(slog.String("component", "crazyflie"))
	}
}

// WithTimeout sets the per-attempt request timeout and the number of attempts
func WithTimeout(timeout time.Duration, retries int) func(*Crazyflie) {
	return func(cf *Crazyflie) {
		cf.timeout = timeout
		cf.retries = max(retries, 1)
	}
}

// WithTOCCache stores fetched TOCs in dir, keyed by their CRC, so later
// connections to the same firmware skip the item-by-item download
func WithTOCCache(dir string) func(*Crazyflie) {
	return func(cf *Crazyflie) {
		cf.cacheDir = dir
	}
}

// Crazyflie is a client for a single vehicle reachable over a CRTP link
type Crazyflie struct {
	link crtp.Link

	timeout  time.Duration
	retries  int
	cacheDir string

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	waitersMu sync.Mutex
	waiters   []*waiter

	requestMu sync.Mutex // one outstanding request at a time keeps matching unambiguous

	logTOC   *TOC
	paramTOC *TOC

	blocksMu    sync.Mutex
	blocks      map[uint8]*LogBlock
	nextBlockID uint8

	logger *slog.Logger
}

type waiter struct {
	port    crtp.Port
	channel crtp.Channel
	prefix  []byte
	ch      chan crtp.Packet
}

func (w *waiter) matches(p crtp.Packet) bool {
	return p.Port == w.port && p.Channel == w.channel && bytes.HasPrefix(p.Data, w.prefix)
}

// New creates a client on top of link. The client takes ownership of the link.
func New(link crtp.Link, options ...func(*Crazyflie)) *Crazyflie {
	cf := Crazyflie{
		link:    link,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		blocks:  make(map[uint8]*LogBlock),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&cf)
	}

	return &cf
}

// Connect starts the packet dispatcher and downloads the log and param TOCs
func (cf *Crazyflie) Connect(ctx context.Context) error {
	if cf.connected.Load() {
		return fmt.Errorf("crazyflie: already connected")
	}

	var dispatchCtx context.Context
	dispatchCtx, cf.cancel = context.WithCancel(context.Background())

	cf.wg.Add(1)
	go cf.dispatch(dispatchCtx)

	cf.connected.Store(true)

	var err error
	if cf.logTOC, err = cf.fetchTOC(ctx, crtp.PortLog); err != nil {
		cf.shutdown()
		return fmt.Errorf("fetching log TOC: %w", err)
	}
	if cf.paramTOC, err = cf.fetchTOC(ctx, crtp.PortParam); err != nil {
		cf.shutdown()
		return fmt.Errorf("fetching param TOC: %w", err)
	}

	// drop any blocks a previous session left running
	if _, err = cf.request(ctx, crtp.NewPacket(crtp.PortLog, logChannelSettings, logCmdReset), 1); err != nil {
		cf.shutdown()
		return fmt.Errorf("resetting log blocks: %w", err)
	}

	cf.logger.Info("connected",
		slog.Int("logVariables", cf.logTOC.Len()),
		slog.Int("params", cf.paramTOC.Len()))

	return nil
}

// LogTOC returns the log table of contents fetched on Connect
func (cf *Crazyflie) LogTOC() *TOC {
	return cf.logTOC
}

// ParamTOC returns the parameter table of contents fetched on Connect
func (cf *Crazyflie) ParamTOC() *TOC {
	return cf.paramTOC
}

// Close stops all log blocks, the dispatcher and closes the link
func (cf *Crazyflie) Close() error {
	var errs []error

	if cf.connected.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), cf.timeout*time.Duration(cf.retries))
		if _, err := cf.request(ctx, crtp.NewPacket(crtp.PortLog, logChannelSettings, logCmdReset), 1); err != nil {
			errs = append(errs, fmt.Errorf("resetting log blocks: %w", err))
		}
		cancel()

		cf.shutdown()
	}

	if err := cf.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing link: %w", err))
	}

	return errors.Join(errs...)
}

func (cf *Crazyflie) shutdown() {
	cf.connected.Store(false)
	cf.cancel()
	cf.wg.Wait()

	cf.blocksMu.Lock()
	for id, block := range cf.blocks {
		block.closeRecords()
		delete(cf.blocks, id)
	}
	cf.blocksMu.Unlock()
}

// send transmits a packet without waiting for an answer
func (cf *Crazyflie) send(p crtp.Packet) error {
	if !cf.connected.Load() {
		return ErrNotConnected
	}
	return cf.link.Send(p)
}

// request sends p and waits for the response on the same port and channel
// whose payload starts with the first prefixLen bytes of p.Data
func (cf *Crazyflie) request(ctx context.Context, p crtp.Packet, prefixLen int) (crtp.Packet, error) {
	if !cf.connected.Load() {
		return crtp.Packet{}, ErrNotConnected
	}

	cf.requestMu.Lock()
	defer cf.requestMu.Unlock()

	w := &waiter{
		port:    p.Port,
		channel: p.Channel,
		prefix:  append([]byte(nil), p.Data[:min(prefixLen, len(p.Data))]...),
		ch:      make(chan crtp.Packet, 1),
	}

	cf.addWaiter(w)
	defer cf.removeWaiter(w)

	for attempt := 0; attempt < cf.retries; attempt++ {
		if err := cf.link.Send(p); err != nil {
			return crtp.Packet{}, fmt.Errorf("sending %s request: %w", p.Port, err)
		}

		timer := time.NewTimer(cf.timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crtp.Packet{}, ctx.Err()

		case resp := <-w.ch:
			timer.Stop()
			return resp, nil

		case <-timer.C:
			cf.logger.Debug("request timed out, retrying",
				slog.String("port", p.Port.String()),
				slog.Int("attempt", attempt+1))
		}
	}

	return crtp.Packet{}, fmt.Errorf("%w: %s channel %d", ErrTimeout, p.Port, p.Channel)
}

func (cf *Crazyflie) addWaiter(w *waiter) {
	cf.waitersMu.Lock()
	cf.waiters = append(cf.waiters, w)
	cf.waitersMu.Unlock()
}

func (cf *Crazyflie) removeWaiter(w *waiter) {
	cf.waitersMu.Lock()
	defer cf.waitersMu.Unlock()

	for i, other := range cf.waiters {
		if other == w {
			cf.waiters = append(cf.waiters[:i], cf.waiters[i+1:]...)
			return
		}
	}
}

func (cf *Crazyflie) dispatch(ctx context.Context) {
	defer cf.wg.Done()

	for {
		p, err := cf.link.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				cf.logger.Error(fmt.Sprintf("receiving packet: %s", err.Error()))
			}
			return
		}

		switch {
		case p.Port == crtp.PortLog && p.Channel == logChannelData:
			cf.deliverLogData(p)

		case p.Port == crtp.PortConsole:
			cf.logger.Debug("console", slog.String("text", string(p.Data)))

		default:
			cf.deliverResponse(p)
		}
	}
}

func (cf *Crazyflie) deliverResponse(p crtp.Packet) {
	cf.waitersMu.Lock()
	defer cf.waitersMu.Unlock()

	for _, w := range cf.waiters {
		if w.matches(p) {
			select {
			case w.ch <- p:
			default: // duplicate answer to a retried request
			}
			return
		}
	}
}
