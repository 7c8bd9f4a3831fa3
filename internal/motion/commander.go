// Package motion turns discrete velocity commands into the continuous hover
// setpoint stream the flight controller expects.
package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSetpointPeriod keeps the firmware setpoint watchdog fed
	DefaultSetpointPeriod = 100 * time.Millisecond

	// DefaultHeight is the hover height used when TakeOff is given zero
	DefaultHeight = 0.3

	// DefaultVelocity is used by Move and the ramps when given zero
	DefaultVelocity = 0.2

	// landingHeight is where the stream is cut at the end of Land
	landingHeight = 0.05
)

var (
	// ErrNotFlying is returned by movement commands before TakeOff or after Land
	ErrNotFlying = errors.New("motion: not flying")

	// ErrAlreadyFlying is returned by TakeOff while airborne
	ErrAlreadyFlying = errors.New("motion: already flying")
)

// Setpointer is the subset of the vehicle client used to fly
type Setpointer interface {
	SendHover(vx, vy, yawRate, z float64) error
	SendStop() error
}

// WithLogger sets the logger for the commander
func WithLogger(logger *slog.Logger) func(*Commander) {
	return func(c *Commander) {
		c.logger = logger.With(slog.String("component", "motion"))
	}
}

// WithSetpointPeriod sets how often the current setpoint is repeated
func WithSetpointPeriod(period time.Duration) func(*Commander) {
	return func(c *Commander) {
		c.period = period
	}
}

// Commander flies the vehicle with velocity commands. The last command wins
// until Stop; the current setpoint is repeated in the background.
type Commander struct {
	sp     Setpointer
	period time.Duration

	mu      sync.Mutex
	flying  bool
	vx, vy  float64
	yawRate float64
	ramp    heightRamp

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// heightRamp moves the height linearly from 'from' to 'to'
type heightRamp struct {
	from, to float64
	start    time.Time
	duration time.Duration
}

func (r heightRamp) at(now time.Time) float64 {
	if r.duration <= 0 {
		return r.to
	}

	f := float64(now.Sub(r.start)) / float64(r.duration)
	if f >= 1 {
		return r.to
	}
	if f < 0 {
		f = 0
	}
	return r.from + (r.to-r.from)*f
}

// NewCommander creates a Commander on top of a setpoint sender
func NewCommander(sp Setpointer, options ...func(*Commander)) *Commander {
	c := Commander{
		sp:     sp,
		period: DefaultSetpointPeriod,
		kick:   make(chan struct{}, 1),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// IsFlying reports whether the commander is streaming setpoints
func (c *Commander) IsFlying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flying
}

// Height returns the currently commanded height
func (c *Commander) Height() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.at(time.Now())
}

// TakeOff climbs to height at velocity and returns once the climb is done
func (c *Commander) TakeOff(ctx context.Context, height, velocity float64) error {
	if height <= 0 {
		height = DefaultHeight
	}
	if velocity <= 0 {
		velocity = DefaultVelocity
	}

	c.mu.Lock()
	if c.flying {
		c.mu.Unlock()
		return ErrAlreadyFlying
	}

	duration := seconds(height / velocity)
	c.flying = true
	c.vx, c.vy, c.yawRate = 0, 0, 0
	c.ramp = heightRamp{from: 0, to: height, start: time.Now(), duration: duration}

	var streamCtx context.Context
	streamCtx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.wg.Add(1)
	go c.stream(streamCtx)

	c.logger.Info("taking off", slog.Float64("height", height), slog.Float64("velocity", velocity))

	return Sleep(ctx, duration)
}

// Land descends at velocity, then stops the motors. Land always cuts the
// setpoint stream, even when ctx is cancelled half way down.
func (c *Commander) Land(ctx context.Context, velocity float64) error {
	if velocity <= 0 {
		velocity = DefaultVelocity
	}

	c.mu.Lock()
	if !c.flying {
		c.mu.Unlock()
		return ErrNotFlying
	}

	now := time.Now()
	from := c.ramp.at(now)
	c.vx, c.vy, c.yawRate = 0, 0, 0
	c.ramp = heightRamp{from: from, to: 0, start: now, duration: seconds(from / velocity)}
	duration := seconds(max(from-landingHeight, 0) / velocity)
	c.mu.Unlock()
	c.nudge()

	c.logger.Info("landing", slog.Float64("from", from))

	waitErr := Sleep(ctx, duration)

	return errors.Join(waitErr, c.halt())
}

// Close stops the motors immediately if still flying
func (c *Commander) Close() error {
	if !c.IsFlying() {
		return nil
	}
	return c.halt()
}

func (c *Commander) halt() error {
	c.mu.Lock()
	c.flying = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if err := c.sp.SendStop(); err != nil {
		return fmt.Errorf("sending stop setpoint: %w", err)
	}
	return nil
}

// StartMove starts moving in a direction at velocity (m/s) until the next command
func (c *Commander) StartMove(dir Direction, velocity float64) error {
	vx, vy := dir.Vector()
	return c.setVelocity(vx*velocity, vy*velocity, 0)
}

// StartTurn starts turning at rate (deg/s) until the next command
func (c *Commander) StartTurn(dir Turn, rate float64) error {
	return c.setVelocity(0, 0, dir.sign()*rate)
}

// Stop holds position at the current height
func (c *Commander) Stop() error {
	return c.setVelocity(0, 0, 0)
}

// Move travels distance (m) in a direction at velocity (m/s) and stops.
// A cancelled ctx stops the vehicle where it is.
func (c *Commander) Move(ctx context.Context, dir Direction, distance, velocity float64) error {
	if velocity <= 0 {
		velocity = DefaultVelocity
	}

	if err := c.StartMove(dir, velocity); err != nil {
		return err
	}

	waitErr := Sleep(ctx, seconds(distance/velocity))

	if err := c.Stop(); err != nil {
		return errors.Join(waitErr, err)
	}
	return waitErr
}

func (c *Commander) setVelocity(vx, vy, yawRate float64) error {
	c.mu.Lock()
	if !c.flying {
		c.mu.Unlock()
		return ErrNotFlying
	}
	c.vx, c.vy, c.yawRate = vx, vy, yawRate
	c.mu.Unlock()

	c.nudge()
	return nil
}

// nudge makes the stream send the new setpoint now rather than on the next period
func (c *Commander) nudge() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Commander) stream(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		vx, vy, yawRate := c.vx, c.vy, c.yawRate
		z := c.ramp.at(time.Now())
		c.mu.Unlock()

		if err := c.sp.SendHover(vx, vy, yawRate, z); err != nil {
			c.logger.Warn(fmt.Sprintf("sending hover setpoint: %s", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
