// Package seeker flies the vehicle towards light while avoiding obstacles,
// then searches for a flat enough landing site.
//
// The controller stays in manual mode, applying operator commands, until the
// battery drops below the configured threshold. From then on it is
// autonomous: it seeks light, then evaluates candidate sites by flying a
// square and measuring the altitude spread, relocating forward until a site
// is accepted or the search is exhausted. Every exit path ends with a stop
// followed by a landing.
package seeker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/storage"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

// Actuator flies the vehicle. The last started move or turn lasts until Stop.
type Actuator interface {
	Pilot
	Move(ctx context.Context, dir motion.Direction, distance, velocity float64) error
	Land(ctx context.Context, velocity float64) error
}

// Recorder keeps a record of the flight. Recording is best effort.
type Recorder interface {
	RecordSite(ctx context.Context, site Site)
	RecordEvent(ctx context.Context, kind storage.EventKind, detail string)
}

// Outcome tells how a flight ended
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"  // landed on a site flat enough
	OutcomeBestSite  Outcome = "best-site" // search exhausted, landed on the flattest site seen
	OutcomeExhausted Outcome = "exhausted" // search exhausted without a scored site, landed in place
	OutcomeManual    Outcome = "manual"    // operator landed
	OutcomeAborted   Outcome = "aborted"   // cancelled
)

// Site is one evaluated landing site
type Site struct {
	Attempt  int
	Offset   float64 // m flown forward from the first site
	Score    Score
	Scored   bool // false when no altitude was sampled
	Accepted bool
}

// Result summarises a flight
type Result struct {
	Outcome Outcome
	Sites   []Site
	Landing *Site // the site landed on, nil unless the landing site search chose it
}

type leg struct {
	dir      motion.Direction
	distance float64
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "seeker"))
	}
}

// WithCommands sets the channel operator commands are read from
func WithCommands(commands <-chan Command) func(*Controller) {
	return func(c *Controller) {
		c.commands = commands
	}
}

// WithRecorder sets the flight recorder
func WithRecorder(recorder Recorder) func(*Controller) {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

// WithLandingVelocity sets the descent velocity in m/s
func WithLandingVelocity(velocity float64) func(*Controller) {
	return func(c *Controller) {
		c.landingVelocity = velocity
	}
}

// Controller is the seek-and-land controller
type Controller struct {
	cfg       Config
	act       Actuator
	telemetry telemetry.Provider
	trace     *telemetry.Trace

	commands        <-chan Command
	recorder        Recorder
	landingVelocity float64

	logger *slog.Logger
}

// NewController creates a controller. The trace must be the one the
// telemetry collector appends altitude samples to.
func NewController(cfg Config, act Actuator, provider telemetry.Provider, trace *telemetry.Trace, options ...func(*Controller)) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := Controller{
		cfg:             cfg,
		act:             act,
		telemetry:       provider,
		trace:           trace,
		landingVelocity: motion.DefaultVelocity,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Run flies until landing. Cancelling ctx is a normal way to end the flight:
// the vehicle is stopped and landed and the outcome is OutcomeAborted.
func (c *Controller) Run(ctx context.Context) (res Result, err error) {
	defer func() {
		if lErr := c.land(context.WithoutCancel(ctx)); lErr != nil {
			err = errors.Join(err, lErr)
		}
	}()

	autonomous, err := c.manual(ctx)
	switch {
	case ctx.Err() != nil:
		return c.aborted(ctx, res), nil
	case err != nil:
		return res, err
	case !autonomous:
		res.Outcome = OutcomeManual
		return res, nil
	}

	autoCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	landed := make(chan struct{})
	go c.watchLand(autoCtx, cancel, landed)

	res, err = c.Autonomous(autoCtx)
	switch {
	case ctx.Err() != nil:
		return c.aborted(ctx, res), nil
	case errors.Is(err, context.Canceled) && isLanded(landed):
		// only an interrupted routine turns into a manual landing
		res.Outcome = OutcomeManual
		return res, nil
	}
	return res, err
}

// Autonomous seeks light, then searches for a landing site
func (c *Controller) Autonomous(ctx context.Context) (Result, error) {
	if err := c.SeekLight(ctx); err != nil {
		return Result{}, err
	}

	c.event(ctx, storage.EventLightFound, fmt.Sprintf("%.0f lux", c.telemetry.Get().Light))

	return c.FindLandingSite(ctx)
}

// SeekLight moves by the seeking policy once per tick until the light
// threshold is reached, then stops
func (c *Controller) SeekLight(ctx context.Context) error {
	c.logger.Info("seeking light", slog.Float64("threshold", c.cfg.LightThreshold))

	var last Move
	for {
		if err := ctx.Err(); err != nil {
			return c.stopOn(err)
		}

		s := c.telemetry.Get()
		if LightFound(s, &c.cfg) {
			c.logger.Info("light found", slog.Float64("lux", s.Light))
			break
		}

		m := Decide(s, &c.cfg)
		if m != last {
			c.logger.Debug("seeking",
				slog.String("direction", m.Direction.String()),
				slog.Float64("lux", s.Light),
				slog.Group("range",
					slog.Float64("left", s.RangeLeft),
					slog.Float64("front", s.RangeFront),
					slog.Float64("right", s.RangeRight),
					slog.Float64("back", s.RangeBack)))
			last = m
		}

		if err := c.act.StartMove(m.Direction, m.Velocity); err != nil {
			return c.stopOn(fmt.Errorf("moving %s: %w", m.Direction, err))
		}

		if err := motion.Sleep(ctx, time.Duration(c.cfg.TickInterval)); err != nil {
			return c.stopOn(err)
		}
	}

	if err := c.act.Stop(); err != nil {
		return fmt.Errorf("stopping: %w", err)
	}
	return nil
}

// CheckFlatness flies the square around the current position, sampling
// altitude along the perimeter, returns to the center and scores the trace
func (c *Controller) CheckFlatness(ctx context.Context) (Score, error) {
	side, half := c.cfg.SquareSide, c.cfg.SquareSide/2

	if err := c.act.Stop(); err != nil {
		return Score{}, fmt.Errorf("stopping: %w", err)
	}
	if err := c.settle(ctx); err != nil {
		return Score{}, c.stopOn(err)
	}

	// (left, back) corner
	if err := c.fly(ctx, leg{motion.Left, half}, leg{motion.Back, half}); err != nil {
		return Score{}, err
	}
	if err := c.settle(ctx); err != nil {
		return Score{}, c.stopOn(err)
	}

	c.trace.Begin()
	err := c.fly(ctx,
		leg{motion.Forward, side},
		leg{motion.Right, side},
		leg{motion.Back, side},
		leg{motion.Left, side},
	)
	samples := c.trace.End()
	if err != nil {
		return Score{}, err
	}

	// back to the center
	if err = c.fly(ctx, leg{motion.Forward, half}, leg{motion.Right, half}); err != nil {
		return Score{}, err
	}
	if err = c.settle(ctx); err != nil {
		return Score{}, c.stopOn(err)
	}

	return Flatness(samples)
}

// FindLandingSite evaluates candidate sites, relocating forward after each
// rejected one. When the search is exhausted it returns to the flattest site
// seen. The vehicle is left hovering above the chosen site.
func (c *Controller) FindLandingSite(ctx context.Context) (Result, error) {
	var res Result
	best := -1

	for attempt := 1; ; attempt++ {
		score, err := c.CheckFlatness(ctx)
		if err != nil && !errors.Is(err, ErrEmptyTrace) {
			return res, err
		}

		site := Site{
			Attempt: attempt,
			Offset:  float64(attempt-1) * c.cfg.RelocationDistance,
			Score:   score,
			Scored:  err == nil,
		}
		site.Accepted = site.Scored && Accept(score, c.cfg.FlatnessThreshold)
		res.Sites = append(res.Sites, site)
		c.recordSite(ctx, site)

		c.logger.Info("site evaluated",
			slog.Int("attempt", attempt),
			slog.Int("samples", score.Samples),
			slog.Float64("flatness", score.Flatness),
			slog.Bool("accepted", site.Accepted))

		if site.Accepted {
			res.Outcome = OutcomeAccepted
			res.Landing = &site
			return res, nil
		}

		if site.Scored && (best < 0 || score.Flatness < res.Sites[best].Score.Flatness) {
			best = len(res.Sites) - 1
		}

		if reason, done := c.exhausted(attempt); done {
			return c.fallback(ctx, res, best, reason)
		}

		c.event(ctx, storage.EventRelocate, fmt.Sprintf("attempt %d, %.2f m forward", attempt+1, c.cfg.RelocationDistance))
		if err = c.act.Move(ctx, motion.Forward, c.cfg.RelocationDistance, c.cfg.ForwardVelocity); err != nil {
			return res, c.stopOn(fmt.Errorf("relocating: %w", err))
		}
	}
}

func (c *Controller) exhausted(attempt int) (string, bool) {
	if c.cfg.MaxSiteAttempts > 0 && attempt >= c.cfg.MaxSiteAttempts {
		return fmt.Sprintf("%d sites evaluated", attempt), true
	}

	if c.cfg.CriticalBattery > 0 {
		s := c.telemetry.Get()
		if s.Has(telemetry.Battery) && s.Battery < c.cfg.CriticalBattery {
			return fmt.Sprintf("critical battery %.2f V", s.Battery), true
		}
	}

	return "", false
}

func (c *Controller) fallback(ctx context.Context, res Result, best int, reason string) (Result, error) {
	if best < 0 {
		c.logger.Warn("landing site search exhausted, landing in place", slog.String("reason", reason))
		c.event(ctx, storage.EventFallback, reason+", landing in place")
		res.Outcome = OutcomeExhausted
		return res, nil
	}

	site := res.Sites[best]
	current := res.Sites[len(res.Sites)-1]
	back := current.Offset - site.Offset

	c.logger.Warn("landing site search exhausted, returning to the flattest site",
		slog.String("reason", reason),
		slog.Int("attempt", site.Attempt),
		slog.Float64("flatness", site.Score.Flatness),
		slog.Float64("distance", back))
	c.event(ctx, storage.EventFallback, fmt.Sprintf("%s, returning %.2f m to site %d", reason, back, site.Attempt))

	if back > 0 {
		m := moveTowards(motion.Back, &c.cfg)
		if err := c.act.Move(ctx, m.Direction, back, m.Velocity); err != nil {
			return res, c.stopOn(fmt.Errorf("returning to site %d: %w", site.Attempt, err))
		}
	}

	res.Outcome = OutcomeBestSite
	res.Landing = &site
	return res, nil
}

// manual applies operator commands until the autonomous routine should take
// over (true) or the operator lands (false)
func (c *Controller) manual(ctx context.Context) (bool, error) {
	ticker := time.NewTicker(time.Duration(c.cfg.TickInterval))
	defer ticker.Stop()

	commands := c.commands
	for {
		select {
		case <-ctx.Done():
			return false, c.stopOn(ctx.Err())

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}

			switch cmd {
			case CommandLand:
				c.event(ctx, storage.EventManual, cmd.String())
				return false, nil
			case CommandSeek:
				c.event(ctx, storage.EventAutonomous, "operator")
				return true, nil
			default:
				if err := c.apply(cmd); err != nil {
					c.logger.Warn(fmt.Sprintf("applying %s: %s", cmd, err.Error()))
				}
			}

		case <-ticker.C:
			if s := c.telemetry.Get(); s.Has(telemetry.Battery) && s.Battery < c.cfg.BatteryThreshold {
				c.logger.Info("battery low, going autonomous", slog.Float64("vbat", s.Battery))
				c.event(ctx, storage.EventAutonomous, fmt.Sprintf("battery %.2f V", s.Battery))
				return true, nil
			}
		}
	}
}

func (c *Controller) apply(cmd Command) error {
	c.logger.Debug("manual command", slog.String("command", cmd.String()))
	return Apply(c.act, cmd, c.cfg.ForwardVelocity, c.cfg.TurnRate)
}

// watchLand cancels the autonomous routine on an operator land command
func (c *Controller) watchLand(ctx context.Context, cancel context.CancelFunc, landed chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.commands:
			if !ok {
				return
			}
			if cmd != CommandLand {
				c.logger.Debug("ignoring command while autonomous", slog.String("command", cmd.String()))
				continue
			}
			c.event(ctx, storage.EventManual, cmd.String())
			close(landed)
			cancel()
			return
		}
	}
}

func isLanded(landed <-chan struct{}) bool {
	select {
	case <-landed:
		return true
	default:
		return false
	}
}

func (c *Controller) aborted(ctx context.Context, res Result) Result {
	c.logger.Info("flight cancelled")
	c.event(context.WithoutCancel(ctx), storage.EventAborted, "")
	res.Outcome = OutcomeAborted
	return res
}

// land stops, then lands
func (c *Controller) land(ctx context.Context) error {
	err := c.act.Stop()
	if errors.Is(err, motion.ErrNotFlying) {
		return nil
	}

	c.event(ctx, storage.EventLanding, "")

	if lErr := c.act.Land(ctx, c.landingVelocity); lErr != nil && !errors.Is(lErr, motion.ErrNotFlying) {
		err = errors.Join(err, lErr)
	}
	if err != nil {
		return fmt.Errorf("landing: %w", err)
	}
	return nil
}

func (c *Controller) fly(ctx context.Context, legs ...leg) error {
	for _, l := range legs {
		m := moveTowards(l.dir, &c.cfg)
		if err := c.act.Move(ctx, m.Direction, l.distance, m.Velocity); err != nil {
			return c.stopOn(fmt.Errorf("moving %s: %w", l.dir, err))
		}
	}
	return nil
}

func (c *Controller) settle(ctx context.Context) error {
	return motion.Sleep(ctx, time.Duration(c.cfg.SettleTime))
}

// stopOn commands a stop and returns err joined with any stop failure
func (c *Controller) stopOn(err error) error {
	if sErr := c.act.Stop(); sErr != nil && !errors.Is(sErr, motion.ErrNotFlying) {
		return errors.Join(err, fmt.Errorf("stopping: %w", sErr))
	}
	return err
}

func (c *Controller) event(ctx context.Context, kind storage.EventKind, detail string) {
	if c.recorder != nil {
		c.recorder.RecordEvent(ctx, kind, detail)
	}
}

func (c *Controller) recordSite(ctx context.Context, site Site) {
	if c.recorder != nil {
		c.recorder.RecordSite(ctx, site)
	}
}
