package seeker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/storage"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

type call struct {
	Op       string
	Dir      motion.Direction
	Distance float64
	Velocity float64
}

// fakeActuator records commands. While the trace is active it plays back one
// altitude trace per evaluated site, as the telemetry collector would.
type fakeActuator struct {
	mu      sync.Mutex
	calls   []call
	landed  bool
	starts  int
	onStart func(n int)
	moves   int
	onMove  func(n int)

	trace  *telemetry.Trace
	traces [][]float64
	site   int
	filled bool

	moveErr error
}

func (f *fakeActuator) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeActuator) StartMove(dir motion.Direction, velocity float64) error {
	f.record(call{Op: "start", Dir: dir, Velocity: velocity})

	f.mu.Lock()
	f.starts++
	n, fn := f.starts, f.onStart
	f.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return nil
}

func (f *fakeActuator) StartTurn(dir motion.Turn, rate float64) error {
	op := "turn-right"
	if dir == motion.TurnLeft {
		op = "turn-left"
	}
	f.record(call{Op: op, Velocity: rate})
	return nil
}

func (f *fakeActuator) Stop() error {
	f.mu.Lock()
	landed := f.landed
	f.mu.Unlock()

	if landed {
		return motion.ErrNotFlying
	}
	f.record(call{Op: "stop"})
	return nil
}

func (f *fakeActuator) Move(ctx context.Context, dir motion.Direction, distance, velocity float64) error {
	f.record(call{Op: "move", Dir: dir, Distance: distance, Velocity: velocity})

	if f.moveErr != nil {
		return f.moveErr
	}

	if f.trace != nil {
		f.mu.Lock()
		if !f.trace.Active() {
			f.filled = false
		} else if !f.filled {
			f.filled = true
			samples := f.traces[min(f.site, len(f.traces)-1)]
			f.site++
			for _, z := range samples {
				f.trace.Append(z)
			}
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.moves++
	n, fn := f.moves, f.onMove
	f.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return ctx.Err()
}

func (f *fakeActuator) Land(_ context.Context, velocity float64) error {
	f.record(call{Op: "land", Velocity: velocity})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.landed = true
	return nil
}

func (f *fakeActuator) history() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	sites  []Site
	events []storage.EventKind
	onSite func(site Site)
}

func (r *fakeRecorder) RecordSite(_ context.Context, site Site) {
	r.mu.Lock()
	r.sites = append(r.sites, site)
	fn := r.onSite
	r.mu.Unlock()

	if fn != nil {
		fn(site)
	}
}

func (r *fakeRecorder) RecordEvent(_ context.Context, kind storage.EventKind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *fakeRecorder) kinds() []storage.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.EventKind(nil), r.events...)
}

var (
	flatTrace  = []float64{0.30, 0.31, 0.29, 0.30}
	roughTrace = []float64{0.30, 0.40, 0.20, 0.35}
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = Duration(time.Millisecond)
	cfg.SettleTime = 0
	return cfg
}

type harness struct {
	mailbox  *telemetry.Mailbox
	trace    *telemetry.Trace
	act      *fakeActuator
	recorder *fakeRecorder
	ctrl     *Controller
}

func newHarness(t *testing.T, cfg Config, traces [][]float64, options ...func(*Controller)) *harness {
	t.Helper()

	h := harness{
		mailbox:  &telemetry.Mailbox{},
		trace:    &telemetry.Trace{},
		recorder: &fakeRecorder{},
	}
	h.act = &fakeActuator{trace: h.trace, traces: traces}

	options = append([]func(*Controller){WithRecorder(h.recorder)}, options...)

	var err error
	h.ctrl, err = NewController(cfg, h.act, h.mailbox, h.trace, options...)
	require.NoError(t, err)

	return &h
}

func (h *harness) set(fn func(s *telemetry.Snapshot)) {
	h.mailbox.Update(fn)
}

func squareCalls() []call {
	return []call{
		{Op: "stop"},
		{Op: "move", Dir: motion.Left, Distance: 0.2, Velocity: 0.2},
		{Op: "move", Dir: motion.Back, Distance: 0.2, Velocity: 0.2},
		{Op: "move", Dir: motion.Forward, Distance: 0.4, Velocity: 0.2},
		{Op: "move", Dir: motion.Right, Distance: 0.4, Velocity: 0.2},
		{Op: "move", Dir: motion.Back, Distance: 0.4, Velocity: 0.2},
		{Op: "move", Dir: motion.Left, Distance: 0.4, Velocity: 0.2},
		{Op: "move", Dir: motion.Forward, Distance: 0.2, Velocity: 0.2},
		{Op: "move", Dir: motion.Right, Distance: 0.2, Velocity: 0.2},
	}
}

func TestNewController_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LightThreshold = -1

	_, err := NewController(cfg, &fakeActuator{}, &telemetry.Mailbox{}, &telemetry.Trace{})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSeekLight_AvoidsThenStops(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.set(func(s *telemetry.Snapshot) {
		s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = 100, 300, 300, 300
	})

	h.act.onStart = func(n int) {
		switch n {
		case 2:
			h.set(func(s *telemetry.Snapshot) { s.RangeLeft = 300 })
		case 3:
			h.set(func(s *telemetry.Snapshot) { s.Light = 1200 })
		}
	}

	require.NoError(t, h.ctrl.SeekLight(context.Background()))

	want := []call{
		{Op: "start", Dir: motion.Right, Velocity: 0.2},
		{Op: "start", Dir: motion.Right, Velocity: 0.2},
		{Op: "start", Dir: motion.Forward, Velocity: 0.2},
		{Op: "stop"},
	}
	if diff := cmp.Diff(want, h.act.history()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestSeekLight_AlreadyLit(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.set(func(s *telemetry.Snapshot) { s.Light = 1000 })

	require.NoError(t, h.ctrl.SeekLight(context.Background()))
	assert.Equal(t, []call{{Op: "stop"}}, h.act.history())
}

func TestSeekLight_Cancelled(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.set(func(s *telemetry.Snapshot) {
		s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = 300, 300, 300, 300
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.act.onStart = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	err := h.ctrl.SeekLight(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	calls := h.act.history()
	assert.Equal(t, call{Op: "stop"}, calls[len(calls)-1])
}

func TestCheckFlatness_Maneuver(t *testing.T) {
	h := newHarness(t, testConfig(), [][]float64{flatTrace})

	score, err := h.ctrl.CheckFlatness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, score.Samples)
	assert.InDelta(t, 0.0070711, score.Flatness, 1e-6)
	assert.False(t, h.trace.Active())

	if diff := cmp.Diff(squareCalls(), h.act.history()); diff != "" {
		t.Errorf("maneuver mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckFlatness_MoveFails(t *testing.T) {
	h := newHarness(t, testConfig(), [][]float64{flatTrace})
	h.act.moveErr = errors.New("link lost")

	_, err := h.ctrl.CheckFlatness(context.Background())
	assert.ErrorContains(t, err, "link lost")
	assert.False(t, h.trace.Active())
}

func TestFindLandingSite_RelocatesUntilFlat(t *testing.T) {
	h := newHarness(t, testConfig(), [][]float64{roughTrace, flatTrace})

	res, err := h.ctrl.FindLandingSite(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.Len(t, res.Sites, 2)
	assert.False(t, res.Sites[0].Accepted)
	assert.InDelta(t, 0.074, res.Sites[0].Score.Flatness, 1e-3)
	assert.True(t, res.Sites[1].Accepted)
	require.NotNil(t, res.Landing)
	assert.Equal(t, 2, res.Landing.Attempt)
	assert.Equal(t, 0.4, res.Landing.Offset)

	want := squareCalls()
	want = append(want, call{Op: "move", Dir: motion.Forward, Distance: 0.4, Velocity: 0.2})
	want = append(want, squareCalls()...)
	if diff := cmp.Diff(want, h.act.history()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, h.recorder.sites, 2)
	assert.Equal(t, []storage.EventKind{storage.EventRelocate}, h.recorder.kinds())
}

func TestFindLandingSite_ReturnsToFlattestSite(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSiteAttempts = 3

	h := newHarness(t, cfg, [][]float64{
		roughTrace,
		{0.30, 0.33, 0.27, 0.30}, // flattest, still above threshold
		{0.30, 0.36, 0.24, 0.30},
	})

	res, err := h.ctrl.FindLandingSite(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBestSite, res.Outcome)
	require.Len(t, res.Sites, 3)
	require.NotNil(t, res.Landing)
	assert.Equal(t, 2, res.Landing.Attempt)

	calls := h.act.history()
	assert.Equal(t, call{Op: "move", Dir: motion.Back, Distance: 0.4, Velocity: 0.2}, calls[len(calls)-1])
	assert.Equal(t, storage.EventFallback, h.recorder.kinds()[len(h.recorder.kinds())-1])
}

func TestFindLandingSite_EmptyTraces(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSiteAttempts = 2

	h := newHarness(t, cfg, [][]float64{{}})

	res, err := h.ctrl.FindLandingSite(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Nil(t, res.Landing)
	require.Len(t, res.Sites, 2)
	assert.False(t, res.Sites[0].Scored)
	assert.False(t, res.Sites[1].Accepted)

	// one relocation, no way back
	want := squareCalls()
	want = append(want, call{Op: "move", Dir: motion.Forward, Distance: 0.4, Velocity: 0.2})
	want = append(want, squareCalls()...)
	if diff := cmp.Diff(want, h.act.history()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestFindLandingSite_CriticalBattery(t *testing.T) {
	cfg := testConfig()
	cfg.CriticalBattery = 2.6

	h := newHarness(t, cfg, [][]float64{roughTrace})
	h.set(func(s *telemetry.Snapshot) {
		s.Battery = 2.5
		s.Seen |= telemetry.Battery
	})

	res, err := h.ctrl.FindLandingSite(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBestSite, res.Outcome)
	require.Len(t, res.Sites, 1)
	assert.Equal(t, 1, res.Landing.Attempt)
	if diff := cmp.Diff(squareCalls(), h.act.history()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_BatteryTriggersAutonomousLanding(t *testing.T) {
	h := newHarness(t, testConfig(), [][]float64{flatTrace})
	h.set(func(s *telemetry.Snapshot) {
		s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = 300, 300, 300, 300
		s.Battery = 2.7
		s.Seen |= telemetry.Battery | telemetry.Range
	})
	h.act.onStart = func(n int) {
		if n == 2 {
			h.set(func(s *telemetry.Snapshot) { s.Light = 1500 })
		}
	}

	res, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)

	calls := h.act.history()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []call{{Op: "stop"}, {Op: "land", Velocity: motion.DefaultVelocity}}, calls[len(calls)-2:])

	assert.Equal(t, []storage.EventKind{
		storage.EventAutonomous,
		storage.EventLightFound,
		storage.EventLanding,
	}, h.recorder.kinds())
}

func TestRun_WaitsForBatteryReading(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// zero volts but never received: stays manual until cancelled
	res, err := h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	for _, c := range h.act.history() {
		assert.NotEqual(t, "start", c.Op)
	}
}

func TestRun_ManualCommands(t *testing.T) {
	commands := make(chan Command, 3)
	commands <- CommandForward
	commands <- CommandTurnLeft
	commands <- CommandLand

	h := newHarness(t, testConfig(), nil, WithCommands(commands), WithLandingVelocity(0.1))

	res, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, res.Outcome)

	want := []call{
		{Op: "stop"},
		{Op: "start", Dir: motion.Forward, Velocity: 0.2},
		{Op: "stop"},
		{Op: "turn-left", Velocity: 36},
		{Op: "stop"},
		{Op: "land", Velocity: 0.1},
	}
	if diff := cmp.Diff(want, h.act.history()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SeekCommand(t *testing.T) {
	commands := make(chan Command, 1)
	commands <- CommandSeek

	h := newHarness(t, testConfig(), [][]float64{flatTrace}, WithCommands(commands))
	h.set(func(s *telemetry.Snapshot) { s.Light = 2000 })

	res, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
}

func TestRun_CancelledWhileSeeking(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.set(func(s *telemetry.Snapshot) {
		s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = 300, 300, 300, 300
		s.Battery = 2.0
		s.Seen |= telemetry.Battery
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.act.onStart = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	res, err := h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	calls := h.act.history()
	assert.Equal(t, []call{{Op: "stop"}, {Op: "land", Velocity: motion.DefaultVelocity}}, calls[len(calls)-2:])

	kinds := h.recorder.kinds()
	assert.Contains(t, kinds, storage.EventAborted)
	assert.Equal(t, storage.EventLanding, kinds[len(kinds)-1])
}

func TestRun_LandCommandWhileAutonomous(t *testing.T) {
	commands := make(chan Command)

	h := newHarness(t, testConfig(), nil, WithCommands(commands))
	h.set(func(s *telemetry.Snapshot) {
		s.RangeLeft, s.RangeFront, s.RangeRight, s.RangeBack = 300, 300, 300, 300
		s.Battery = 2.0
		s.Seen |= telemetry.Battery
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		commands <- CommandForward // ignored
		commands <- CommandLand
	}()

	res, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, res.Outcome)

	calls := h.act.history()
	assert.Equal(t, call{Op: "land", Velocity: motion.DefaultVelocity}, calls[len(calls)-1])
}

func TestRun_PropagatesFailures(t *testing.T) {
	commands := make(chan Command, 1)
	commands <- CommandSeek

	h := newHarness(t, testConfig(), [][]float64{flatTrace}, WithCommands(commands))
	h.set(func(s *telemetry.Snapshot) { s.Light = 2000 })
	h.act.moveErr = errors.New("link lost")

	_, err := h.ctrl.Run(context.Background())
	assert.ErrorContains(t, err, "link lost")

	calls := h.act.history()
	assert.Equal(t, "land", calls[len(calls)-1].Op)
}

func TestRun_CancelledWhileSearchingForSite(t *testing.T) {
	// moves 1-8 evaluate the first site, 9 relocates, 10-17 evaluate the second
	for _, n := range []int{1, 4, 9, 12} {
		t.Run(fmt.Sprintf("move %d", n), func(t *testing.T) {
			h := newHarness(t, testConfig(), [][]float64{roughTrace, flatTrace})
			h.set(func(s *telemetry.Snapshot) {
				s.Light = 2000
				s.Battery = 2.0
				s.Seen |= telemetry.Battery
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.act.onMove = func(m int) {
				if m == n {
					cancel()
				}
			}

			res, err := h.ctrl.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, OutcomeAborted, res.Outcome)
			assert.False(t, h.trace.Active())

			calls := h.act.history()
			require.GreaterOrEqual(t, len(calls), 2)
			assert.Equal(t, []call{{Op: "stop"}, {Op: "land", Velocity: motion.DefaultVelocity}}, calls[len(calls)-2:])
			assert.Contains(t, h.recorder.kinds(), storage.EventAborted)
		})
	}
}

func TestRun_LandCommandAfterSiteAccepted(t *testing.T) {
	commands := make(chan Command)

	h := newHarness(t, testConfig(), [][]float64{flatTrace}, WithCommands(commands))
	h.set(func(s *telemetry.Snapshot) {
		s.Light = 2000
		s.Battery = 2.0
		s.Seen |= telemetry.Battery
	})

	// the operator lands just as the site is accepted
	h.recorder.onSite = func(Site) {
		commands <- CommandLand
		assert.Eventually(t, func() bool {
			return slices.Contains(h.recorder.kinds(), storage.EventManual)
		}, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	res, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.NotNil(t, res.Landing)
	assert.Equal(t, 1, res.Landing.Attempt)
}
