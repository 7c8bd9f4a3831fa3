package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
)

type row struct {
	t      uint32
	values []any
}

type memLog struct {
	mu   sync.Mutex
	rows []row
}

func (m *memLog) Write(t uint32, values ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row{t, values})
	return nil
}

func (m *memLog) all() []row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]row(nil), m.rows...)
}

func TestMailbox_CopyOnWrite(t *testing.T) {
	var m Mailbox

	first := m.Get()
	require.NotNil(t, first)
	assert.False(t, first.Has(Light))

	m.Update(func(s *Snapshot) {
		s.Light = 1200
		s.Seen |= Light
	})

	second := m.Get()
	assert.Equal(t, 1200.0, second.Light)
	assert.True(t, second.Has(Light))
	assert.Zero(t, first.Light)

	m.Update(func(s *Snapshot) { s.Battery = 3.7 })
	assert.Equal(t, 1200.0, m.Get().Light)
	assert.Equal(t, 3.7, m.Get().Battery)
	assert.Zero(t, second.Battery)
}

func TestTrace(t *testing.T) {
	var tr Trace

	assert.False(t, tr.Append(0.3))
	assert.Empty(t, tr.End())

	tr.Begin()
	assert.True(t, tr.Active())
	assert.True(t, tr.Append(0.30))
	assert.True(t, tr.Append(0.31))
	assert.Equal(t, 2, tr.Len())

	samples := tr.End()
	assert.Equal(t, []float64{0.30, 0.31}, samples)
	assert.False(t, tr.Active())

	tr.Begin()
	assert.Zero(t, tr.Len())
	assert.Equal(t, []float64{0.30, 0.31}, samples)
}

func TestStream_String(t *testing.T) {
	names := make([]string, 0, len(Streams))
	for _, s := range Streams {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{"pos", "range", "intensity", "vbat", "thrust"}, names)
}

func TestCollector_Run(t *testing.T) {
	var mailbox Mailbox
	var trace Trace

	pos := make(chan crazyflie.LogRecord)
	ranges := make(chan crazyflie.LogRecord)
	posLog, rangeLog := &memLog{}, &memLog{}

	c := NewCollector(&mailbox, WithTrace(&trace))
	c.Add(Position, pos, posLog)
	c.Add(Range, ranges, rangeLog)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	pos <- crazyflie.LogRecord{Timestamp: 100, Values: map[string]float64{
		"stateEstimate.x": 1, "stateEstimate.y": 2, "stateEstimate.z": 0.3,
	}}
	require.Eventually(t, func() bool { return len(posLog.all()) == 1 }, time.Second, time.Millisecond)

	trace.Begin()
	pos <- crazyflie.LogRecord{Timestamp: 110, Values: map[string]float64{
		"stateEstimate.x": 1, "stateEstimate.y": 2, "stateEstimate.z": 0.31,
	}}
	ranges <- crazyflie.LogRecord{Timestamp: 120, Values: map[string]float64{
		"range.left": 100, "range.front": 300, "range.right": 300, "range.back": 300,
	}}

	close(pos)
	close(ranges)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}

	assert.Equal(t, []float64{0.31}, trace.End())

	assert.Equal(t, []row{
		{100, []any{1.0, 2.0, 0.3, false}},
		{110, []any{1.0, 2.0, 0.31, true}},
	}, posLog.all())
	assert.Equal(t, []row{{120, []any{100.0, 300.0, 300.0, 300.0}}}, rangeLog.all())

	s := mailbox.Get()
	assert.Equal(t, 0.31, s.Z)
	assert.Equal(t, 100.0, s.RangeLeft)
	assert.True(t, s.Has(Position))
	assert.True(t, s.Has(Range))
	assert.False(t, s.Has(Battery))
}

func TestCollector_StopsOnCancel(t *testing.T) {
	var mailbox Mailbox
	c := NewCollector(&mailbox)
	c.Add(Battery, make(chan crazyflie.LogRecord), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestCollector_NoStreams(t *testing.T) {
	var mailbox Mailbox
	assert.Error(t, NewCollector(&mailbox).Run(context.Background()))
}
