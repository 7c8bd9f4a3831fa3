package telemetry

import "sync"

// Trace records altitude samples while a flatness check is in progress.
// Samples appended outside Begin/End are ignored.
type Trace struct {
	mu      sync.Mutex
	active  bool
	samples []float64
}

// Begin clears the trace and starts recording
func (t *Trace) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = true
	t.samples = nil
}

// Append records a sample if the trace is active
func (t *Trace) Append(z float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return false
	}
	t.samples = append(t.samples, z)
	return true
}

// End stops recording and returns the samples collected since Begin
func (t *Trace) End() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = false
	samples := t.samples
	t.samples = nil
	return samples
}

// Active reports whether the trace is recording
func (t *Trace) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Len returns the number of samples recorded so far
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}
