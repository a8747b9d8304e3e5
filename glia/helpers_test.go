package glia

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// scriptedSampler returns successive CPU readings and a fixed peak.
type scriptedSampler struct {
	cpu    []time.Duration
	calls  int
	peakMB float64
	err    error
}

func (s *scriptedSampler) CPUTime(context.Context) (time.Duration, error) {
	if s.err != nil {
		return 0, s.err
	}
	i := min(s.calls, len(s.cpu)-1)
	s.calls++
	return s.cpu[i], nil
}

func (s *scriptedSampler) PeakResidentMemoryMB(context.Context) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.peakMB, nil
}

// scriptedClock returns successive instants, repeating the last one.
func scriptedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[min(i, len(times)-1)]
		i++
		return t
	}
}

func unix(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}

// recordingSender keeps every record it is handed.
type recordingSender struct {
	mu      sync.Mutex
	records []*JobMetrics
	err     error
}

func (r *recordingSender) Send(_ context.Context, m *JobMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, m)
	return r.err
}

func (r *recordingSender) all() []*JobMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*JobMetrics(nil), r.records...)
}

// testOptions wires deterministic collaborators: 0s -> 10s CPU over a 20s window.
func testOptions(extra ...Option) []Option {
	opts := []Option{
		withSampler(&scriptedSampler{cpu: []time.Duration{0, 10 * time.Second}, peakMB: 42.123}),
		withClock(scriptedClock(unix(1000), unix(1020))),
		withHost("test-host", "TestOS 1.0.0"),
		WithArgs([]string{"/path/to/script.py", "--arg"}),
		WithLogger(zap.NewNop()),
	}
	return append(opts, extra...)
}
