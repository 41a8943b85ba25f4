// Package overtime tracks how long an inbound message has been in processing
// and flags runs that exceed the broker's poll interval. Flagging is advisory:
// nothing is cancelled.
package overtime

import (
	"errors"
	"sync"
	"time"

	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

// DefaultMaxProcessingTime matches the default Kafka max.poll.interval.ms.
const DefaultMaxProcessingTime = 300000 * time.Millisecond

// ErrOvertime is attached to the error log written when processing ran too long.
var ErrOvertime = errors.New("commitguard: processing exceeded max processing time")

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOvertimeHook registers fn to run whenever a window is over the limit.
func WithOvertimeHook(fn func(key string, elapsed time.Duration)) Option {
	return func(m *Monitor) {
		m.onOvertime = fn
	}
}

// Monitor holds one processing window per identity key.
type Monitor struct {
	mu         sync.Mutex
	windows    map[string]time.Time
	max        time.Duration
	now        func() time.Time
	logger     loggingpkg.ServiceLogger
	onOvertime func(key string, elapsed time.Duration)
}

// New creates a Monitor. A non-positive max selects DefaultMaxProcessingTime.
func New(maxProcessing time.Duration, logger loggingpkg.ServiceLogger, opts ...Option) *Monitor {
	if maxProcessing <= 0 {
		maxProcessing = DefaultMaxProcessingTime
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	m := &Monitor{
		windows: make(map[string]time.Time),
		max:     maxProcessing,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Max returns the configured threshold.
func (m *Monitor) Max() time.Duration {
	return m.max
}

// Begin starts a window for key, replacing any previous one.
func (m *Monitor) Begin(key string) {
	m.mu.Lock()
	m.windows[key] = m.now()
	m.mu.Unlock()
}

// ElapsedAndCheck ends the window for key and returns its duration and
// whether it exceeded the threshold. Unknown keys report zero.
func (m *Monitor) ElapsedAndCheck(key string) (time.Duration, bool) {
	m.mu.Lock()
	start, ok := m.windows[key]
	delete(m.windows, key)
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	elapsed := m.now().Sub(start)
	if elapsed <= m.max {
		return elapsed, false
	}

	m.logger.Error("Message processing took too long, this will cause duplicate processing", ErrOvertime, loggingpkg.LogFields{
		"identity":   key,
		"elapsed_ms": elapsed.Milliseconds(),
		"max_ms":     m.max.Milliseconds(),
	})
	if m.onOvertime != nil {
		m.onOvertime(key, elapsed)
	}
	return elapsed, true
}

// Cancel drops the window for key without checking it.
func (m *Monitor) Cancel(key string) {
	m.mu.Lock()
	delete(m.windows, key)
	m.mu.Unlock()
}

// Active returns the number of open windows.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
