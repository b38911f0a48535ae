// Package reactor provides the cooperative control loop of the device.
//
// Everything that touches core state runs on the goroutine calling Run (or
// RunOnce). Each iteration services the network side first, then runs the
// registered steps in registration order, then fires due timers, and finally
// yields for a short fixed delay. Steps must never block.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Constants
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// Common errors
var (
	ErrRunning = errors.New("reactor: already running")
)

// Clock supplies monotonic event times in seconds.
type Clock interface {
	Monotonic() float64
}

// SystemClock measures time since its creation.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock starting at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Monotonic returns the seconds elapsed since the clock was created.
func (c *SystemClock) Monotonic() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a clock that only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// NewManualClock returns a manual clock set to start.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

// Monotonic returns the current manual time.
func (c *ManualClock) Monotonic() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by dt seconds.
func (c *ManualClock) Advance(dt float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += dt
	return c.now
}

// StepFunc is one bounded unit of loop work.
type StepFunc func(eventtime float64)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to unregister the timer.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer. Timers are only touched from the
// loop goroutine.
type Timer struct {
	callback TimerCallback
	waketime float64
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	return t.waketime
}

type step struct {
	name string
	fn   StepFunc
}

// Config holds loop timing parameters.
type Config struct {
	// Yield is the fixed delay between iterations.
	Yield time.Duration

	// Budget is the iteration duration above which an overrun is reported.
	Budget time.Duration

	// QueueSize bounds the number of posted callbacks waiting for the loop.
	QueueSize int
}

// DefaultConfig returns the default loop timing.
func DefaultConfig() Config {
	return Config{
		Yield:     5 * time.Millisecond,
		Budget:    20 * time.Millisecond,
		QueueSize: 64,
	}
}

// Stats are loop counters, read from the loop goroutine or after Run returns.
type Stats struct {
	Iterations uint64
	Overruns   uint64
	Dropped    uint64
	LastLength time.Duration
}

// Reactor is the cooperative scheduler.
type Reactor struct {
	clock  Clock
	cfg    Config
	logger *zap.Logger

	steps  []step
	timers []*Timer

	// Callbacks posted from other goroutines; drained at the start of
	// every iteration.
	asyncQueue chan StepFunc

	mu      sync.Mutex
	running bool
	dropped uint64

	stats     Stats
	onOverrun func(length time.Duration)
	onIterate func(length time.Duration)
}

// New creates a new Reactor.
func New(clock Clock, cfg Config, logger *zap.Logger) *Reactor {
	def := DefaultConfig()
	if cfg.Yield < 0 {
		cfg.Yield = def.Yield
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reactor{
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		asyncQueue: make(chan StepFunc, cfg.QueueSize),
	}
}

// Monotonic returns the current loop time in seconds.
func (r *Reactor) Monotonic() float64 {
	return r.clock.Monotonic()
}

// RegisterStep appends a step. Steps run every iteration in registration order.
func (r *Reactor) RegisterStep(name string, fn StepFunc) {
	r.steps = append(r.steps, step{name: name, fn: fn})
}

// StepNames returns the registered step names in execution order.
func (r *Reactor) StepNames() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.name
	}
	return names
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{callback: callback, waketime: waketime}
	r.timers = append(r.timers, timer)
	return timer
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	timer.waketime = NEVER
	for i, t := range r.timers {
		if t == timer {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer updates a timer's wake time.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	timer.waketime = waketime
}

// OnOverrun registers a callback for iterations longer than the budget.
func (r *Reactor) OnOverrun(fn func(length time.Duration)) {
	r.onOverrun = fn
}

// OnIterate registers a callback invoked with every iteration length.
func (r *Reactor) OnIterate(fn func(length time.Duration)) {
	r.onIterate = fn
}

// Post schedules fn on the loop goroutine. It is safe to call from any
// goroutine and never blocks; it returns false when the queue is full.
func (r *Reactor) Post(fn StepFunc) bool {
	select {
	case r.asyncQueue <- fn:
		return true
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return false
	}
}

// Stats returns the loop counters.
func (r *Reactor) Stats() Stats {
	s := r.stats
	r.mu.Lock()
	s.Dropped = r.dropped
	r.mu.Unlock()
	return s
}

// RunOnce performs one loop iteration and returns its event time.
func (r *Reactor) RunOnce() float64 {
	start := time.Now()
	eventtime := r.clock.Monotonic()

	r.serviceNetwork(eventtime)

	for _, s := range r.steps {
		s.fn(eventtime)
	}

	r.checkTimers(eventtime)

	length := time.Since(start)
	r.stats.Iterations++
	r.stats.LastLength = length
	if r.onIterate != nil {
		r.onIterate(length)
	}
	if length > r.cfg.Budget {
		r.stats.Overruns++
		if r.onOverrun != nil {
			r.onOverrun(length)
		}
	}
	return eventtime
}

// Run loops until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info("control loop started",
		zap.Strings("steps", r.StepNames()),
		zap.Duration("yield", r.cfg.Yield),
		zap.Duration("budget", r.cfg.Budget))

	var yield *time.Timer
	if r.cfg.Yield > 0 {
		yield = time.NewTimer(r.cfg.Yield)
		defer yield.Stop()
	}
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("control loop stopped", zap.Uint64("iterations", r.stats.Iterations))
			return nil
		}
		r.RunOnce()

		if yield == nil {
			continue
		}
		yield.Reset(r.cfg.Yield)
		select {
		case <-yield.C:
		case <-ctx.Done():
		}
	}
}

// serviceNetwork drains the callbacks posted by network goroutines. It runs
// first in every iteration so a pending request is never starved by sensor
// or animation work.
// Callbacks posted while draining wait for the next iteration.
func (r *Reactor) serviceNetwork(eventtime float64) {
	for n := len(r.asyncQueue); n > 0; n-- {
		select {
		case fn := <-r.asyncQueue:
			fn(eventtime)
		default:
			return
		}
	}
}

// checkTimers fires due timers.
func (r *Reactor) checkTimers(eventtime float64) {
	if len(r.timers) == 0 {
		return
	}
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	for _, timer := range timers {
		if eventtime < timer.waketime {
			continue
		}
		timer.waketime = NEVER
		next := timer.callback(eventtime)
		if next < timer.waketime {
			timer.waketime = next
		}
	}
}
