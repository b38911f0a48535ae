// Package supervisor owns the sensor state and its initialization retry
// policy. Sensor faults are never fatal: a failed sensor is retried after a
// fixed backoff for as long as the device runs.
package supervisor

import (
	"sync"

	"go.uber.org/zap"

	deverrors "heartglow/pkg/errors"
)

// State is the sensor availability state.
type State int

const (
	// StateUninitialized is the state before the first init attempt.
	StateUninitialized State = iota

	// StateReady means the sensor answered and may be polled.
	StateReady

	// StateFaulted means the last init attempt or a read failed.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Initializer brings the sensor up. It is called from the loop goroutine and
// must complete in bounded time.
type Initializer interface {
	Init() error
}

// InitFunc adapts a function to Initializer.
type InitFunc func() error

func (f InitFunc) Init() error { return f() }

// Config holds supervisor timing, in loop seconds.
type Config struct {
	// Backoff is the minimum time between init attempts while Faulted.
	Backoff float64

	// EnableAt is the loop time before which no attempt is made.
	EnableAt float64
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		Backoff:  3.0,
		EnableAt: 0,
	}
}

// Supervisor tracks the sensor state. Tick and ReportFault are called from the
// loop goroutine; the accessors are safe from any goroutine.
type Supervisor struct {
	mu sync.RWMutex

	initializer Initializer
	cfg         Config
	logger      *zap.Logger

	state       State
	lastAttempt float64
	lastErr     error
	attempts    uint64

	onStateChange []func(oldState, newState State)
	onAttempt     []func(err error)
}

// New creates a supervisor in StateUninitialized.
func New(initializer Initializer, cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		initializer: initializer,
		cfg:         cfg,
		logger:      logger,
		state:       StateUninitialized,
	}
}

// OnStateChange registers a callback for state transitions.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = append(s.onStateChange, fn)
}

// OnAttempt registers a callback invoked after every init attempt with its
// result (nil on success).
func (s *Supervisor) OnAttempt(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttempt = append(s.onAttempt, fn)
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the sensor may be polled.
func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// LastAttempt returns the time of the last failed attempt or reported fault.
func (s *Supervisor) LastAttempt() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttempt
}

// LastError returns the error that caused the current fault, if any.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Attempts returns the number of init attempts made.
func (s *Supervisor) Attempts() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Tick makes at most one init attempt when one is due.
func (s *Supervisor) Tick(now float64) State {
	s.mu.RLock()
	state, last := s.state, s.lastAttempt
	s.mu.RUnlock()

	if now < s.cfg.EnableAt {
		return state
	}
	switch state {
	case StateReady:
		return state
	case StateFaulted:
		if now-last < s.cfg.Backoff {
			return state
		}
	}

	err := s.initializer.Init()

	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	attemptHooks := s.onAttempt
	s.mu.Unlock()
	for _, fn := range attemptHooks {
		fn(err)
	}

	if err != nil {
		s.logger.Warn("sensor init failed",
			zap.Uint64("attempt", attempt),
			zap.Float64("retry_in", s.cfg.Backoff),
			zap.Error(err))
		s.setState(StateFaulted, now, deverrors.SensorInitError("sensor", err))
		return StateFaulted
	}

	s.logger.Info("sensor ready", zap.Uint64("attempt", attempt))
	s.setState(StateReady, 0, nil)
	return StateReady
}

// ReportFault moves a Ready sensor to Faulted and starts the backoff.
// Reports in any other state are ignored. err is the raw read error and is
// wrapped here as SENSOR_UNAVAILABLE.
func (s *Supervisor) ReportFault(now float64, err error) {
	if s.State() != StateReady {
		return
	}
	cause := deverrors.SensorUnavailable("sensor", err)
	s.logger.Warn("sensor fault", zap.Error(err))
	s.setState(StateFaulted, now, cause)
}

func (s *Supervisor) setState(newState State, lastAttempt float64, cause error) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.lastAttempt = lastAttempt
	s.lastErr = cause
	callbacks := s.onStateChange
	s.mu.Unlock()

	if oldState == newState {
		return
	}
	for _, fn := range callbacks {
		fn(oldState, newState)
	}
}
