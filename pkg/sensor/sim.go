package sensor

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
)

// ErrSimulatedFault is returned by a Sim told to fail.
var ErrSimulatedFault = errors.New("sim: simulated fault")

// Clock supplies the time the simulated waveform is sampled at.
type Clock interface {
	Monotonic() float64
}

// SimConfig shapes the synthetic photoplethysmogram.
type SimConfig struct {
	BPM       float64 // pulse rate
	DC        float64 // IR baseline level
	Amplitude float64 // IR pulse height
	Noise     float64 // peak uniform noise
	RedRatio  float64 // red level relative to IR
	Seed      uint64
}

// DefaultSimConfig returns a resting 72 bpm finger.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		BPM:       72,
		DC:        100000,
		Amplitude: 2000,
		Noise:     20,
		RedRatio:  0.8,
		Seed:      1,
	}
}

// Sim is a Driver producing a pulse waveform from a clock: a fast systolic
// upstroke and a slower decay once per beat.
type Sim struct {
	mu    sync.Mutex
	clock Clock
	cfg   SimConfig
	rng   *rand.Rand

	failInits int
	readErr   error
	inits     int
}

// NewSim creates a simulated sensor.
func NewSim(clock Clock, cfg SimConfig) *Sim {
	return &Sim{
		clock: clock,
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// FailInits makes the next n Init calls fail.
func (s *Sim) FailInits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInits = n
}

// SetReadError makes Read fail with err until cleared with nil.
func (s *Sim) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// SetBPM changes the simulated pulse rate.
func (s *Sim) SetBPM(bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.BPM = bpm
}

// Inits returns the number of Init calls.
func (s *Sim) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

func (s *Sim) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if s.failInits > 0 {
		s.failInits--
		return ErrSimulatedFault
	}
	return nil
}

func (s *Sim) Read() (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, 0, s.readErr
	}
	v := s.cfg.DC + s.cfg.Amplitude*pulseShape(s.clock.Monotonic()*s.cfg.BPM/60)
	if s.cfg.Noise > 0 {
		v += s.cfg.Noise * (2*s.rng.Float64() - 1)
	}
	if v < 0 {
		v = 0
	}
	return uint32(v), uint32(v * s.cfg.RedRatio), nil
}

func (s *Sim) Close() error { return nil }

// pulseShape returns the waveform, 0..1, at cycle position beats.
func pulseShape(beats float64) float64 {
	phase := beats - math.Floor(beats)
	if phase < 0.15 {
		return gauss(phase, 0.15, 0.05)
	}
	return math.Exp(-(phase - 0.15) / 0.2)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
