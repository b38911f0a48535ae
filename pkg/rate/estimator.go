// Package rate turns beat events into an instantaneous and a smoothed heart
// rate.
package rate

import (
	"fmt"
	"math"

	deverrors "heartglow/pkg/errors"
	"heartglow/pkg/pulse"
)

// Config holds estimator parameters.
type Config struct {
	MinBPM float64 // lowest plausible rate
	MaxBPM float64 // highest plausible rate
	Alpha  float64 // smoothing weight of a new interval, 0 < Alpha < 1

	// StaleBeats is how many average beat periods may pass without an
	// accepted beat before the estimate is dropped.
	StaleBeats float64
}

// DefaultConfig returns the default estimator parameters.
func DefaultConfig() Config {
	return Config{
		MinBPM:     20,
		MaxBPM:     220,
		Alpha:      0.15,
		StaleBeats: 3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinBPM <= 0 || c.MaxBPM <= c.MinBPM {
		return fmt.Errorf("rate: need 0 < min_bpm < max_bpm")
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("rate: alpha must be in (0, 1)")
	}
	if c.StaleBeats <= 0 {
		return fmt.Errorf("rate: stale_beats must be positive")
	}
	return nil
}

// Estimate is the current rate. Rates are meaningless while Valid is false.
type Estimate struct {
	Instant  float64
	Smoothed float64
	Valid    bool
	Beats    int // accepted intervals since the estimate became valid
}

// InstantBPM returns the instantaneous rate rounded to whole beats.
func (e Estimate) InstantBPM() (int, bool) {
	if !e.Valid {
		return 0, false
	}
	return int(math.Round(e.Instant)), true
}

// AverageBPM returns the smoothed rate rounded to whole beats.
func (e Estimate) AverageBPM() (int, bool) {
	if !e.Valid {
		return 0, false
	}
	return int(math.Round(e.Smoothed)), true
}

// Stats are estimator counters.
type Stats struct {
	Accepted uint64
	TooFast  uint64
	TooSlow  uint64
	Expired  uint64
}

// Estimator folds beat intervals into an exponentially weighted average.
// Not safe for concurrent use.
type Estimator struct {
	cfg Config
	est Estimate

	anchor    float64
	hasAnchor bool

	lastAccepted float64
	lastErr      error
	stats        Stats
}

// NewEstimator creates an estimator with no data.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Estimate returns the current estimate.
func (e *Estimator) Estimate() Estimate {
	return e.est
}

// Stats returns the estimator counters.
func (e *Estimator) Stats() Stats {
	return e.stats
}

// LastRejection returns why the most recent interval was discarded, or nil
// if it was accepted.
func (e *Estimator) LastRejection() error {
	return e.lastErr
}

// Reset drops the estimate and the interval anchor.
func (e *Estimator) Reset() {
	e.est = Estimate{}
	e.anchor, e.hasAnchor = 0, false
	e.lastAccepted = 0
	e.lastErr = nil
}

// Observe folds one beat into the estimate. It returns the updated estimate
// and true only when the beat closed an interval inside the plausibility
// band; otherwise the estimate is returned unchanged.
func (e *Estimator) Observe(ev pulse.BeatEvent) (Estimate, bool) {
	if !e.hasAnchor {
		e.anchor, e.hasAnchor = ev.Time, true
		return e.est, false
	}
	dt := ev.Time - e.anchor
	if dt <= 0 {
		return e.est, false
	}
	bpm := 60 / dt

	switch {
	case bpm > e.cfg.MaxBPM:
		// An extra peak inside one pulse; the anchor stays on the real beat.
		e.stats.TooFast++
		e.lastErr = deverrors.ImplausibleInterval(bpm, e.cfg.MinBPM, e.cfg.MaxBPM)
		return e.est, false
	case bpm < e.cfg.MinBPM:
		// Beats were missed; measure from this one.
		e.anchor = ev.Time
		e.stats.TooSlow++
		e.lastErr = deverrors.ImplausibleInterval(bpm, e.cfg.MinBPM, e.cfg.MaxBPM)
		return e.est, false
	}

	e.anchor = ev.Time
	e.lastAccepted = ev.Time
	e.lastErr = nil
	e.stats.Accepted++

	if !e.est.Valid {
		e.est = Estimate{Instant: bpm, Smoothed: bpm, Valid: true, Beats: 1}
		return e.est, true
	}
	e.est.Instant = bpm
	e.est.Smoothed = (1-e.cfg.Alpha)*e.est.Smoothed + e.cfg.Alpha*bpm
	e.est.Beats++
	return e.est, true
}

// StaleAfter returns how long the current estimate survives without an
// accepted beat.
func (e *Estimator) StaleAfter() float64 {
	floor := 60 / e.cfg.MinBPM
	if !e.est.Valid || e.est.Smoothed <= 0 {
		return floor
	}
	return math.Max(e.cfg.StaleBeats*60/e.est.Smoothed, floor)
}

// Expire drops a valid estimate that has gone stale at now. The next
// accepted interval bootstraps a fresh average. It reports whether the
// estimate was dropped.
func (e *Estimator) Expire(now float64) bool {
	if !e.est.Valid || now-e.lastAccepted <= e.StaleAfter() {
		return false
	}
	e.est = Estimate{}
	e.stats.Expired++
	return true
}
