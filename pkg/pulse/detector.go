// Package pulse detects heart beats in the IR channel of the optical sensor.
//
// The detector keeps the IR values of the last Window seconds and fires on
// the rising crossing of an adaptive threshold placed between the window mean
// and its maximum. The threshold is taken from the samples before the current
// one, so a slow upstroke still crosses it. A refractory period suppresses
// double counting within one pulse.
package pulse

import (
	"fmt"
	"math"

	"heartglow/pkg/sensor"
)

// BeatEvent marks a detected beat.
type BeatEvent struct {
	Time   float64
	Sample sensor.RawSample
}

// Config holds detector parameters. Times are in seconds.
type Config struct {
	Window       float64 // span of the rolling window; must cover one slow pulse
	Ratio        float64 // threshold position between mean (0) and max (1)
	MinAmplitude float64 // minimum window max-min to accept a crossing
	MinIR        uint32  // minimum IR level, below it no finger is present
	Refractory   float64 // time after a beat during which crossings are ignored
	MaxGap       float64 // time between samples above which the slope is re-seeded
}

// DefaultConfig returns the default detector parameters. The refractory
// period stays below one beat at 220 bpm.
func DefaultConfig() Config {
	return Config{
		Window:       2.0,
		Ratio:        0.5,
		MinAmplitude: 200,
		MinIR:        50000,
		Refractory:   0.25,
		MaxGap:       0.25,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window <= c.MaxGap {
		return fmt.Errorf("pulse: window must be longer than max_gap")
	}
	if c.Ratio <= 0 || c.Ratio >= 1 {
		return fmt.Errorf("pulse: ratio must be between 0 and 1")
	}
	if c.Refractory < 0 || c.MaxGap <= 0 {
		return fmt.Errorf("pulse: refractory must be >= 0 and max_gap > 0")
	}
	if c.Refractory >= c.Window {
		return fmt.Errorf("pulse: refractory must be shorter than the window")
	}
	return nil
}

// MaxRate returns the highest rate in bpm the refractory period lets through.
func (c Config) MaxRate() float64 {
	if c.Refractory <= 0 {
		return math.Inf(1)
	}
	return 60 / c.Refractory
}

// Stats are detector counters.
type Stats struct {
	Samples    uint64
	Beats      uint64
	Suppressed uint64 // crossings inside the refractory period
	Gaps       uint64
}

type point struct {
	t float64
	v float64
}

// Detector finds beats in a stream of valid samples. Not safe for
// concurrent use.
type Detector struct {
	cfg Config

	window []point // window[head:] holds the samples, oldest first
	head   int
	sum    float64

	prev     float64
	prevTime float64
	hasPrev  bool

	lastBeat float64
	hasBeat  bool

	stats Stats
}

// NewDetector creates a detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Reset clears the window, slope reference and refractory state.
func (d *Detector) Reset() {
	d.window, d.head, d.sum = d.window[:0], 0, 0
	d.prev, d.prevTime, d.hasPrev = 0, 0, false
	d.lastBeat, d.hasBeat = 0, false
}

// Stats returns the detector counters.
func (d *Detector) Stats() Stats {
	return d.stats
}

// Threshold returns the crossing threshold the next sample is tested
// against; zero while the window is empty.
func (d *Detector) Threshold() float64 {
	if d.head == len(d.window) {
		return 0
	}
	mean, max, _ := d.levels()
	return mean + d.cfg.Ratio*(max-mean)
}

// Observe feeds one valid sample and reports whether it completes a beat.
func (d *Detector) Observe(s sensor.RawSample) (BeatEvent, bool) {
	d.stats.Samples++
	cur := float64(s.IR)
	d.expire(s.Time)
	defer d.push(s.Time, cur)

	if !d.hasPrev || s.Time-d.prevTime > d.cfg.MaxGap {
		if d.hasPrev {
			d.stats.Gaps++
		}
		d.prev, d.prevTime, d.hasPrev = cur, s.Time, true
		return BeatEvent{}, false
	}
	prev := d.prev
	d.prev, d.prevTime = cur, s.Time

	mean, max, min := d.levels()
	if cur > max {
		max = cur
	}
	if cur < min {
		min = cur
	}
	threshold := mean + d.cfg.Ratio*(max-mean)
	if !(prev < threshold && cur >= threshold && cur > prev) {
		return BeatEvent{}, false
	}
	if max-min < d.cfg.MinAmplitude || s.IR < d.cfg.MinIR {
		return BeatEvent{}, false
	}
	if d.hasBeat && s.Time-d.lastBeat < d.cfg.Refractory {
		d.stats.Suppressed++
		return BeatEvent{}, false
	}

	d.lastBeat, d.hasBeat = s.Time, true
	d.stats.Beats++
	return BeatEvent{Time: s.Time, Sample: s}, true
}

// expire drops samples older than the window span before now.
func (d *Detector) expire(now float64) {
	for d.head < len(d.window) && now-d.window[d.head].t > d.cfg.Window {
		d.sum -= d.window[d.head].v
		d.head++
	}
	switch {
	case d.head == len(d.window):
		d.window, d.head, d.sum = d.window[:0], 0, 0
	case d.head > len(d.window)/2:
		n := copy(d.window, d.window[d.head:])
		d.window, d.head = d.window[:n], 0
	}
}

func (d *Detector) push(t, v float64) {
	d.window = append(d.window, point{t: t, v: v})
	d.sum += v
}

// levels returns the mean, max and min of the window, which must not be
// empty.
func (d *Detector) levels() (mean, max, min float64) {
	live := d.window[d.head:]
	max, min = live[0].v, live[0].v
	for _, p := range live[1:] {
		if p.v > max {
			max = p.v
		}
		if p.v < min {
			min = p.v
		}
	}
	return d.sum / float64(len(live)), max, min
}
