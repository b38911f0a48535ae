// Package animation sequences the beat animation on the LED chain.
//
// A trigger in Idle starts the sequence SmallSweep, MediumSweep, BigSweep,
// PauseAfterBig, FadeOut, and back to Idle. A started sequence always runs to
// completion. The engine never sleeps: every Tick compares the loop time to
// the next step time, performs at most one rendering step and presents the
// frame once.
package animation

import (
	"fmt"

	"go.uber.org/zap"

	"heartglow/pkg/led"
)

// Phase is the animation state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSmallSweep
	PhaseMediumSweep
	PhaseBigSweep
	PhasePauseAfterBig
	PhaseFadeOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSmallSweep:
		return "small_sweep"
	case PhaseMediumSweep:
		return "medium_sweep"
	case PhaseBigSweep:
		return "big_sweep"
	case PhasePauseAfterBig:
		return "pause_after_big"
	case PhaseFadeOut:
		return "fade_out"
	default:
		return "unknown"
	}
}

// Sink presents a full frame. Implemented by led.Strip.
type Sink interface {
	Show(colors []led.Color) error
}

// Path is the order in which sweeps light the chain's elements.
type Path []int

// Validate checks that every index addresses the chain and appears once.
func (p Path) Validate(chainLength int) error {
	if len(p) == 0 {
		return fmt.Errorf("animation: empty element path")
	}
	seen := make(map[int]bool, len(p))
	for _, idx := range p {
		if idx < 0 || idx >= chainLength {
			return fmt.Errorf("animation: path index %d outside chain of %d", idx, chainLength)
		}
		if seen[idx] {
			return fmt.Errorf("animation: path index %d repeated", idx)
		}
		seen[idx] = true
	}
	return nil
}

// LinearPath returns 0, 1, ... n-1.
func LinearPath(n int) Path {
	p := make(Path, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Config holds the animation parameters. Times are in seconds.
type Config struct {
	ChainLength int
	Path        Path

	SmallCount  int
	MediumCount int
	BigCount    int

	SmallColor  led.Color
	MediumColor led.Color
	BigColor    led.Color

	StepInterval float64
	Pause        float64
	FadeInterval float64
	FadeFactor   float64
}

// DefaultConfig returns the sequence for a 7 element ring.
func DefaultConfig() Config {
	return Config{
		ChainLength:  7,
		Path:         LinearPath(7),
		SmallCount:   3,
		MediumCount:  4,
		BigCount:     7,
		SmallColor:   led.Color{R: 96, G: 0, B: 16},
		MediumColor:  led.Color{R: 176, G: 0, B: 32},
		BigColor:     led.Color{R: 255, G: 0, B: 48},
		StepInterval: 0.06,
		Pause:        0.3,
		FadeInterval: 0.03,
		FadeFactor:   0.8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Path.Validate(c.ChainLength); err != nil {
		return err
	}
	for _, n := range []int{c.SmallCount, c.MediumCount, c.BigCount} {
		if n < 1 || n > len(c.Path) {
			return fmt.Errorf("animation: sweep count %d must be 1..%d", n, len(c.Path))
		}
	}
	if c.StepInterval <= 0 || c.FadeInterval <= 0 || c.Pause < 0 {
		return fmt.Errorf("animation: intervals must be positive")
	}
	if c.FadeFactor <= 0 || c.FadeFactor >= 1 {
		return fmt.Errorf("animation: fade_factor must be between 0 and 1")
	}
	return nil
}

// FadeStep scales every color by factor in place and reports whether all
// elements are now off.
func FadeStep(colors []led.Color, factor float64) bool {
	allOff := true
	for i := range colors {
		colors[i] = colors[i].Scale(factor)
		if !colors[i].IsOff() {
			allOff = false
		}
	}
	return allOff
}

// Stats are engine counters.
type Stats struct {
	Sequences  uint64
	Frames     uint64
	ShowErrors uint64
}

// Engine is the animation state machine. Only the loop goroutine calls it.
type Engine struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	phase    Phase
	lit      int // elements painted in the current sweep
	nextStep float64
	colors   []led.Color

	stats         Stats
	onPhaseChange []func(from, to Phase)
}

// NewEngine creates an idle engine rendering to sink.
func NewEngine(cfg Config, sink Sink, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		phase:  PhaseIdle,
		colors: make([]led.Color, cfg.ChainLength),
	}, nil
}

// OnPhaseChange registers a callback for phase transitions.
func (e *Engine) OnPhaseChange(fn func(from, to Phase)) {
	e.onPhaseChange = append(e.onPhaseChange, fn)
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Colors returns a copy of the current frame.
func (e *Engine) Colors() []led.Color {
	out := make([]led.Color, len(e.colors))
	copy(out, e.colors)
	return out
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Tick advances the animation by at most one step and presents the frame.
// trigger only matters in Idle.
func (e *Engine) Tick(now float64, trigger bool) {
	switch e.phase {
	case PhaseIdle:
		if trigger {
			e.stats.Sequences++
			e.startSweep(now, PhaseSmallSweep)
		}
	case PhaseSmallSweep, PhaseMediumSweep, PhaseBigSweep:
		if now >= e.nextStep {
			e.stepSweep(now)
		}
	case PhasePauseAfterBig:
		if now >= e.nextStep {
			e.setPhase(PhaseFadeOut)
			e.stepFade(now)
		}
	case PhaseFadeOut:
		if now >= e.nextStep {
			e.stepFade(now)
		}
	}
	e.show()
}

func (e *Engine) sweep(p Phase) (int, led.Color) {
	switch p {
	case PhaseSmallSweep:
		return e.cfg.SmallCount, e.cfg.SmallColor
	case PhaseMediumSweep:
		return e.cfg.MediumCount, e.cfg.MediumColor
	default:
		return e.cfg.BigCount, e.cfg.BigColor
	}
}

// startSweep enters a sweep phase and paints its first element.
func (e *Engine) startSweep(now float64, p Phase) {
	e.setPhase(p)
	e.lit = 0
	e.paintNext(now)
}

func (e *Engine) paintNext(now float64) {
	_, color := e.sweep(e.phase)
	e.colors[e.cfg.Path[e.lit]] = color
	e.lit++
	e.nextStep = now + e.cfg.StepInterval
}

func (e *Engine) stepSweep(now float64) {
	count, _ := e.sweep(e.phase)
	if e.lit < count {
		e.paintNext(now)
		return
	}
	switch e.phase {
	case PhaseSmallSweep:
		e.startSweep(now, PhaseMediumSweep)
	case PhaseMediumSweep:
		e.startSweep(now, PhaseBigSweep)
	default:
		e.setPhase(PhasePauseAfterBig)
		e.nextStep = now + e.cfg.Pause
	}
}

func (e *Engine) stepFade(now float64) {
	if FadeStep(e.colors, e.cfg.FadeFactor) {
		e.setPhase(PhaseIdle)
		return
	}
	e.nextStep = now + e.cfg.FadeInterval
}

func (e *Engine) setPhase(p Phase) {
	if p == e.phase {
		return
	}
	from := e.phase
	e.phase = p
	if p == PhaseIdle {
		for i := range e.colors {
			e.colors[i] = led.Off
		}
	}
	e.logger.Debug("animation phase", zap.Stringer("from", from), zap.Stringer("to", p))
	for _, fn := range e.onPhaseChange {
		fn(from, p)
	}
}

func (e *Engine) show() {
	e.stats.Frames++
	if err := e.sink.Show(e.colors); err != nil {
		e.stats.ShowErrors++
		if e.stats.ShowErrors == 1 || e.stats.ShowErrors%1000 == 0 {
			e.logger.Warn("failed to present frame",
				zap.Uint64("errors", e.stats.ShowErrors), zap.Error(err))
		}
	}
}
