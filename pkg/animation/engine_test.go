package animation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartglow/pkg/led"
)

type recordingSink struct {
	frames [][]led.Color
	err    error
}

func (s *recordingSink) Show(colors []led.Color) error {
	s.frames = append(s.frames, append([]led.Color(nil), colors...))
	return s.err
}

var (
	small  = led.Color{R: 10}
	medium = led.Color{G: 20}
	big    = led.Color{R: 255, B: 48}
)

func testConfig() Config {
	return Config{
		ChainLength:  7,
		Path:         LinearPath(7),
		SmallCount:   3,
		MediumCount:  4,
		BigCount:     7,
		SmallColor:   small,
		MediumColor:  medium,
		BigColor:     big,
		StepInterval: 1.0,
		Pause:        2.0,
		FadeInterval: 1.0,
		FadeFactor:   0.5,
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e, err := NewEngine(cfg, sink, nil)
	require.NoError(t, err)
	return e, sink
}

func frame(colors ...led.Color) []led.Color {
	out := make([]led.Color, 7)
	copy(out, colors)
	return out
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseSmallSweep, "small_sweep"},
		{PhaseMediumSweep, "medium_sweep"},
		{PhaseBigSweep, "big_sweep"},
		{PhasePauseAfterBig, "pause_after_big"},
		{PhaseFadeOut, "fade_out"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}

func TestIdleRendersOff(t *testing.T) {
	e, sink := newTestEngine(t, testConfig())

	for i := 0; i < 5; i++ {
		e.Tick(float64(i), false)
	}
	require.Len(t, sink.frames, 5)
	for _, f := range sink.frames {
		assert.Equal(t, frame(), f)
	}
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestFullSequenceAfterOneTickTrigger(t *testing.T) {
	e, sink := newTestEngine(t, testConfig())

	var phases []Phase
	e.OnPhaseChange(func(_, to Phase) { phases = append(phases, to) })

	at := map[float64][]led.Color{}
	ticks := 0
	for half := 0; half <= 60; half++ {
		now := float64(half) / 2
		e.Tick(now, half == 0)
		ticks++
		at[now] = e.Colors()
	}

	assert.Equal(t, []Phase{
		PhaseSmallSweep, PhaseMediumSweep, PhaseBigSweep,
		PhasePauseAfterBig, PhaseFadeOut, PhaseIdle,
	}, phases)
	assert.Len(t, sink.frames, ticks, "one Show per Tick")

	assert.Equal(t, frame(small), at[0])
	assert.Equal(t, frame(small), at[0.5])
	assert.Equal(t, frame(small, small, small), at[2])
	// One more step before the next phase paints.
	assert.Equal(t, frame(small, small, small), at[2.5])
	assert.Equal(t, frame(medium, small, small), at[3])
	assert.Equal(t, frame(medium, medium, medium, medium), at[6])
	assert.Equal(t, frame(big, medium, medium, medium), at[7])
	all := frame(big, big, big, big, big, big, big)
	assert.Equal(t, all, at[13])
	// Pause holds the full pattern.
	assert.Equal(t, all, at[14])
	assert.Equal(t, all, at[15.5])
	half := led.Color{R: 127, B: 24}
	assert.Equal(t, frame(half, half, half, half, half, half, half), at[16])

	// 255 reaches zero after 8 halvings: fade steps at 16..23.
	assert.NotEqual(t, frame(), at[22])
	assert.Equal(t, frame(), at[23])
	assert.Equal(t, PhaseIdle, e.Phase())
	assert.Equal(t, frame(), sink.frames[len(sink.frames)-1])
	assert.Equal(t, uint64(1), e.Stats().Sequences)
}

func TestTriggerIgnoredWhileRunning(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	e.Tick(0, true)
	e.Tick(1, true)
	e.Tick(2, true)
	assert.Equal(t, PhaseSmallSweep, e.Phase())
	assert.Equal(t, frame(small, small, small), e.Colors())
	assert.Equal(t, uint64(1), e.Stats().Sequences)
}

func TestNoStepBeforeInterval(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	e.Tick(0, true)
	for i := 1; i < 10; i++ {
		e.Tick(0.99, false)
	}
	assert.Equal(t, frame(small), e.Colors())
}

func TestFadeOutOfZerosGoesIdle(t *testing.T) {
	cfg := testConfig()
	cfg.SmallColor, cfg.MediumColor, cfg.BigColor = led.Off, led.Off, led.Off
	e, _ := newTestEngine(t, cfg)

	var phases []Phase
	e.OnPhaseChange(func(_, to Phase) { phases = append(phases, to) })
	for now := 0; now <= 16; now++ {
		e.Tick(float64(now), now == 0)
	}

	// Pause ends at 16; the first fade step already finds everything off.
	assert.Equal(t, []Phase{
		PhaseSmallSweep, PhaseMediumSweep, PhaseBigSweep,
		PhasePauseAfterBig, PhaseFadeOut, PhaseIdle,
	}, phases)
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestFadeStep(t *testing.T) {
	zeros := make([]led.Color, 4)
	assert.True(t, FadeStep(zeros, 0.8))
	assert.Equal(t, make([]led.Color, 4), zeros)

	colors := []led.Color{{R: 1}, {G: 200}}
	assert.False(t, FadeStep(colors, 0.8))
	assert.Equal(t, []led.Color{{}, {G: 160}}, colors)
}

func TestShowErrorsDoNotStopEngine(t *testing.T) {
	e, sink := newTestEngine(t, testConfig())
	sink.err = errors.New("spi write failed")

	e.Tick(0, true)
	e.Tick(1, false)
	assert.Equal(t, frame(small, small), e.Colors())
	assert.Equal(t, uint64(2), e.Stats().ShowErrors)
}

func TestRestartAfterIdle(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	now := 0.0
	e.Tick(now, true)
	for e.Phase() != PhaseIdle {
		now++
		e.Tick(now, false)
	}
	e.Tick(now+1, true)
	assert.Equal(t, PhaseSmallSweep, e.Phase())
	assert.Equal(t, uint64(2), e.Stats().Sequences)
}

func TestCustomPath(t *testing.T) {
	cfg := testConfig()
	cfg.Path = Path{6, 5, 4, 3, 2, 1, 0}
	e, _ := newTestEngine(t, cfg)

	e.Tick(0, true)
	e.Tick(1, false)
	assert.Equal(t, []led.Color{{}, {}, {}, {}, {}, small, small}, e.Colors())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"path out of range", func(c *Config) { c.Path = Path{0, 7} }},
		{"path repeated", func(c *Config) { c.Path = Path{0, 0, 1} }},
		{"empty path", func(c *Config) { c.Path = nil }},
		{"count beyond path", func(c *Config) { c.BigCount = 8 }},
		{"zero count", func(c *Config) { c.SmallCount = 0 }},
		{"fade factor one", func(c *Config) { c.FadeFactor = 1 }},
		{"zero step", func(c *Config) { c.StepInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestTriggerPolicies(t *testing.T) {
	beat := Trigger{Policy: TriggerBeat}
	raw := Trigger{Policy: TriggerRaw, RawThreshold: 60000}
	rate := Trigger{Policy: TriggerRate, RateThreshold: 50}

	tests := []struct {
		name string
		trig Trigger
		in   TriggerInput
		want bool
	}{
		{"beat fires", beat, TriggerInput{Beat: true}, true},
		{"beat idle", beat, TriggerInput{HasSample: true, IR: 90000}, false},
		{"raw above", raw, TriggerInput{HasSample: true, IR: 60000}, true},
		{"raw below", raw, TriggerInput{HasSample: true, IR: 59999}, false},
		{"raw without sample", raw, TriggerInput{IR: 90000}, false},
		{"rate above", rate, TriggerInput{RateValid: true, RateBPM: 72}, true},
		{"rate invalid", rate, TriggerInput{RateBPM: 72}, false},
		{"manual", rate, TriggerInput{Manual: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trig.Fire(tt.in))
		})
	}
}

func TestParseTriggerPolicy(t *testing.T) {
	p, err := ParseTriggerPolicy("raw")
	require.NoError(t, err)
	assert.Equal(t, TriggerRaw, p)

	_, err = ParseTriggerPolicy("threshold")
	assert.Error(t, err)
}
