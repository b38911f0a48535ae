package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartglow/pkg/reactor"
)

func TestSimWaveformPeriodic(t *testing.T) {
	clock := reactor.NewManualClock(0)
	cfg := DefaultSimConfig()
	cfg.BPM = 60
	cfg.Noise = 0
	sim := NewSim(clock, cfg)

	var peakTimes []float64
	var prev uint32
	rising := false
	for ms := 0; ms < 5000; ms += 10 {
		clock.Set(float64(ms) / 1000)
		ir, red, err := sim.Read()
		require.NoError(t, err)
		assert.InDelta(t, float64(ir)*cfg.RedRatio, float64(red), 1)
		if ir < prev && rising {
			peakTimes = append(peakTimes, float64(ms-10)/1000)
		}
		rising = ir > prev
		prev = ir
	}

	require.Len(t, peakTimes, 5)
	for i := 1; i < len(peakTimes); i++ {
		assert.InDelta(t, 1.0, peakTimes[i]-peakTimes[i-1], 0.011)
	}
}

func TestSimLevels(t *testing.T) {
	clock := reactor.NewManualClock(0)
	sim := NewSim(clock, DefaultSimConfig())

	for ms := 0; ms < 2000; ms += 5 {
		clock.Set(float64(ms) / 1000)
		ir, _, err := sim.Read()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ir, uint32(100000-20))
		assert.LessOrEqual(t, ir, uint32(102000+20))
	}
}

func TestSimFaults(t *testing.T) {
	sim := NewSim(reactor.NewManualClock(0), DefaultSimConfig())

	sim.FailInits(2)
	assert.ErrorIs(t, sim.Init(), ErrSimulatedFault)
	assert.ErrorIs(t, sim.Init(), ErrSimulatedFault)
	assert.NoError(t, sim.Init())
	assert.Equal(t, 3, sim.Inits())

	sim.SetReadError(ErrSimulatedFault)
	_, _, err := sim.Read()
	assert.ErrorIs(t, err, ErrSimulatedFault)
	sim.SetReadError(nil)
	_, _, err = sim.Read()
	assert.NoError(t, err)
}
