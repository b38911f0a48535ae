package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceErrorMessage(t *testing.T) {
	cause := stderrors.New("nack")
	assert.Equal(t, "[BUS_IO:max30102] read failed: nack",
		BusError("max30102", "read", cause).Error())
	assert.Equal(t, "[CONFIG:rate] alpha must be in (0, 1]",
		ConfigError("rate", "alpha must be in (0, 1]").Error())
	assert.Equal(t, "[IMPLAUSIBLE_INTERVAL] rate 300.0 bpm outside [30, 220]",
		ImplausibleInterval(300, 30, 220).Error())
}

func TestSentinels(t *testing.T) {
	cause := stderrors.New("no ack")
	err := fmt.Errorf("poll: %w", SensorUnavailable("source", cause))

	assert.ErrorIs(t, err, ErrSensorUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrStartupTimeout)

	assert.ErrorIs(t, ImplausibleInterval(10, 30, 220), ErrImplausibleInterval)
	assert.ErrorIs(t, StartupTimeout("mqtt", nil), ErrStartupTimeout)
}

func TestIsMatchesCode(t *testing.T) {
	err := PublishError("redis", stderrors.New("refused"))
	assert.ErrorIs(t, err, New(ErrPublish, "other message"))
	assert.NotErrorIs(t, err, New(ErrConfig, ""))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("init: %w", SensorInitError("max30102", stderrors.New("bad part id")))
	assert.True(t, HasCode(err, ErrSensorInit))
	assert.False(t, HasCode(err, ErrBusIO))
	assert.False(t, HasCode(stderrors.New("plain"), ErrSensorInit))
	assert.False(t, HasCode(nil, ErrSensorInit))
}

func TestSetContext(t *testing.T) {
	err := New(ErrBusIO, "write failed").SetContext("reg", 0x09).SetContext("attempt", 2)
	assert.Equal(t, map[string]interface{}{"reg": 0x09, "attempt": 2}, err.Context)
}
