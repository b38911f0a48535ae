package app

import (
	"go.uber.org/zap"

	"heartglow/pkg/config"
	"heartglow/pkg/i2c"
	"heartglow/pkg/led"
	"heartglow/pkg/sensor"
)

// NewDriver returns the configured sensor driver.
func NewDriver(cfg config.SensorConfig, clock sensor.Clock) sensor.Driver {
	if cfg.Driver == config.DriverSim {
		return sensor.NewSim(clock, cfg.Sim)
	}
	return &busDriver{cfg: cfg}
}

// busDriver opens the I2C bus on every init attempt, so a missing or
// unplugged bus is a sensor fault retried by the supervisor rather than a
// startup error.
type busDriver struct {
	cfg  config.SensorConfig
	bus  *i2c.Device
	part *sensor.MAX30102
}

func (b *busDriver) Init() error {
	b.release()
	bus, err := i2c.Open(b.cfg.I2C)
	if err != nil {
		return err
	}
	part, err := sensor.NewMAX30102(bus, b.cfg.MAX30102)
	if err != nil {
		bus.Close()
		return err
	}
	if err := part.Init(); err != nil {
		bus.Close()
		return err
	}
	b.bus, b.part = bus, part
	return nil
}

func (b *busDriver) Read() (uint32, uint32, error) {
	if b.part == nil {
		return 0, 0, i2c.ErrClosed
	}
	return b.part.Read()
}

func (b *busDriver) Close() error {
	if b.part != nil {
		b.part.Close()
	}
	return b.release()
}

func (b *busDriver) release() error {
	var err error
	if b.bus != nil {
		err = b.bus.Close()
	}
	b.bus, b.part = nil, nil
	return err
}

// NewTransport opens the configured strip transport. A strip that cannot
// be opened falls back to logging frames so the device keeps measuring.
func NewTransport(cfg config.StripConfig, logger *zap.Logger) led.Transport {
	if cfg.Transport == config.TransportSPI {
		t, err := led.OpenSPI(cfg.SPIDevice)
		if err == nil {
			return t
		}
		logger.Error("strip unavailable, logging frames instead",
			zap.String("device", cfg.SPIDevice), zap.Error(err))
	}
	return led.NewLogTransport(logger.Named("strip"))
}
