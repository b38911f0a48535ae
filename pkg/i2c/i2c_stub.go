// i2c-dev is only available on Linux. This stub keeps the package building
// on development hosts.

//go:build !linux

package i2c

// Device is unavailable on this platform.
type Device struct{}

// Open always fails on this platform.
func Open(cfg Config) (*Device, error) {
	return nil, ErrNotSupported
}

func (d *Device) ReadReg(reg byte, buf []byte) error { return ErrNotSupported }

func (d *Device) WriteReg(reg, value byte) error { return ErrNotSupported }

func (d *Device) Close() error { return nil }
