// Package i2c provides register access to devices on a Linux i2c-dev bus.
package i2c

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrClosed       = errors.New("i2c: bus closed")
	ErrNotSupported = errors.New("i2c: not supported on this platform")
	ErrShortRead    = errors.New("i2c: short read")
)

// Bus is register access to one device address.
type Bus interface {
	// ReadReg reads len(buf) bytes starting at reg.
	ReadReg(reg byte, buf []byte) error

	// WriteReg writes one byte to reg.
	WriteReg(reg, value byte) error

	Close() error
}

// Config holds bus configuration.
type Config struct {
	// Bus number, e.g. 1 for /dev/i2c-1
	Bus int

	// 7-bit device address
	Address uint16
}

// DevicePath returns the i2c-dev node for the configured bus.
func (c Config) DevicePath() string {
	return fmt.Sprintf("/dev/i2c-%d", c.Bus)
}

// ReadByte reads a single register.
func ReadByte(b Bus, reg byte) (byte, error) {
	var buf [1]byte
	if err := b.ReadReg(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
