//go:build linux

package i2c

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ioctl request selecting the slave address (linux/i2c-dev.h).
const ioctlI2CSlave = 0x0703

// Device is an open i2c-dev file bound to one slave address.
type Device struct {
	mu     sync.Mutex
	fd     int
	config Config
	closed bool
}

// Open opens the bus and selects the device address.
func Open(cfg Config) (*Device, error) {
	path := cfg.DevicePath()
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, ioctlI2CSlave, int(cfg.Address)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("i2c: select address 0x%02x on %s: %w", cfg.Address, path, err)
	}
	return &Device{fd: fd, config: cfg}, nil
}

// ReadReg writes the register pointer and reads len(buf) bytes.
func (d *Device) ReadReg(reg byte, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, err := unix.Write(d.fd, []byte{reg}); err != nil {
		return fmt.Errorf("i2c: set register 0x%02x: %w", reg, err)
	}
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return fmt.Errorf("i2c: read register 0x%02x: %w", reg, err)
	}
	if n != len(buf) {
		return ErrShortRead
	}
	return nil
}

// WriteReg writes one register.
func (d *Device) WriteReg(reg, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, err := unix.Write(d.fd, []byte{reg, value}); err != nil {
		return fmt.Errorf("i2c: write register 0x%02x: %w", reg, err)
	}
	return nil
}

// Close releases the bus.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return unix.Close(d.fd)
}
