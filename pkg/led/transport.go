package led

import (
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// spidev ioctl request for the maximum transfer speed (linux/spi/spidev.h).
const spiIOCWrMaxSpeedHz = 0x40046b04

// WS2812 timing at 2.4 MHz SPI: each data bit becomes three SPI bits.
const (
	ws2812SPISpeedHz = 2400000
	ws2812ResetBytes = 24 // >50us low
)

// SPITransport encodes frames as WS2812 bit patterns on a spidev device.
type SPITransport struct {
	f   *os.File
	buf []byte
}

// OpenSPI opens a spidev device (e.g. /dev/spidev0.0) for WS2812 output.
func OpenSPI(device string) (*SPITransport, error) {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("led: open %s: %w", device, err)
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), spiIOCWrMaxSpeedHz, ws2812SPISpeedHz); err != nil {
		f.Close()
		return nil, fmt.Errorf("led: set spi speed on %s: %w", device, err)
	}
	return &SPITransport{f: f}, nil
}

// EncodeWS2812 expands frame bytes into the 3-bits-per-bit SPI stream
// (1 -> 110, 0 -> 100) followed by a low reset period.
func EncodeWS2812(frame []byte, dst []byte) []byte {
	dst = dst[:0]
	for _, b := range frame {
		var bits uint32
		for i := 7; i >= 0; i-- {
			bits <<= 3
			if b&(1<<uint(i)) != 0 {
				bits |= 0b110
			} else {
				bits |= 0b100
			}
		}
		dst = append(dst, byte(bits>>16), byte(bits>>8), byte(bits))
	}
	for i := 0; i < ws2812ResetBytes; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// Write encodes and sends one frame.
func (t *SPITransport) Write(frame []byte) error {
	t.buf = EncodeWS2812(frame, t.buf)
	_, err := t.f.Write(t.buf)
	return err
}

// Close closes the spidev device.
func (t *SPITransport) Close() error {
	return t.f.Close()
}

// LogTransport logs frames instead of driving hardware.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport returns a transport that logs each frame at debug level.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Write(frame []byte) error {
	t.logger.Debug("frame", zap.String("data", hex.EncodeToString(frame)))
	return nil
}

func (t *LogTransport) Close() error { return nil }

// MemoryTransport records frames; used by bench tools and tests.
type MemoryTransport struct {
	Frames [][]byte
	Err    error
}

func (t *MemoryTransport) Write(frame []byte) error {
	if t.Err != nil {
		return t.Err
	}
	t.Frames = append(t.Frames, append([]byte(nil), frame...))
	return nil
}

func (t *MemoryTransport) Close() error { return nil }
