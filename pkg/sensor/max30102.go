// MAX30102 pulse oximetry sensor support
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sensor

import (
	"fmt"
	"time"

	deverrors "heartglow/pkg/errors"
	"heartglow/pkg/i2c"
)

// MAX30102 register map
const (
	max30102IntStat1  = 0x00
	max30102FIFOWrPtr = 0x04
	max30102OvfCount  = 0x05
	max30102FIFORdPtr = 0x06
	max30102FIFOData  = 0x07
	max30102FIFOCfg   = 0x08
	max30102ModeCfg   = 0x09
	max30102SpO2Cfg   = 0x0A
	max30102Led1PA    = 0x0C // red
	max30102Led2PA    = 0x0D // IR
	max30102PartIDReg = 0xFF
)

const (
	// MAX30102Address is the fixed 7-bit bus address.
	MAX30102Address = 0x57

	max30102PartID       = 0x15
	max30102ModeSpO2     = 0x03
	max30102ResetControl = 0x40
	max30102FIFORollover = 0x10
	max30102FIFODepth    = 32
	max30102SampleMask   = 0x3FFFF
)

var max30102SampleRates = map[int]byte{
	50: 0, 100: 1, 200: 2, 400: 3, 800: 4, 1000: 5, 1600: 6, 3200: 7,
}

var max30102Averaging = map[int]byte{
	1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5,
}

// MAX30102Config holds the part's acquisition settings.
type MAX30102Config struct {
	SampleRate   int  // samples per second
	Averaging    int  // FIFO sample averaging
	PulseWidth   byte // 0..3, 69us..411us
	ADCRange     byte // 0..3, 2048nA..16384nA
	RedAmplitude byte // LED current, 0.2mA per LSB
	IRAmplitude  byte
}

// DefaultMAX30102Config returns settings suited to a fingertip reading.
func DefaultMAX30102Config() MAX30102Config {
	return MAX30102Config{
		SampleRate:   100,
		Averaging:    4,
		PulseWidth:   3,
		ADCRange:     1,
		RedAmplitude: 0x24,
		IRAmplitude:  0x24,
	}
}

// MAX30102 reads red and IR channels from the part's FIFO.
type MAX30102 struct {
	bus     i2c.Bus
	cfg     MAX30102Config
	lastIR  uint32
	lastRed uint32
	buf     [6]byte

	// resetDelay is the wait for the soft reset to complete.
	resetDelay time.Duration
}

// Validate checks the settings against what the part supports.
func (cfg MAX30102Config) Validate() error {
	if _, ok := max30102SampleRates[cfg.SampleRate]; !ok {
		return fmt.Errorf("max30102: unsupported sample rate %d", cfg.SampleRate)
	}
	if _, ok := max30102Averaging[cfg.Averaging]; !ok {
		return fmt.Errorf("max30102: unsupported averaging %d", cfg.Averaging)
	}
	if cfg.PulseWidth > 3 || cfg.ADCRange > 3 {
		return fmt.Errorf("max30102: pulse width and adc range must be 0..3")
	}
	return nil
}

// NewMAX30102 creates a driver on bus. The bus must already address the part.
func NewMAX30102(bus i2c.Bus, cfg MAX30102Config) (*MAX30102, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MAX30102{bus: bus, cfg: cfg, resetDelay: time.Millisecond}, nil
}

// Init resets and configures the part.
func (m *MAX30102) Init() error {
	id, err := i2c.ReadByte(m.bus, max30102PartIDReg)
	if err != nil {
		return deverrors.BusError("max30102", "read part id", err)
	}
	if id != max30102PartID {
		return deverrors.New(deverrors.ErrSensorInit,
			fmt.Sprintf("unexpected part id 0x%02x", id)).SetComponent("max30102")
	}

	if err := m.bus.WriteReg(max30102ModeCfg, max30102ResetControl); err != nil {
		return deverrors.BusError("max30102", "reset", err)
	}
	time.Sleep(m.resetDelay)

	fifoCfg := max30102Averaging[m.cfg.Averaging]<<5 | max30102FIFORollover
	spo2Cfg := m.cfg.ADCRange<<5 | max30102SampleRates[m.cfg.SampleRate]<<2 | m.cfg.PulseWidth
	writes := []struct {
		reg, value byte
		what       string
	}{
		{max30102FIFOWrPtr, 0, "clear write pointer"},
		{max30102OvfCount, 0, "clear overflow"},
		{max30102FIFORdPtr, 0, "clear read pointer"},
		{max30102FIFOCfg, fifoCfg, "fifo config"},
		{max30102ModeCfg, max30102ModeSpO2, "mode config"},
		{max30102SpO2Cfg, spo2Cfg, "spo2 config"},
		{max30102Led1PA, m.cfg.RedAmplitude, "red amplitude"},
		{max30102Led2PA, m.cfg.IRAmplitude, "ir amplitude"},
	}
	for _, w := range writes {
		if err := m.bus.WriteReg(w.reg, w.value); err != nil {
			return deverrors.BusError("max30102", w.what, err)
		}
	}
	// Reading the status register clears the power-ready interrupt.
	if _, err := i2c.ReadByte(m.bus, max30102IntStat1); err != nil {
		return deverrors.BusError("max30102", "clear interrupts", err)
	}
	m.lastIR, m.lastRed = 0, 0
	return nil
}

// Read returns the newest FIFO entry. An empty FIFO repeats the previous
// sample. Older entries are discarded.
func (m *MAX30102) Read() (uint32, uint32, error) {
	var ptrs [3]byte
	if err := m.bus.ReadReg(max30102FIFOWrPtr, ptrs[:]); err != nil {
		return 0, 0, deverrors.BusError("max30102", "read fifo pointers", err)
	}
	wr, ovf, rd := ptrs[0]&0x1F, ptrs[1]&0x1F, ptrs[2]&0x1F
	pending := (int(wr) - int(rd) + max30102FIFODepth) % max30102FIFODepth
	if pending == 0 && ovf > 0 {
		// Equal pointers with lost samples mean a full FIFO, not an empty one.
		pending = max30102FIFODepth
	}
	if pending == 0 {
		return m.lastIR, m.lastRed, nil
	}
	if pending > 1 {
		// Skip to the newest entry.
		if err := m.bus.WriteReg(max30102FIFORdPtr, byte((int(wr)-1+max30102FIFODepth)%max30102FIFODepth)); err != nil {
			return 0, 0, deverrors.BusError("max30102", "advance read pointer", err)
		}
	}
	if err := m.bus.ReadReg(max30102FIFOData, m.buf[:]); err != nil {
		return 0, 0, deverrors.BusError("max30102", "read fifo", err)
	}
	m.lastRed = decodeChannel(m.buf[0:3])
	m.lastIR = decodeChannel(m.buf[3:6])
	return m.lastIR, m.lastRed, nil
}

// Close shuts the part down and releases the bus.
func (m *MAX30102) Close() error {
	// SHDN bit keeps register contents while stopping the LEDs.
	_ = m.bus.WriteReg(max30102ModeCfg, 0x80)
	return m.bus.Close()
}

func decodeChannel(b []byte) uint32 {
	return (uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])) & max30102SampleMask
}
