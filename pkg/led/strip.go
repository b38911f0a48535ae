// Addressable LED chain output
//
// Copyright (C) 2019-2022 Kevin O'Connor <kevin@koconnor.net>
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package led drives a chain of addressable RGB elements (WS2812 style).
package led

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const maxChainSize = 500

// Color is one element's intensity per channel, 0-255.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Off is the all-zero color.
var Off = Color{}

// IsOff reports whether every channel is zero.
func (c Color) IsOff() bool {
	return c.R == 0 && c.G == 0 && c.B == 0
}

// Scale multiplies every channel by f, truncating toward zero.
func (c Color) Scale(f float64) Color {
	return Color{
		R: scaleChannel(c.R, f),
		G: scaleChannel(c.G, f),
		B: scaleChannel(c.B, f),
	}
}

func scaleChannel(v uint8, f float64) uint8 {
	if f <= 0 {
		return 0
	}
	s := float64(v) * f
	if s >= 255 {
		return 255
	}
	return uint8(s)
}

// Transport writes an encoded frame to the hardware.
type Transport interface {
	Write(frame []byte) error
	Close() error
}

// Config holds strip configuration.
type Config struct {
	ChainCount int    // Number of elements in the chain
	ColorOrder string // Byte order on the wire, e.g. "GRB"
}

// DefaultConfig returns the configuration of a 7 element GRB ring.
func DefaultConfig() Config {
	return Config{
		ChainCount: 7,
		ColorOrder: "GRB",
	}
}

// Strip holds the current frame of a chain and transmits it on change.
type Strip struct {
	mu        sync.Mutex
	cfg       Config
	order     [3]int // wire byte i carries channel order[i] (R=0, G=1, B=2)
	transport Transport
	logger    *zap.Logger

	colors  []Color
	data    []byte
	oldData []byte
	frames  uint64
}

// NewStrip creates a strip writing through t.
func NewStrip(cfg Config, t Transport, logger *zap.Logger) (*Strip, error) {
	if cfg.ChainCount < 1 {
		return nil, fmt.Errorf("led: chain_count must be at least 1")
	}
	if cfg.ChainCount > maxChainSize {
		return nil, fmt.Errorf("led: chain too long (%d > %d)", cfg.ChainCount, maxChainSize)
	}
	if cfg.ColorOrder == "" {
		cfg.ColorOrder = "GRB"
	}
	order, err := parseColorOrder(cfg.ColorOrder)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("led: transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Strip{
		cfg:       cfg,
		order:     order,
		transport: t,
		logger:    logger,
		colors:    make([]Color, cfg.ChainCount),
		data:      make([]byte, 3*cfg.ChainCount),
		oldData:   make([]byte, 3*cfg.ChainCount),
	}
	// Force the first Show to transmit.
	for i := range s.oldData {
		s.oldData[i] = s.data[i] ^ 1
	}
	return s, nil
}

// parseColorOrder validates an RGB permutation such as "GRB".
func parseColorOrder(co string) ([3]int, error) {
	var order [3]int
	if len(co) != 3 {
		return order, fmt.Errorf("led: invalid color_order '%s'", co)
	}
	seen := [3]bool{}
	for i := 0; i < 3; i++ {
		idx := -1
		switch co[i] {
		case 'R', 'r':
			idx = 0
		case 'G', 'g':
			idx = 1
		case 'B', 'b':
			idx = 2
		}
		if idx < 0 || seen[idx] {
			return order, fmt.Errorf("led: invalid color_order '%s'", co)
		}
		seen[idx] = true
		order[i] = idx
	}
	return order, nil
}

// Len returns the number of elements.
func (s *Strip) Len() int {
	return s.cfg.ChainCount
}

// Show sets every element and presents the frame. Elements beyond
// len(colors) are turned off. The transport is only written when the
// encoded frame differs from the last one sent.
func (s *Strip) Show(colors []Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.colors {
		if i < len(colors) {
			s.colors[i] = colors[i]
		} else {
			s.colors[i] = Off
		}
		ch := [3]uint8{s.colors[i].R, s.colors[i].G, s.colors[i].B}
		for b := 0; b < 3; b++ {
			s.data[3*i+b] = ch[s.order[b]]
		}
	}

	changed := false
	for i, b := range s.data {
		if b != s.oldData[i] {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	if err := s.transport.Write(s.data); err != nil {
		return fmt.Errorf("led: transmit: %w", err)
	}
	copy(s.oldData, s.data)
	s.frames++
	return nil
}

// Colors returns a copy of the current frame.
func (s *Strip) Colors() []Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Color, len(s.colors))
	copy(out, s.colors)
	return out
}

// Frames returns how many frames were transmitted.
func (s *Strip) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close turns the chain off and closes the transport.
func (s *Strip) Close() error {
	if err := s.Show(nil); err != nil {
		s.logger.Warn("failed to blank strip", zap.Error(err))
	}
	return s.transport.Close()
}
