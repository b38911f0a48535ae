// Package sensor takes raw optical samples from the heart rate sensor.
package sensor

import (
	"go.uber.org/zap"
)

// RawSample is one reading of both optical channels.
type RawSample struct {
	IR   uint32  `json:"ir"`
	Red  uint32  `json:"red"`
	Time float64 `json:"time"`
}

// Driver talks to the sensor hardware. Init may be called again after a
// failure; Read performs at most one bus transaction.
type Driver interface {
	Init() error
	Read() (ir, red uint32, err error)
	Close() error
}

// Availability gates the source. It is implemented by the fault supervisor.
type Availability interface {
	Ready() bool
	ReportFault(now float64, err error)
}

// Stats are source counters.
type Stats struct {
	Samples  uint64
	Failures uint64
	Skipped  uint64
}

// Source polls the driver once per loop iteration.
type Source struct {
	driver Driver
	avail  Availability
	logger *zap.Logger

	last  RawSample
	stats Stats
}

// NewSource creates a source reading from driver while avail is ready.
func NewSource(driver Driver, avail Availability, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		driver: driver,
		avail:  avail,
		logger: logger,
	}
}

// Poll returns the current sample, or false when the sensor is not ready or
// the read failed. A failed read is reported to the supervisor.
func (s *Source) Poll(now float64) (RawSample, bool) {
	if !s.avail.Ready() {
		s.stats.Skipped++
		return RawSample{}, false
	}
	ir, red, err := s.driver.Read()
	if err != nil {
		s.stats.Failures++
		s.logger.Debug("sample read failed", zap.Error(err))
		s.avail.ReportFault(now, err)
		return RawSample{}, false
	}
	s.stats.Samples++
	s.last = RawSample{IR: ir, Red: red, Time: now}
	return s.last, true
}

// Last returns the most recent valid sample.
func (s *Source) Last() RawSample {
	return s.last
}

// Stats returns the source counters.
func (s *Source) Stats() Stats {
	return s.stats
}
