// Package telemetry exposes the device state to the network: a debug HTTP
// server with a WebSocket stream, and optional broker publishers.
//
// Network goroutines never touch core state. The control loop stores an
// immutable Snapshot after every iteration and everything here reads it
// through Store.
package telemetry

import (
	"sync/atomic"
	"time"

	"heartglow/pkg/rate"
	"heartglow/pkg/sensor"
)

// Snapshot is the published device state. Rates are null while the
// estimator has no data.
type Snapshot struct {
	IR         int  `json:"ir"`
	Red        int  `json:"red"`
	BPMInstant *int `json:"bpm_instant"`
	BPMAvg     *int `json:"bpm_avg"`
	Beat       bool `json:"beat"`
}

// NewSnapshot builds a snapshot from one loop iteration.
func NewSnapshot(s sensor.RawSample, est rate.Estimate, beat bool) Snapshot {
	snap := Snapshot{IR: int(s.IR), Red: int(s.Red), Beat: beat}
	if v, ok := est.InstantBPM(); ok {
		snap.BPMInstant = &v
	}
	if v, ok := est.AverageBPM(); ok {
		snap.BPMAvg = &v
	}
	return snap
}

// Status is the device health summary.
type Status struct {
	Sensor    string  `json:"sensor"`
	Animation string  `json:"animation"`
	Network   string  `json:"network"`
	Uptime    float64 `json:"uptime"`
}

// Message is what publishers send: the snapshot plus its origin.
type Message struct {
	Device    string    `json:"device"`
	Session   string    `json:"session"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot
}

// Store holds the latest snapshot and status. Safe for concurrent use.
type Store struct {
	snap    atomic.Pointer[Snapshot]
	status  atomic.Pointer[Status]
	version atomic.Uint64
}

// NewStore returns a store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&Snapshot{})
	s.status.Store(&Status{})
	return s
}

// Publish replaces the snapshot.
func (s *Store) Publish(snap Snapshot) {
	s.snap.Store(&snap)
	s.version.Add(1)
}

// Load returns the latest snapshot and its version.
func (s *Store) Load() (Snapshot, uint64) {
	return *s.snap.Load(), s.version.Load()
}

// SetStatus replaces the status.
func (s *Store) SetStatus(st Status) {
	s.status.Store(&st)
}

// Status returns the latest status.
func (s *Store) Status() Status {
	return *s.status.Load()
}
