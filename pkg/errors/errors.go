// Unified error handling for the heartglow device
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Sensor and bus errors
	ErrSensorUnavailableCode ErrorCode = "SENSOR_UNAVAILABLE"
	ErrSensorInit            ErrorCode = "SENSOR_INIT"
	ErrBusIO                 ErrorCode = "BUS_IO"

	// Pipeline errors
	ErrImplausibleIntervalCode ErrorCode = "IMPLAUSIBLE_INTERVAL"

	// Startup / network errors
	ErrStartupTimeoutCode ErrorCode = "STARTUP_TIMEOUT"
	ErrPublish            ErrorCode = "PUBLISH"

	// Configuration errors
	ErrConfig ErrorCode = "CONFIG"
)

// Sentinel errors for errors.Is checks. A DeviceError with the matching code
// compares equal to these.
var (
	ErrSensorUnavailable   = stderrors.New("sensor unavailable")
	ErrImplausibleInterval = stderrors.New("implausible beat interval")
	ErrStartupTimeout      = stderrors.New("network startup timed out")
)

var sentinels = map[ErrorCode]error{
	ErrSensorUnavailableCode:   ErrSensorUnavailable,
	ErrImplausibleIntervalCode: ErrImplausibleInterval,
	ErrStartupTimeoutCode:      ErrStartupTimeout,
}

// DeviceError is the unified error type for the device
type DeviceError struct {
	// Code is the error category
	Code ErrorCode

	// Component names the subsystem that raised the error (e.g. "max30102")
	Component string

	// Message is a human-readable error description
	Message string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Component != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Code, e.Component, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a DeviceError against the package sentinels.
func (e *DeviceError) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	if t, ok := target.(*DeviceError); ok {
		return t.Code == e.Code
	}
	return false
}

// SetComponent sets the component name
func (e *DeviceError) SetComponent(component string) *DeviceError {
	e.Component = component
	return e
}

// SetContext adds additional context
func (e *DeviceError) SetContext(key string, value interface{}) *DeviceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new DeviceError
func New(code ErrorCode, message string) *DeviceError {
	return &DeviceError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *DeviceError {
	return &DeviceError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// SensorUnavailable reports that no sample could be taken this tick.
func SensorUnavailable(component string, err error) *DeviceError {
	return Wrap(err, ErrSensorUnavailableCode, "no sample").SetComponent(component)
}

// SensorInitError reports a failed sensor initialization attempt.
func SensorInitError(component string, err error) *DeviceError {
	return Wrap(err, ErrSensorInit, "initialization failed").SetComponent(component)
}

// BusError reports a failed bus transaction.
func BusError(component, operation string, err error) *DeviceError {
	return Wrap(err, ErrBusIO, operation+" failed").SetComponent(component)
}

// ImplausibleInterval reports a beat interval whose rate is outside the plausibility band.
func ImplausibleInterval(bpm, minBPM, maxBPM float64) *DeviceError {
	return New(ErrImplausibleIntervalCode,
		fmt.Sprintf("rate %.1f bpm outside [%.0f, %.0f]", bpm, minBPM, maxBPM))
}

// StartupTimeout reports that a network collaborator did not come up in time.
func StartupTimeout(component string, err error) *DeviceError {
	return Wrap(err, ErrStartupTimeoutCode, "startup did not complete").SetComponent(component)
}

// PublishError reports a failed telemetry publication.
func PublishError(component string, err error) *DeviceError {
	return Wrap(err, ErrPublish, "publish failed").SetComponent(component)
}

// ConfigError reports an invalid device configuration.
func ConfigError(section, reason string) *DeviceError {
	return New(ErrConfig, reason).SetComponent(section)
}

// HasCode checks if any error in the chain carries the given code
func HasCode(err error, code ErrorCode) bool {
	var devErr *DeviceError
	if stderrors.As(err, &devErr) {
		return devErr.Code == code
	}
	return false
}
