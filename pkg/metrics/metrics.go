// Metrics collection for the heartglow device
//
// Prometheus collectors for the control loop, the biosignal pipeline, the
// animation and the telemetry publishers. Every Device owns its own
// registry so tests and multiple instances never collide.
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "heartglow_"

// Result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Rejection reasons for beat intervals
const (
	ReasonTooFast = "too_fast"
	ReasonTooSlow = "too_slow"
)

// loop iteration buckets, 1ms..~100ms
var iterationBuckets = prometheus.ExponentialBuckets(0.001, 1.6, 10)

// DeviceMetrics bundles the device collectors.
type DeviceMetrics struct {
	registry *prometheus.Registry

	LoopIterations prometheus.Counter
	LoopOverruns   prometheus.Counter
	LoopDuration   prometheus.Histogram
	LoopDropped    prometheus.Gauge

	Samples         prometheus.Counter
	SampleFailures  prometheus.Counter
	BeatsDetected   prometheus.Counter
	BeatsAccepted   prometheus.Counter
	BeatsRejected   *prometheus.CounterVec
	RateExpired     prometheus.Counter
	InstantBPM      prometheus.Gauge
	AverageBPM      prometheus.Gauge
	RateValid       prometheus.Gauge
	SensorState     *prometheus.GaugeVec
	SensorInits     *prometheus.CounterVec
	AnimationPhase  *prometheus.GaugeVec
	Sequences       prometheus.Counter
	PublishTotal    *prometheus.CounterVec
	StartupDuration *prometheus.GaugeVec
}

// New constructs and registers the collectors on a fresh registry.
func New() *DeviceMetrics {
	m := &DeviceMetrics{
		registry: prometheus.NewRegistry(),
		LoopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "loop_iterations_total",
			Help: "Control loop iterations",
		}),
		LoopOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "loop_overruns_total",
			Help: "Control loop iterations longer than the budget",
		}),
		LoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "loop_iteration_seconds",
			Help:    "Control loop iteration duration in seconds",
			Buckets: iterationBuckets,
		}),
		LoopDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "loop_posts_dropped",
			Help: "Callbacks dropped because the loop queue was full",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "samples_total",
			Help: "Valid sensor samples taken",
		}),
		SampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "sample_failures_total",
			Help: "Sensor reads that failed",
		}),
		BeatsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "beats_detected_total",
			Help: "Beats found by the detector",
		}),
		BeatsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "beats_accepted_total",
			Help: "Beat intervals folded into the rate estimate",
		}),
		BeatsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "beats_rejected_total",
				Help: "Beat intervals outside the plausibility band by reason",
			},
			[]string{"reason"},
		),
		RateExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "rate_expired_total",
			Help: "Rate estimates dropped for staleness",
		}),
		InstantBPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "bpm_instant",
			Help: "Instantaneous heart rate, 0 when no data",
		}),
		AverageBPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "bpm_average",
			Help: "Smoothed heart rate, 0 when no data",
		}),
		RateValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "rate_valid",
			Help: "1 while a rate estimate is available",
		}),
		SensorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_state",
				Help: "Sensor state, 1 for the current state",
			},
			[]string{"state"},
		),
		SensorInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_init_attempts_total",
				Help: "Sensor initialization attempts by result",
			},
			[]string{"result"},
		),
		AnimationPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "animation_phase",
				Help: "Animation phase, 1 for the current phase",
			},
			[]string{"phase"},
		),
		Sequences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "animation_sequences_total",
			Help: "Animation sequences started",
		}),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_total",
				Help: "Telemetry publications by sink and result",
			},
			[]string{"sink", "result"},
		),
		StartupDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "network_startup_seconds",
				Help: "Time taken to bring up each network service",
			},
			[]string{"service"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LoopIterations,
		m.LoopOverruns,
		m.LoopDuration,
		m.LoopDropped,
		m.Samples,
		m.SampleFailures,
		m.BeatsDetected,
		m.BeatsAccepted,
		m.BeatsRejected,
		m.RateExpired,
		m.InstantBPM,
		m.AverageBPM,
		m.RateValid,
		m.SensorState,
		m.SensorInits,
		m.AnimationPhase,
		m.Sequences,
		m.PublishTotal,
		m.StartupDuration,
	)
	return m
}

// Registry returns the registry holding the device collectors.
func (m *DeviceMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *DeviceMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIteration records one loop iteration.
func (m *DeviceMetrics) ObserveIteration(length time.Duration) {
	m.LoopIterations.Inc()
	m.LoopDuration.Observe(length.Seconds())
}

// SetRate publishes the current estimate.
func (m *DeviceMetrics) SetRate(instant, average float64, valid bool) {
	if !valid {
		m.InstantBPM.Set(0)
		m.AverageBPM.Set(0)
		m.RateValid.Set(0)
		return
	}
	m.InstantBPM.Set(instant)
	m.AverageBPM.Set(average)
	m.RateValid.Set(1)
}

// SetOneHot sets label value to 1 and the previous one to 0.
func SetOneHot(vec *prometheus.GaugeVec, previous, current string) {
	if previous != "" && previous != current {
		vec.WithLabelValues(previous).Set(0)
	}
	vec.WithLabelValues(current).Set(1)
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
