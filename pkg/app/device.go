// Device application context
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package app assembles the device: it owns every core component and
// drives them from one control loop.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"heartglow/pkg/animation"
	"heartglow/pkg/config"
	"heartglow/pkg/led"
	"heartglow/pkg/metrics"
	"heartglow/pkg/pulse"
	"heartglow/pkg/rate"
	"heartglow/pkg/reactor"
	"heartglow/pkg/sensor"
	"heartglow/pkg/supervisor"
	"heartglow/pkg/telemetry"
)

const statusInterval = 1.0

// Options supplies collaborators that would otherwise be built from the
// configuration. Zero values select the configured hardware.
type Options struct {
	Clock      reactor.Clock
	Driver     sensor.Driver
	Transport  led.Transport
	Publishers []telemetry.Publisher
	Metrics    *metrics.DeviceMetrics
	Logger     *zap.Logger
}

// Device is the application context. All core state is owned here and
// touched only from the loop goroutine; network goroutines read the
// telemetry store or post callbacks into the loop.
type Device struct {
	cfg     *config.DeviceConfig
	logger  *zap.Logger
	metrics *metrics.DeviceMetrics

	reactor    *reactor.Reactor
	driver     sensor.Driver
	supervisor *supervisor.Supervisor
	source     *sensor.Source
	detector   *pulse.Detector
	estimator  *rate.Estimator
	engine     *animation.Engine
	trigger    animation.Trigger
	strip      *led.Strip

	store      *telemetry.Store
	hub        *telemetry.Hub
	server     *telemetry.Server
	publishers []telemetry.Publisher
	pump       *telemetry.Pump

	boot    float64
	network string

	// per iteration
	sample    sensor.RawSample
	hasSample bool
	detected  bool
	accepted  bool
	manual    bool

	sourceStats sensor.Stats
	rateStats   rate.Stats
}

// New builds a device from cfg. Only configuration errors are returned;
// missing hardware is handled at run time.
func New(cfg *config.DeviceConfig, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = reactor.NewSystemClock()
	}

	d := &Device{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		reactor:    reactor.New(clock, cfg.Loop, logger.Named("reactor")),
		trigger:    cfg.Trigger,
		store:      telemetry.NewStore(),
		publishers: opts.Publishers,
		network:    "disabled",
	}
	d.boot = d.reactor.Monotonic()

	d.driver = opts.Driver
	if d.driver == nil {
		d.driver = NewDriver(cfg.Sensor, clock)
	}
	supCfg := cfg.Supervisor
	supCfg.EnableAt = d.boot + cfg.SensorEnableDelay
	d.supervisor = supervisor.New(d.driver, supCfg, logger.Named("supervisor"))
	d.source = sensor.NewSource(d.driver, d.supervisor, logger.Named("source"))

	var err error
	if d.detector, err = pulse.NewDetector(cfg.Beat); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if d.estimator, err = rate.NewEstimator(cfg.Rate); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		transport = NewTransport(cfg.Strip, logger)
	}
	if d.strip, err = led.NewStrip(cfg.Strip.Config, transport, logger.Named("strip")); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if d.engine, err = animation.NewEngine(cfg.Animation, d.strip, logger.Named("animation")); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if cfg.Network.Enabled {
		d.hub = telemetry.NewHub(d.store, logger.Named("ws"))
		d.server = telemetry.NewServer(cfg.Network.Server, d.store, d.hub, m.Handler(), d.Trigger, logger.Named("server"))
		if d.publishers == nil {
			d.publishers = newPublishers(cfg.Network)
		}
	}

	d.wireMetrics()
	d.reactor.RegisterStep("sensor", d.sensorStep)
	d.reactor.RegisterStep("animation", d.animationStep)
	d.reactor.RegisterTimer(d.statusTimer, d.boot)
	return d, nil
}

func (d *Device) wireMetrics() {
	m := d.metrics
	d.reactor.OnIterate(m.ObserveIteration)
	d.reactor.OnOverrun(func(length time.Duration) {
		m.LoopOverruns.Inc()
		d.logger.Warn("loop iteration over budget",
			zap.Duration("length", length),
			zap.Duration("budget", d.cfg.Loop.Budget))
	})

	metrics.SetOneHot(m.SensorState, "", d.supervisor.State().String())
	d.supervisor.OnStateChange(func(from, to supervisor.State) {
		metrics.SetOneHot(m.SensorState, from.String(), to.String())
	})
	d.supervisor.OnAttempt(func(err error) {
		m.SensorInits.WithLabelValues(metrics.Result(err)).Inc()
	})

	metrics.SetOneHot(m.AnimationPhase, "", d.engine.Phase().String())
	d.engine.OnPhaseChange(func(from, to animation.Phase) {
		metrics.SetOneHot(m.AnimationPhase, from.String(), to.String())
		if to == animation.PhaseSmallSweep {
			m.Sequences.Inc()
		}
	})
}

// sensorStep drives the supervisor, polls one sample and feeds the
// biosignal pipeline.
func (d *Device) sensorStep(now float64) {
	d.detected, d.accepted = false, false
	d.supervisor.Tick(now)

	d.sample, d.hasSample = d.source.Poll(now)
	d.countSource()
	if d.hasSample {
		if ev, ok := d.detector.Observe(d.sample); ok {
			d.detected = true
			d.metrics.BeatsDetected.Inc()
			_, d.accepted = d.estimator.Observe(ev)
			d.countRate()
		}
	}
	if d.estimator.Expire(now) {
		d.metrics.RateExpired.Inc()
		d.logger.Info("heart rate estimate expired")
	}

	est := d.estimator.Estimate()
	d.metrics.SetRate(est.Instant, est.Smoothed, est.Valid)
	d.store.Publish(telemetry.NewSnapshot(d.source.Last(), est, d.detected))
}

func (d *Device) countSource() {
	st := d.source.Stats()
	if n := st.Samples - d.sourceStats.Samples; n > 0 {
		d.metrics.Samples.Add(float64(n))
	}
	if n := st.Failures - d.sourceStats.Failures; n > 0 {
		d.metrics.SampleFailures.Add(float64(n))
	}
	d.sourceStats = st
}

func (d *Device) countRate() {
	st := d.estimator.Stats()
	if st.Accepted > d.rateStats.Accepted {
		d.metrics.BeatsAccepted.Inc()
	}
	if st.TooFast > d.rateStats.TooFast {
		d.metrics.BeatsRejected.WithLabelValues(metrics.ReasonTooFast).Inc()
	}
	if st.TooSlow > d.rateStats.TooSlow {
		d.metrics.BeatsRejected.WithLabelValues(metrics.ReasonTooSlow).Inc()
	}
	if err := d.estimator.LastRejection(); err != nil && st != d.rateStats {
		d.logger.Debug("beat interval rejected", zap.Error(err))
	}
	d.rateStats = st
}

// animationStep advances the animation by at most one rendering step.
func (d *Device) animationStep(now float64) {
	est := d.estimator.Estimate()
	fire := d.trigger.Fire(animation.TriggerInput{
		Beat:      d.accepted,
		HasSample: d.hasSample,
		IR:        d.sample.IR,
		RateValid: est.Valid,
		RateBPM:   est.Smoothed,
		Manual:    d.manual,
	})
	d.manual = false
	d.engine.Tick(now, fire)
}

func (d *Device) statusTimer(now float64) float64 {
	d.store.SetStatus(telemetry.Status{
		Sensor:    d.supervisor.State().String(),
		Animation: d.engine.Phase().String(),
		Network:   d.network,
		Uptime:    now - d.boot,
	})
	d.metrics.LoopDropped.Set(float64(d.reactor.Stats().Dropped))
	return now + statusInterval
}

// Trigger requests an animation sequence from any goroutine. It returns
// false when the loop queue is full.
func (d *Device) Trigger() bool {
	return d.reactor.Post(func(float64) { d.manual = true })
}

// RunOnce runs a single loop iteration. It is meant for tests and bench
// tools driving the device with a manual clock.
func (d *Device) RunOnce() float64 {
	return d.reactor.RunOnce()
}

// Run starts the network services, then runs the control loop until ctx
// is cancelled, then shuts everything down.
func (d *Device) Run(ctx context.Context) error {
	netCtx, stopNetwork := context.WithCancel(ctx)
	defer stopNetwork()

	d.startNetwork(netCtx)
	var pumps errgroup.Group
	if d.pump != nil {
		pumps.Go(func() error {
			d.pump.Run(netCtx)
			return nil
		})
	}

	err := d.reactor.Run(ctx)
	stopNetwork()
	// Publishers are closed only once no publication is in flight.
	_ = pumps.Wait()
	d.shutdown()
	return err
}

func (d *Device) shutdown() {
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn("debug server shutdown", zap.Error(err))
		}
		cancel()
	}
	if d.pump != nil {
		d.pump.Close()
	}
	d.Close()
}

// Close blanks the strip and releases the hardware.
func (d *Device) Close() {
	if err := d.strip.Close(); err != nil {
		d.logger.Warn("strip close", zap.Error(err))
	}
	if err := d.driver.Close(); err != nil {
		d.logger.Warn("sensor close", zap.Error(err))
	}
}

// Store returns the telemetry store.
func (d *Device) Store() *telemetry.Store { return d.store }

// Metrics returns the device metrics.
func (d *Device) Metrics() *metrics.DeviceMetrics { return d.metrics }

// Estimate returns the current rate estimate.
func (d *Device) Estimate() rate.Estimate { return d.estimator.Estimate() }

// SensorState returns the supervisor state.
func (d *Device) SensorState() supervisor.State { return d.supervisor.State() }

// Phase returns the animation phase.
func (d *Device) Phase() animation.Phase { return d.engine.Phase() }

// Strip returns the light element chain.
func (d *Device) Strip() *led.Strip { return d.strip }

// StepNames returns the loop steps in execution order.
func (d *Device) StepNames() []string { return d.reactor.StepNames() }
