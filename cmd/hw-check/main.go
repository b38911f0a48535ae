// hw-check is a bench tool for verifying a wearable's hardware before the
// firmware runs on it. It can read raw samples from the pulse sensor, walk a
// color through the light strip and play one animation sequence.
//
// Usage:
//
//	hw-check [-config heartglow.cfg] [options]
//
// Options:
//
//	-config string     Device configuration file (defaults apply when empty)
//	-sim               Use the simulated sensor and log strip frames
//	-test string       Test to run: "sensor", "strip", "sequence", "all" (default: "all")
//	-samples int       Number of sensor samples to print (default: 20)
//	-timeout duration  Limit for the whole run (default: 30s)
//	-trace             Enable debug logging
//
// Examples:
//
//	# Check the sensor wiring
//	hw-check -test sensor -samples 100
//
//	# Check a strip without a sensor attached
//	hw-check -config ~/heartglow.cfg -test strip
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"heartglow/pkg/animation"
	"heartglow/pkg/app"
	"heartglow/pkg/config"
	"heartglow/pkg/led"
	hglog "heartglow/pkg/log"
	"heartglow/pkg/reactor"
)

func main() {
	configFile := flag.String("config", "", "Device configuration file")
	sim := flag.Bool("sim", false, "Use the simulated sensor and log strip frames")
	test := flag.String("test", "all", "Test to run: sensor, strip, sequence, all")
	samples := flag.Int("samples", 20, "Number of sensor samples to print")
	timeout := flag.Duration("timeout", 30*time.Second, "Limit for the whole run")
	trace := flag.Bool("trace", false, "Enable debug logging")
	flag.Parse()

	cfg := config.DefaultDevice()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadDevice(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
	}
	if *sim {
		cfg.Sensor.Driver = config.DriverSim
		cfg.Strip.Transport = config.TransportLog
	}

	level := "warn"
	if *trace {
		level = "debug"
	}
	logger := hglog.NewWriterLogger(zapcore.Lock(os.Stderr), level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var err error
	switch *test {
	case "sensor":
		err = testSensor(ctx, cfg, *samples)
	case "strip":
		err = testStrip(ctx, cfg, logger)
	case "sequence":
		err = testSequence(ctx, cfg, logger)
	case "all":
		err = testAll(ctx, cfg, *samples, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown test: %s\n", *test)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func testAll(ctx context.Context, cfg *config.DeviceConfig, samples int, logger *zap.Logger) error {
	if err := testSensor(ctx, cfg, samples); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if err := testStrip(ctx, cfg, logger); err != nil {
		return fmt.Errorf("strip: %w", err)
	}
	if err := testSequence(ctx, cfg, logger); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	return nil
}

// testSensor initializes the sensor once and prints raw readings at the
// configured loop rate.
func testSensor(ctx context.Context, cfg *config.DeviceConfig, samples int) error {
	fmt.Printf("=== Sensor test (%s) ===\n", cfg.Sensor.Driver)
	if cfg.Sensor.Driver == config.DriverMAX30102 {
		fmt.Printf("Bus: i2c-%d, address: 0x%02x\n", cfg.Sensor.I2C.Bus, cfg.Sensor.I2C.Address)
	}

	clock := reactor.NewSystemClock()
	drv := app.NewDriver(cfg.Sensor, clock)
	defer drv.Close()

	start := time.Now()
	if err := drv.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	fmt.Printf("Init OK in %v\n", time.Since(start).Round(time.Microsecond))

	var minIR, maxIR uint32
	failures := 0
	ticker := time.NewTicker(cfg.Loop.Yield)
	defer ticker.Stop()
	for i := 0; i < samples; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		ir, red, err := drv.Read()
		if err != nil {
			failures++
			fmt.Printf("  [%3d] read error: %v\n", i, err)
			continue
		}
		if i == 0 || ir < minIR {
			minIR = ir
		}
		if ir > maxIR {
			maxIR = ir
		}
		fmt.Printf("  [%3d] t=%.3f ir=%6d red=%6d\n", i, clock.Monotonic(), ir, red)
	}

	fmt.Printf("IR range: %d..%d (swing %d), failures: %d/%d\n",
		minIR, maxIR, maxIR-minIR, failures, samples)
	if failures == samples {
		return fmt.Errorf("no sample could be read")
	}
	if maxIR < cfg.Beat.MinIR {
		fmt.Printf("WARNING: IR below %d, is a finger on the sensor?\n", cfg.Beat.MinIR)
	}
	return nil
}

// testStrip lights each element in turn with red, green then blue so that
// the wiring and the color order can be checked by eye.
func testStrip(ctx context.Context, cfg *config.DeviceConfig, logger *zap.Logger) error {
	fmt.Printf("=== Strip test (%s, %d elements, %s) ===\n",
		cfg.Strip.Transport, cfg.Strip.ChainCount, cfg.Strip.ColorOrder)
	strip, err := led.NewStrip(cfg.Strip.Config, app.NewTransport(cfg.Strip, logger), logger)
	if err != nil {
		return err
	}
	defer strip.Close()

	walk := []struct {
		name  string
		color led.Color
	}{
		{"red", led.Color{R: 64}},
		{"green", led.Color{G: 64}},
		{"blue", led.Color{B: 64}},
	}
	colors := make([]led.Color, strip.Len())
	for _, w := range walk {
		fmt.Printf("Walking %s\n", w.name)
		for i := range colors {
			clear(colors)
			colors[i] = w.color
			if err := strip.Show(colors); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(150 * time.Millisecond):
			}
		}
	}
	clear(colors)
	if err := strip.Show(colors); err != nil {
		return err
	}
	fmt.Printf("Frames sent: %d\n", strip.Frames())
	return nil
}

// testSequence plays one full animation sequence in real time.
func testSequence(ctx context.Context, cfg *config.DeviceConfig, logger *zap.Logger) error {
	fmt.Println("=== Sequence test ===")
	strip, err := led.NewStrip(cfg.Strip.Config, app.NewTransport(cfg.Strip, logger), logger)
	if err != nil {
		return err
	}
	defer strip.Close()
	engine, err := animation.NewEngine(cfg.Animation, strip, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	engine.OnPhaseChange(func(from, to animation.Phase) {
		fmt.Printf("  %7.3fs %s -> %s\n", time.Since(start).Seconds(), from, to)
	})

	clock := reactor.NewSystemClock()
	engine.Tick(clock.Monotonic(), true)
	for engine.Phase() != animation.PhaseIdle {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Loop.Yield):
		}
		engine.Tick(clock.Monotonic(), false)
	}

	st := engine.Stats()
	fmt.Printf("Sequence took %v, frames: %d, show errors: %d\n",
		time.Since(start).Round(time.Millisecond), st.Frames, st.ShowErrors)
	return nil
}
