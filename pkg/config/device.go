package config

import (
	"fmt"
	"time"

	"heartglow/pkg/animation"
	"heartglow/pkg/i2c"
	"heartglow/pkg/led"
	"heartglow/pkg/pulse"
	"heartglow/pkg/rate"
	"heartglow/pkg/reactor"
	"heartglow/pkg/sensor"
	"heartglow/pkg/supervisor"
	"heartglow/pkg/telemetry"
)

// Sensor drivers
const (
	DriverMAX30102 = "max30102"
	DriverSim      = "sim"
)

// Strip transports
const (
	TransportSPI = "spi"
	TransportLog = "log"
)

// DeviceConfig is the typed device configuration.
type DeviceConfig struct {
	Name      string
	LogLevel  string
	LogFormat string
	LogFile     string
	LogFileMB   int
	LogKeep     int
	LogCompress bool

	Loop              reactor.Config
	StartupTimeout    time.Duration
	SensorEnableDelay float64

	Sensor     SensorConfig
	Supervisor supervisor.Config
	Beat       pulse.Config
	Rate       rate.Config
	Animation  animation.Config
	Trigger    animation.Trigger
	Strip      StripConfig
	Network    NetworkConfig
}

// SensorConfig selects and configures the sample driver.
type SensorConfig struct {
	Driver   string
	I2C      i2c.Config
	MAX30102 sensor.MAX30102Config
	Sim      sensor.SimConfig
}

// StripConfig configures the light element chain and its transport.
type StripConfig struct {
	led.Config
	Transport string
	SPIDevice string
}

// NetworkConfig holds the debug server and the optional publishers. A nil
// publisher config means that publisher is disabled.
type NetworkConfig struct {
	Enabled bool
	Server  telemetry.ServerConfig
	Pump    telemetry.PumpConfig

	MQTT  *telemetry.MQTTConfig
	NATS  *telemetry.NATSConfig
	Redis *telemetry.RedisConfig
}

// LoadDevice loads and parses a device configuration file. Unknown options
// are an error.
func LoadDevice(path string) (*DeviceConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	dc, err := ParseDevice(c)
	if err != nil {
		return nil, err
	}
	if err := c.CheckUnused(); err != nil {
		return nil, err
	}
	return dc, nil
}

// DefaultDevice returns the configuration of an empty file.
func DefaultDevice() *DeviceConfig {
	dc, err := ParseDevice(New())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return dc
}

// ParseDevice builds a DeviceConfig. Missing sections and options take
// their defaults.
func ParseDevice(c *Config) (*DeviceConfig, error) {
	dc := &DeviceConfig{}
	parsers := []func(*Config, *DeviceConfig) error{
		parseDeviceSection,
		parseSensor,
		parseBeat,
		parseRate,
		parseStrip,
		parseAnimation, // needs the chain length
		parseNetwork,
	}
	for _, parse := range parsers {
		if err := parse(c, dc); err != nil {
			return nil, err
		}
	}
	return dc, nil
}

func parseDeviceSection(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("device")
	var err error
	if dc.Name, err = s.String("name", "heartglow"); err != nil {
		return err
	}
	if dc.LogLevel, err = s.Choice("log_level", []string{"debug", "info", "warn", "error"}, "info"); err != nil {
		return err
	}
	if dc.LogFormat, err = s.Choice("log_format", []string{"json", "console"}, "json"); err != nil {
		return err
	}
	if dc.LogFile, err = s.String("log_file", ""); err != nil {
		return err
	}
	if dc.LogFileMB, err = s.IntRange("log_file_mb", 1, 64, 1); err != nil {
		return err
	}
	if dc.LogKeep, err = s.IntRange("log_backups", 1, 16, 2); err != nil {
		return err
	}
	if dc.LogCompress, err = s.Bool("log_compress", false); err != nil {
		return err
	}

	loop := reactor.DefaultConfig()
	if loop.Yield, err = s.Duration("loop_yield", loop.Yield); err != nil {
		return err
	}
	if loop.Budget, err = s.Duration("loop_budget", loop.Budget); err != nil {
		return err
	}
	if loop.QueueSize, err = s.IntRange("queue_size", 1, 4096, loop.QueueSize); err != nil {
		return err
	}
	dc.Loop = loop

	if dc.StartupTimeout, err = s.Duration("startup_timeout", 5*time.Second); err != nil {
		return err
	}
	dc.SensorEnableDelay, err = s.FloatWithBounds("sensor_enable_delay", FloatBounds{MinVal: Bound(0)}, 1.0)
	return err
}

func parseSensor(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("sensor")
	var err error
	sc := SensorConfig{
		MAX30102: sensor.DefaultMAX30102Config(),
		Sim:      sensor.DefaultSimConfig(),
	}
	if sc.Driver, err = s.Choice("driver", []string{DriverMAX30102, DriverSim}, DriverMAX30102); err != nil {
		return err
	}
	if sc.I2C.Bus, err = s.IntRange("i2c_bus", 0, 255, 1); err != nil {
		return err
	}
	addr, err := s.IntRange("i2c_address", 0x03, 0x77, sensor.MAX30102Address)
	if err != nil {
		return err
	}
	sc.I2C.Address = uint16(addr)

	m := &sc.MAX30102
	if m.SampleRate, err = s.Int("sample_rate", m.SampleRate); err != nil {
		return err
	}
	if m.Averaging, err = s.Int("averaging", m.Averaging); err != nil {
		return err
	}
	if err := byteOption(s, "pulse_width", 0, 3, &m.PulseWidth); err != nil {
		return err
	}
	if err := byteOption(s, "adc_range", 0, 3, &m.ADCRange); err != nil {
		return err
	}
	if err := byteOption(s, "led_red", 0, 255, &m.RedAmplitude); err != nil {
		return err
	}
	if err := byteOption(s, "led_ir", 0, 255, &m.IRAmplitude); err != nil {
		return err
	}
	if sc.Driver == DriverMAX30102 {
		if err := m.Validate(); err != nil {
			return NewConfigError("sensor", "", err.Error())
		}
	}

	sim := &sc.Sim
	if sim.BPM, err = s.FloatWithBounds("sim_bpm", FloatBounds{Above: Bound(0)}, sim.BPM); err != nil {
		return err
	}
	if sim.Amplitude, err = s.FloatWithBounds("sim_amplitude", FloatBounds{MinVal: Bound(0)}, sim.Amplitude); err != nil {
		return err
	}
	if sim.Noise, err = s.FloatWithBounds("sim_noise", FloatBounds{MinVal: Bound(0)}, sim.Noise); err != nil {
		return err
	}
	seed, err := s.Int("sim_seed", int(sim.Seed))
	if err != nil {
		return err
	}
	sim.Seed = uint64(seed)
	dc.Sensor = sc

	dc.Supervisor = supervisor.DefaultConfig()
	dc.Supervisor.Backoff, err = s.FloatWithBounds("retry_backoff", FloatBounds{Above: Bound(0)}, dc.Supervisor.Backoff)
	return err
}

func byteOption(s *Section, option string, minVal, maxVal int, dst *byte) error {
	v, err := s.IntRange(option, minVal, maxVal, int(*dst))
	if err != nil {
		return err
	}
	*dst = byte(v)
	return nil
}

func parseBeat(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("beat")
	b := pulse.DefaultConfig()
	var err error
	if b.Window, err = s.FloatWithBounds("window", FloatBounds{Above: Bound(0), MaxVal: Bound(10)}, b.Window); err != nil {
		return err
	}
	if b.Ratio, err = s.FloatWithBounds("threshold_ratio", FloatBounds{MinVal: Bound(0), Below: Bound(1)}, b.Ratio); err != nil {
		return err
	}
	if b.MinAmplitude, err = s.FloatWithBounds("min_amplitude", FloatBounds{MinVal: Bound(0)}, b.MinAmplitude); err != nil {
		return err
	}
	minIR, err := s.IntRange("min_ir", 0, 1<<18, int(b.MinIR))
	if err != nil {
		return err
	}
	b.MinIR = uint32(minIR)
	if b.Refractory, err = s.FloatWithBounds("refractory", FloatBounds{MinVal: Bound(0)}, b.Refractory); err != nil {
		return err
	}
	if b.MaxGap, err = s.FloatWithBounds("max_gap", FloatBounds{Above: Bound(0)}, b.MaxGap); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return NewConfigError("beat", "", err.Error())
	}
	dc.Beat = b
	return nil
}

func parseRate(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("rate")
	r := rate.DefaultConfig()
	var err error
	if r.MinBPM, err = s.FloatWithBounds("min_bpm", FloatBounds{Above: Bound(0)}, r.MinBPM); err != nil {
		return err
	}
	if r.MaxBPM, err = s.FloatWithBounds("max_bpm", FloatBounds{Above: Bound(r.MinBPM)}, r.MaxBPM); err != nil {
		return err
	}
	if r.Alpha, err = s.FloatWithBounds("alpha", FloatBounds{Above: Bound(0), Below: Bound(1)}, r.Alpha); err != nil {
		return err
	}
	if r.StaleBeats, err = s.FloatWithBounds("stale_beats", FloatBounds{Above: Bound(0)}, r.StaleBeats); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return NewConfigError("rate", "", err.Error())
	}
	// A refractory period longer than one beat at max_bpm would halve fast
	// rhythms into plausible readings.
	if dc.Beat.MaxRate() <= r.MaxBPM {
		return NewConfigError("beat", "refractory",
			fmt.Sprintf("%gs must be below %.3fs, one beat at max_bpm %g", dc.Beat.Refractory, 60/r.MaxBPM, r.MaxBPM))
	}
	dc.Rate = r
	return nil
}

func parseStrip(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("strip")
	sc := StripConfig{Config: led.DefaultConfig()}
	var err error
	if sc.ChainCount, err = s.IntRange("chain_count", 1, 500, sc.ChainCount); err != nil {
		return err
	}
	if sc.ColorOrder, err = s.Choice("color_order", []string{"RGB", "RBG", "GRB", "GBR", "BRG", "BGR"}, sc.ColorOrder); err != nil {
		return err
	}
	if sc.Transport, err = s.Choice("transport", []string{TransportSPI, TransportLog}, TransportSPI); err != nil {
		return err
	}
	if sc.SPIDevice, err = s.String("spi_device", "/dev/spidev0.0"); err != nil {
		return err
	}
	dc.Strip = sc
	return nil
}

func parseAnimation(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("animation")
	n := dc.Strip.ChainCount
	a := animation.DefaultConfig()
	a.ChainLength = n
	var err error

	if a.SmallCount, err = s.IntRange("small_count", 1, n, min(a.SmallCount, n)); err != nil {
		return err
	}
	if a.MediumCount, err = s.IntRange("medium_count", 1, n, min(a.MediumCount, n)); err != nil {
		return err
	}
	if a.BigCount, err = s.IntRange("big_count", 1, n, n); err != nil {
		return err
	}
	path, err := s.IntList("path", animation.LinearPath(n))
	if err != nil {
		return err
	}
	a.Path = path

	if a.SmallColor, err = s.Color("small_color", a.SmallColor); err != nil {
		return err
	}
	if a.MediumColor, err = s.Color("medium_color", a.MediumColor); err != nil {
		return err
	}
	if a.BigColor, err = s.Color("big_color", a.BigColor); err != nil {
		return err
	}
	positive := FloatBounds{Above: Bound(0)}
	if a.StepInterval, err = s.FloatWithBounds("step_interval", positive, a.StepInterval); err != nil {
		return err
	}
	if a.Pause, err = s.FloatWithBounds("pause", FloatBounds{MinVal: Bound(0)}, a.Pause); err != nil {
		return err
	}
	if a.FadeInterval, err = s.FloatWithBounds("fade_interval", positive, a.FadeInterval); err != nil {
		return err
	}
	if a.FadeFactor, err = s.FloatWithBounds("fade_factor", FloatBounds{MinVal: Bound(0), Below: Bound(1)}, a.FadeFactor); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return NewConfigError("animation", "", err.Error())
	}
	dc.Animation = a

	policy, err := s.Choice("trigger", []string{
		string(animation.TriggerBeat), string(animation.TriggerRaw), string(animation.TriggerRate),
	}, string(animation.TriggerBeat))
	if err != nil {
		return err
	}
	dc.Trigger.Policy = animation.TriggerPolicy(policy)
	rawThreshold, err := s.IntRange("raw_threshold", 0, 1<<18, 120000)
	if err != nil {
		return err
	}
	dc.Trigger.RawThreshold = uint32(rawThreshold)
	dc.Trigger.RateThreshold, err = s.FloatWithBounds("rate_threshold", FloatBounds{MinVal: Bound(0)}, 100)
	return err
}

func parseNetwork(c *Config, dc *DeviceConfig) error {
	s := c.SectionOptional("network")
	nc := NetworkConfig{
		Server: telemetry.DefaultServerConfig(),
		Pump:   telemetry.DefaultPumpConfig(),
	}
	nc.Pump.Device = dc.Name
	var err error
	if nc.Enabled, err = s.Bool("enabled", true); err != nil {
		return err
	}
	if nc.Server.Address, err = s.String("listen", nc.Server.Address); err != nil {
		return err
	}
	if nc.Server.Username, err = s.String("username", ""); err != nil {
		return err
	}
	if nc.Server.Password, err = s.String("password", ""); err != nil {
		return err
	}
	if (nc.Server.Username == "") != (nc.Server.Password == "") {
		return NewConfigError("network", "password", "username and password must be set together")
	}
	if nc.Pump.Interval, err = s.Duration("publish_interval", nc.Pump.Interval); err != nil {
		return err
	}
	if nc.Pump.Interval <= 0 {
		return NewConfigError("network", "publish_interval", "must be above 0")
	}
	if nc.Pump.Timeout, err = s.Duration("publish_timeout", nc.Pump.Timeout); err != nil {
		return err
	}

	if s := c.SectionOptional("mqtt"); s != nil {
		m := &telemetry.MQTTConfig{}
		if m.Broker, err = s.String("broker"); err != nil {
			return err
		}
		if m.ClientID, err = s.String("client_id", dc.Name); err != nil {
			return err
		}
		if m.Username, err = s.String("username", ""); err != nil {
			return err
		}
		if m.Password, err = s.String("password", ""); err != nil {
			return err
		}
		if m.Topic, err = s.String("topic", dc.Name+"/state"); err != nil {
			return err
		}
		if err := byteOption(s, "qos", 0, 2, &m.QoS); err != nil {
			return err
		}
		if m.Retained, err = s.Bool("retained", true); err != nil {
			return err
		}
		nc.MQTT = m
	}

	if s := c.SectionOptional("nats"); s != nil {
		n := &telemetry.NATSConfig{}
		if n.URL, err = s.String("url"); err != nil {
			return err
		}
		if n.Name, err = s.String("name", dc.Name); err != nil {
			return err
		}
		if n.Subject, err = s.String("subject", dc.Name+".state"); err != nil {
			return err
		}
		nc.NATS = n
	}

	if s := c.SectionOptional("redis"); s != nil {
		r := &telemetry.RedisConfig{}
		if r.Addr, err = s.String("addr"); err != nil {
			return err
		}
		if r.Password, err = s.String("password", ""); err != nil {
			return err
		}
		if r.DB, err = s.IntRange("db", 0, 15, 0); err != nil {
			return err
		}
		if r.Key, err = s.String("key", dc.Name+":state"); err != nil {
			return err
		}
		if r.Stream, err = s.String("stream", ""); err != nil {
			return err
		}
		streamLen, err := s.IntRange("stream_len", 0, 1<<20, 1000)
		if err != nil {
			return err
		}
		r.StreamLen = int64(streamLen)
		nc.Redis = r
	}

	dc.Network = nc
	return nil
}
