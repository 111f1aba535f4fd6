package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/servoctl/internal/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Operating modes
const (
	ModeLocal  = "local"  // sensor, controller and actuator co-located
	ModeClient = "client" // sensing/actuating node, dials the server
	ModeServer = "server" // controlling node, listens for one client
)

const (
	DefaultLogLevel = "info"

	defaultInterval        = 10   // ms
	defaultReferenceRPM    = 2000 // rpm
	defaultReferencePeriod = 4000 // ms
	defaultKp              = 1000
	defaultKi              = 50
	defaultControlMax      = 1<<30 - 1
	defaultResolution      = 44 // quadrature counts per revolution
	defaultFilterNum       = 1
	defaultFilterDen       = 10
	defaultPort            = 5000
	defaultBackoff         = 500 // ms
	defaultBaudRate        = 115200
	defaultTelemetryDB     = "/var/lib/servoctl/telemetry.db"
)

type Config struct {
	Mode             string `mapstructure:"mode"`
	Monitor          bool   `mapstructure:"monitor"`
	Interval         int    `mapstructure:"interval"`
	ReferenceRPM     int    `mapstructure:"reference"`
	ReferencePeriod  int    `mapstructure:"reference_period"`
	Kp               int64  `mapstructure:"kp"`
	Ki               int64  `mapstructure:"ki"`
	ControlMax       int32  `mapstructure:"control_max"`
	Resolution       int    `mapstructure:"resolution"`
	FilterNum        int    `mapstructure:"filter_num"`
	FilterDen        int    `mapstructure:"filter_den"`
	ServerAddress    string `mapstructure:"server_address"`
	Port             int    `mapstructure:"port"`
	Backoff          int    `mapstructure:"backoff"`
	ResetOnReconnect bool   `mapstructure:"reset_on_reconnect"`
	SerialDevice     string `mapstructure:"serial_device"`
	BaudRate         int    `mapstructure:"baud_rate"`
	LogLevel         string `mapstructure:"log_level"`
	Telemetry        bool   `mapstructure:"telemetry"`
	TelemetryDB      string `mapstructure:"database"`
}

func Load() (*Config, error) {
	errFactory := errors.New()
	config := &Config{}

	fs := pflag.NewFlagSet("servoctl", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("mode", ModeLocal, "Operating mode: local, client or server")
	fs.Bool("monitor", false, "Observe the motor without actuating (local mode)")
	fs.Int("interval", defaultInterval, "Control tick period in milliseconds")
	fs.Int("reference", defaultReferenceRPM, "Reference velocity amplitude in RPM")
	fs.Int("reference-period", defaultReferencePeriod, "Reference square wave half-period in milliseconds")
	fs.Int64("kp", defaultKp, "Proportional gain in control units per RPM")
	fs.Int64("ki", defaultKi, "Integral gain in control units per RPM-second")
	fs.Int("resolution", defaultResolution, "Encoder counts per revolution")
	fs.String("server-address", "", "Controlling node address (client mode)")
	fs.Int("port", defaultPort, "TCP port of the controlling node")
	fs.String("serial-device", "", "Serial device of the motor board (empty: simulated motor)")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	fs.Bool("telemetry", false, "Enable telemetry collection")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("mode", ModeLocal)
	v.SetDefault("monitor", false)
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("reference", defaultReferenceRPM)
	v.SetDefault("reference_period", defaultReferencePeriod)
	v.SetDefault("kp", defaultKp)
	v.SetDefault("ki", defaultKi)
	v.SetDefault("control_max", defaultControlMax)
	v.SetDefault("resolution", defaultResolution)
	v.SetDefault("filter_num", defaultFilterNum)
	v.SetDefault("filter_den", defaultFilterDen)
	v.SetDefault("server_address", "")
	v.SetDefault("port", defaultPort)
	v.SetDefault("backoff", defaultBackoff)
	v.SetDefault("reset_on_reconnect", true)
	v.SetDefault("serial_device", "")
	v.SetDefault("baud_rate", defaultBaudRate)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultTelemetryDB)

	if path := os.Getenv("SERVOCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("servoctl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}
	v.SetEnvPrefix("SERVOCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Command line flags override file and environment values
	fs.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.Mode {
	case ModeLocal, ModeClient, ModeServer:
	default:
		return errFactory.WithData(errors.ErrInvalidMode, c.Mode)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Resolution <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "resolution must be positive")
	}

	if c.FilterDen <= 0 || c.FilterNum < 0 || c.FilterNum > c.FilterDen {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "filter weights out of range")
	}

	if c.ControlMax <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "control_max must be positive")
	}

	if c.Mode == ModeClient && c.ServerAddress == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "client mode requires server_address")
	}

	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "telemetry requires a database path")
	}

	return nil
}

// ControlMin returns the lower bound of the symmetric control range.
func (c *Config) ControlMin() int32 {
	return -c.ControlMax - 1
}
